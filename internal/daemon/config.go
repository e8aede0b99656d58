package daemon

import (
	"fmt"
	"time"
)

// Config defines the daemon's tick loop and control inbox
type Config struct {
	// How often the registered jobs are reevaluated
	TickInterval time.Duration `toml:"tick_interval"`

	// IANA zone name schedules are evaluated in; empty means local time
	Timezone string `toml:"timezone"`

	// Inbox buffer size
	InboxBufferSize int `toml:"inbox_buffer_size"`

	// Timeout for sending control messages to the inbox
	InboxSendTimeout time.Duration `toml:"inbox_send_timeout"`
}

// DefaultConfig returns daemon configuration defaults. The one-minute tick
// matches cron granularity: a fixed-time slot is picked up within a minute
// of coming due.
func DefaultConfig() Config {
	return Config{
		TickInterval:     time.Minute,
		Timezone:         "",
		InboxBufferSize:  64,
		InboxSendTimeout: 5 * time.Second,
	}
}

// Validate returns an error if the configuration is invalid
func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %v", c.TickInterval)
	}
	if c.InboxBufferSize <= 0 {
		return fmt.Errorf("inbox_buffer_size must be positive, got %d", c.InboxBufferSize)
	}
	if c.InboxSendTimeout <= 0 {
		return fmt.Errorf("inbox_send_timeout must be positive, got %v", c.InboxSendTimeout)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	return nil
}
