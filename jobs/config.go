// Package jobs ships the built-in maintenance jobs: run-log retention and a
// failure-streak monitor. Both are ordinary rota.Job implementations,
// registered and scheduled like application jobs.
package jobs

import (
	"fmt"
	"log/slog"

	"github.com/ralcott/rota"
)

// Config defines which maintenance jobs run and how often
type Config struct {
	// Days of run history to keep; zero disables the retention job
	RetentionDays int `toml:"retention_days"`

	// Interval for the retention job
	RetentionEveryMins int `toml:"retention_every_mins"`

	// Failure streak length that triggers a warning; zero disables the monitor
	FailedRunsThreshold int `toml:"failed_runs_threshold"`

	// Interval for the failure monitor
	FailedRunsEveryMins int `toml:"failed_runs_every_mins"`
}

// DefaultConfig returns maintenance defaults. Both jobs start disabled;
// enabling one only needs retention_days or failed_runs_threshold set.
func DefaultConfig() Config {
	return Config{
		RetentionDays:       0,
		RetentionEveryMins:  24 * 60,
		FailedRunsThreshold: 0,
		FailedRunsEveryMins: 60,
	}
}

// Validate returns an error if the configuration is invalid
func (c Config) Validate() error {
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative, got %d", c.RetentionDays)
	}
	if c.RetentionEveryMins < 0 {
		return fmt.Errorf("retention_every_mins must not be negative, got %d", c.RetentionEveryMins)
	}
	if c.FailedRunsThreshold < 0 {
		return fmt.Errorf("failed_runs_threshold must not be negative, got %d", c.FailedRunsThreshold)
	}
	if c.FailedRunsEveryMins < 0 {
		return fmt.Errorf("failed_runs_every_mins must not be negative, got %d", c.FailedRunsEveryMins)
	}
	if c.RetentionDays > 0 && c.RetentionEveryMins == 0 {
		return fmt.Errorf("retention_days is set but retention_every_mins is zero")
	}
	if c.FailedRunsThreshold > 0 && c.FailedRunsEveryMins == 0 {
		return fmt.Errorf("failed_runs_threshold is set but failed_runs_every_mins is zero")
	}
	return nil
}

// Store is the slice of the run-log store the maintenance jobs read and
// prune. The sqlx-backed run log satisfies it.
type Store interface {
	Purger
	StreakReader
}

// Register adds the maintenance jobs cfg enables to reg. The failure monitor
// watches the codes already registered in reg, so call this after the
// application jobs are in.
func Register(reg *rota.Registry, cfg Config, store Store, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.RetentionDays > 0 {
		if err := reg.Register(NewLogRetention(store, cfg)); err != nil {
			return err
		}
	}
	if cfg.FailedRunsThreshold > 0 {
		if err := reg.Register(NewFailureMonitor(store, reg, cfg, logger)); err != nil {
			return err
		}
	}
	return nil
}
