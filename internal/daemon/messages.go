package daemon

import (
	"time"
)

// Message is the container for control messages sent to the daemon loop
type Message struct {
	Type MessageType

	// Code is the job code a force-run targets
	Code string

	// Reply receives the response when the sender wants one. Replies are
	// sent without blocking, so use a buffered channel.
	Reply chan<- interface{}
}

// MessageType identifies the type of control message
type MessageType int

const (
	MsgForceRun MessageType = iota
	MsgStatus
)

// String returns a human-readable representation of the message type
func (m MessageType) String() string {
	switch m {
	case MsgForceRun:
		return "force_run"
	case MsgStatus:
		return "status"
	default:
		return "unknown"
	}
}

// ForceRunResult is the reply to a force-run request. Err covers control
// failures (unknown code, daemon stopped); the run outcome itself lands in
// the run log.
type ForceRunResult struct {
	Err error
}

// TickStats summarizes one pass over the registered jobs
type TickStats struct {
	PeriodID   string // UUID correlating the tick's log lines
	StartedAt  time.Time
	Duration   time.Duration
	Considered int
	Ran        int
	Succeeded  int
	Failed     int
	Skipped    int
}

// StatusInfo is the reply to a status request
type StatusInfo struct {
	StartedAt time.Time
	Uptime    time.Duration
	Ticks     int64
	LastTick  TickStats
	Jobs      []string
	Inbox     InboxStats
}
