package rota

import "time"

// MaxMessageLen bounds the message stored on a run record.
const MaxMessageLen = 1000

// Record is the persisted outcome of one execution attempt. A record is
// written exactly once, at the end of the attempt, and never mutated
// afterwards.
type Record struct {
	// Code is the job code the run belongs to.
	Code string

	// StartTime and EndTime bound the attempt. Stored in UTC.
	StartTime time.Time
	EndTime   time.Time

	// Succeeded reports whether the job body completed without failing.
	Succeeded bool

	// Message holds the job's status text on success, or the formatted
	// failure detail, truncated to MaxMessageLen.
	Message string

	// RanAt is the fixed time-of-day slot this run satisfied, or nil for
	// forced and interval runs.
	RanAt *TimeOfDay
}
