package rota

import (
	"errors"
	"time"
)

// ErrNoRun is returned by run log queries when no record matches.
var ErrNoRun = errors.New("no matching run record")

// RunLog is the durable history of past runs. The runner appends one record
// per executed attempt and reads history to decide eligibility. Retention is
// the log's own concern; the runner never deletes.
type RunLog interface {
	// Append stores a new record.
	Append(rec Record) error

	// LatestRun returns the most recent record for code by start time, or
	// ErrNoRun.
	LatestRun(code string) (*Record, error)

	// LatestSuccess returns the most recent successful record for code that
	// did not satisfy a fixed time-of-day slot, by start time, or ErrNoRun.
	LatestSuccess(code string) (*Record, error)

	// HasRunAt reports whether a record exists for code with exactly slot on
	// the calendar date of day, in day's location.
	HasRunAt(code string, slot TimeOfDay, day time.Time) (bool, error)
}
