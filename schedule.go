package rota

import "fmt"

// Schedule describes when a job wants to run: every RunEveryMins minutes, at
// fixed times of day, or both. A schedule with neither trigger set never
// fires unless the run is forced.
type Schedule struct {
	// RunEveryMins triggers a run once N minutes have passed since the start
	// of the last successful interval run. Zero disables interval runs.
	RunEveryMins int

	// RunAtTimes triggers at fixed wall-clock times of day, each at most once
	// per calendar date. Evaluated in order; build with TimesOfDay or
	// MustTimesOfDay.
	RunAtTimes []TimeOfDay

	// RetryAfterFailureMins overrides the interval after a failed run: the
	// job stays ineligible until this many minutes have passed since the
	// failed run started. Zero disables the override.
	RetryAfterFailureMins int
}

// Validate reports configuration errors. A schedule with no triggers is
// accepted; it simply never fires on its own.
func (s Schedule) Validate() error {
	if s.RunEveryMins < 0 {
		return fmt.Errorf("negative RunEveryMins: %d", s.RunEveryMins)
	}
	if s.RetryAfterFailureMins < 0 {
		return fmt.Errorf("negative RetryAfterFailureMins: %d", s.RetryAfterFailureMins)
	}
	return nil
}
