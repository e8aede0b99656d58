// Package rota runs named periodic jobs. For each job it decides whether a
// run is due right now from the job's schedule and its recorded history,
// executes due jobs under failure isolation, and appends one outcome record
// per attempt to a run log.
package rota

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Phase is a stage in the runner's per-invocation lifecycle, observable
// through WithPhaseObserver. Phases carry no behavior.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDecided
	PhaseExecuting
	PhaseSucceeded
	PhaseFailed
	PhaseRecorded
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDecided:
		return "decided"
	case PhaseExecuting:
		return "executing"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	case PhaseRecorded:
		return "recorded"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Decision is the outcome of evaluating a job's schedule against the run
// log.
type Decision struct {
	// Run reports whether the job should run now.
	Run bool

	// RanAt is the fixed time-of-day slot that triggered the run, or nil
	// when the trigger was the interval or a forced run.
	RanAt *TimeOfDay
}

// Runner decides whether one job should run, executes it under failure
// isolation, and appends exactly one record per executed attempt.
type Runner struct {
	job     Job
	log     RunLog
	clock   Clock
	logger  *slog.Logger
	observe func(Phase)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock replaces the system clock, pinning all wall-clock readings.
func WithClock(clock Clock) RunnerOption {
	return func(r *Runner) { r.clock = clock }
}

// WithLogger routes the runner's diagnostics. The default discards them.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithPhaseObserver registers a callback invoked on every lifecycle phase
// transition, in order. The callback must not block.
func WithPhaseObserver(fn func(Phase)) RunnerOption {
	return func(r *Runner) { r.observe = fn }
}

// NewRunner builds a Runner for one job against the given run log. It fails
// when the job definition is unusable: a nil job or log, an empty code, or a
// schedule that does not validate.
func NewRunner(job Job, log RunLog, opts ...RunnerOption) (*Runner, error) {
	if job == nil {
		return nil, fmt.Errorf("nil job")
	}
	if log == nil {
		return nil, fmt.Errorf("nil run log")
	}
	if job.Code() == "" {
		return nil, fmt.Errorf("job has an empty code")
	}
	if err := job.Schedule().Validate(); err != nil {
		return nil, fmt.Errorf("job %s: invalid schedule: %w", job.Code(), err)
	}

	r := &Runner{
		job:    job,
		log:    log,
		clock:  SystemClock(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run builds a Runner for job against log and performs one invocation. Only
// construction errors are returned; runtime failures end up in the log.
func Run(job Job, log RunLog, force bool, opts ...RunnerOption) error {
	r, err := NewRunner(job, log, opts...)
	if err != nil {
		return err
	}
	r.Run(force)
	return nil
}

// ShouldRunNow applies the decision algorithm. Forced runs always fire.
// Otherwise the interval trigger is consulted first: a failed latest run
// under a retry window decides eligibility exclusively until the window
// passes; a successful history permits a run once strictly more than
// RunEveryMins minutes have passed since the last successful interval run,
// and otherwise falls through to the fixed time-of-day slots. Each slot
// fires at most once per calendar date, first match wins. Read failures
// from the run log are returned undecided.
func (r *Runner) ShouldRunNow(force bool) (Decision, error) {
	if force {
		return Decision{Run: true}, nil
	}

	code := r.job.Code()
	schedule := r.job.Schedule()
	now := r.clock.Now()

	if schedule.RunEveryMins > 0 {
		last, err := r.log.LatestRun(code)
		switch {
		case errors.Is(err, ErrNoRun):
			return Decision{Run: true}, nil
		case err != nil:
			return Decision{}, fmt.Errorf("reading latest run for %s: %w", code, err)
		}

		// A failed run under a retry window governs eligibility exclusively
		// until the window passes.
		if !last.Succeeded && schedule.RetryAfterFailureMins > 0 {
			wait := time.Duration(schedule.RetryAfterFailureMins) * time.Minute
			return Decision{Run: now.After(last.StartTime.Add(wait))}, nil
		}

		prev, err := r.log.LatestSuccess(code)
		switch {
		case errors.Is(err, ErrNoRun):
			return Decision{Run: true}, nil
		case err != nil:
			return Decision{}, fmt.Errorf("reading latest success for %s: %w", code, err)
		}

		interval := time.Duration(schedule.RunEveryMins) * time.Minute
		if now.After(prev.StartTime.Add(interval)) {
			return Decision{Run: true}, nil
		}
		// Interval not yet elapsed: fixed time slots may still fire today.
	}

	for _, slot := range schedule.RunAtTimes {
		if !slot.AtOrBefore(now) {
			continue
		}
		seen, err := r.log.HasRunAt(code, slot, now)
		if err != nil {
			return Decision{}, fmt.Errorf("checking slot %s for %s: %w", slot, code, err)
		}
		if !seen {
			ranAt := slot
			return Decision{Run: true, RanAt: &ranAt}, nil
		}
	}

	return Decision{}, nil
}

// Run performs one invocation end to end: decide, execute, record. Runtime
// failures are absorbed; an ineligible or failed run surfaces only through
// the log and diagnostics, never as an error to the caller.
func (r *Runner) Run(force bool) {
	code := r.job.Code()

	decision, err := r.ShouldRunNow(force)
	if err != nil {
		// Undecided. Skip without a record; the next invocation re-reads.
		r.logger.Error("run decision failed", "job", code, "error", err)
		r.transition(PhaseIdle)
		return
	}
	r.transition(PhaseDecided)

	if !decision.Run {
		r.logger.Debug("run skipped", "job", code)
		r.transition(PhaseIdle)
		return
	}

	rec := Record{
		Code:      code,
		StartTime: r.clock.Now(),
		RanAt:     decision.RanAt,
	}

	r.transition(PhaseExecuting)
	if decision.RanAt != nil {
		r.logger.Info("job starting", "job", code, "slot", decision.RanAt.String())
	} else {
		r.logger.Info("job starting", "job", code, "forced", force)
	}

	msg, execErr := r.execute()
	if execErr != nil {
		rec.Succeeded = false
		rec.Message = failureMessage(msg, execErr)
		r.transition(PhaseFailed)
		r.logger.Error("job failed", "job", code, "error", execErr)
	} else {
		rec.Succeeded = true
		rec.Message = clampMessage(msg)
		r.transition(PhaseSucceeded)
		r.logger.Info("job succeeded", "job", code, "message", rec.Message)
	}

	rec.EndTime = r.clock.Now()
	if err := r.log.Append(rec); err != nil {
		// The outcome stands even when recording it does not.
		r.logger.Error("appending run record failed", "job", code, "error", err)
	}
	r.transition(PhaseRecorded)
	r.transition(PhaseIdle)
}

// execute invokes the job body, converting panics into errors so a failing
// job can never take down the caller.
func (r *Runner) execute() (msg string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return r.job.Do()
}

func (r *Runner) transition(p Phase) {
	r.logger.Debug("runner phase", "job", r.job.Code(), "phase", p.String())
	if r.observe != nil {
		r.observe(p)
	}
}

// failureMessage combines a partial status message with the failure detail,
// keeping the detail's tail when the combination exceeds MaxMessageLen.
func failureMessage(prefix string, err error) string {
	detail := err.Error()
	if prefix == "" {
		return tail(detail, MaxMessageLen)
	}
	const sep = "\n...\n"
	room := MaxMessageLen - len(prefix) - len(sep)
	if room <= 0 {
		return tail(detail, MaxMessageLen)
	}
	return prefix + sep + tail(detail, room)
}

// clampMessage bounds a success message, keeping the head.
func clampMessage(msg string) string {
	if len(msg) <= MaxMessageLen {
		return msg
	}
	return msg[:MaxMessageLen]
}

// tail returns the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
