// Package daemon runs registered jobs on a tick loop. Every tick gives each
// job one runner invocation, which decides from the schedule and run log
// whether anything actually executes. A control inbox serves force-run and
// status requests between ticks.
package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ralcott/rota"
)

var (
	// ErrStopped is returned by control calls once the daemon loop has
	// exited.
	ErrStopped = errors.New("daemon stopped")

	// ErrUnknownJob is returned by ForceRun for a code that is not
	// registered.
	ErrUnknownJob = errors.New("unknown job code")

	// ErrInboxFull is returned when a control message cannot be queued
	// within the send timeout.
	ErrInboxFull = errors.New("daemon inbox full")
)

// Daemon ticks through the registry, giving every job a chance to run.
// Jobs run sequentially on the loop goroutine; the run log is the only
// shared state, and the runner owns all access to it.
type Daemon struct {
	config   Config
	registry *rota.Registry
	log      rota.RunLog
	logger   *slog.Logger
	clock    rota.Clock

	inbox *Inbox

	// Loop state, touched only by the loop goroutine after Start.
	startedAt time.Time
	ticks     int64
	lastTick  TickStats

	started  atomic.Bool
	stopOnce sync.Once
	shutdown chan struct{}
	done     chan struct{}
}

// New builds a daemon over the given registry and run log. A nil logger
// discards diagnostics. When config names a timezone, all schedule
// evaluation happens in that zone.
func New(config Config, registry *rota.Registry, log rota.RunLog, logger *slog.Logger) (*Daemon, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("nil registry")
	}
	if log == nil {
		return nil, fmt.Errorf("nil run log")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	clock := rota.Clock(rota.SystemClock())
	if config.Timezone != "" {
		loc, err := time.LoadLocation(config.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", config.Timezone, err)
		}
		clock = zonedClock{clock: clock, loc: loc}
	}

	return &Daemon{
		config:   config,
		registry: registry,
		log:      log,
		logger:   logger,
		clock:    clock,
		inbox:    NewInbox(config.InboxBufferSize, config.InboxSendTimeout, logger),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the daemon loop in its own goroutine.
func (d *Daemon) Start() {
	d.startedAt = d.clock.Now()
	d.started.Store(true)
	go d.run()
}

// Stop signals the loop to exit and waits for it to finish. Pending control
// messages are answered with ErrStopped. Safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.shutdown) })
	if d.started.Load() {
		<-d.done
	}
}

// ForceRun asks the loop to run the job named code now, regardless of its
// schedule, and waits for the attempt to finish. The outcome of the run
// itself lands in the run log; the returned error covers control failures
// only. Call between Start and Stop.
func (d *Daemon) ForceRun(code string) error {
	reply := make(chan interface{}, 1)
	if err := d.send(Message{Type: MsgForceRun, Code: code, Reply: reply}); err != nil {
		return err
	}
	select {
	case v := <-reply:
		return v.(ForceRunResult).Err
	case <-d.done:
		return ErrStopped
	}
}

// Status reports uptime, tick counters, and the registered job codes. Call
// between Start and Stop.
func (d *Daemon) Status() (StatusInfo, error) {
	reply := make(chan interface{}, 1)
	if err := d.send(Message{Type: MsgStatus, Reply: reply}); err != nil {
		return StatusInfo{}, err
	}
	select {
	case v := <-reply:
		return v.(StatusInfo), nil
	case <-d.done:
		return StatusInfo{}, ErrStopped
	}
}

func (d *Daemon) send(msg Message) error {
	select {
	case <-d.done:
		return ErrStopped
	default:
	}
	if !d.inbox.Send(msg) {
		return ErrInboxFull
	}
	return nil
}

// run is the main daemon loop
func (d *Daemon) run() {
	defer close(d.done)

	d.logger.Info("daemon started",
		"tick_interval", d.config.TickInterval,
		"timezone", d.config.Timezone,
		"jobs", d.registry.Len())

	ticker := time.NewTicker(d.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			d.handleShutdown()
			return

		case <-ticker.C:
			d.tick()

		case msg := <-d.inbox.ch:
			d.inbox.received()
			d.handleMessage(msg)
		}
	}
}

// tick performs one pass over the registered jobs
func (d *Daemon) tick() {
	start := time.Now()
	stats := TickStats{
		PeriodID:  uuid.NewString(),
		StartedAt: d.clock.Now(),
	}

	for _, job := range d.registry.Jobs() {
		stats.Considered++
		outcome := d.runJob(job, false, stats.PeriodID)
		switch {
		case outcome.failed:
			stats.Ran++
			stats.Failed++
		case outcome.ran:
			stats.Ran++
			stats.Succeeded++
		default:
			stats.Skipped++
		}
	}

	stats.Duration = time.Since(start)
	d.ticks++
	d.lastTick = stats
	d.inbox.UpdateDepthStats()

	d.logger.Debug("tick complete",
		"period_id", stats.PeriodID,
		"considered", stats.Considered,
		"ran", stats.Ran,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"duration", stats.Duration)
}

// runOutcome classifies a single runner invocation for tick accounting
type runOutcome struct {
	ran    bool
	failed bool
	err    error
}

// runJob performs one runner invocation for job, watching lifecycle phases
// to classify what happened.
func (d *Daemon) runJob(job rota.Job, force bool, periodID string) runOutcome {
	var outcome runOutcome

	r, err := rota.NewRunner(job, d.log,
		rota.WithClock(d.clock),
		rota.WithLogger(d.logger.With("period_id", periodID)),
		rota.WithPhaseObserver(func(p rota.Phase) {
			switch p {
			case rota.PhaseExecuting:
				outcome.ran = true
			case rota.PhaseFailed:
				outcome.failed = true
			}
		}),
	)
	if err != nil {
		d.logger.Error("skipping unrunnable job",
			"code", job.Code(),
			"error", err)
		outcome.err = err
		return outcome
	}

	r.Run(force)
	return outcome
}

// handleMessage dispatches control messages
func (d *Daemon) handleMessage(msg Message) {
	d.logger.Debug("handling control message", "type", msg.Type.String())

	switch msg.Type {
	case MsgForceRun:
		d.handleForceRun(msg)
	case MsgStatus:
		reply(msg, d.status())
	default:
		d.logger.Warn("unknown message type", "type", msg.Type)
	}
}

// handleForceRun runs the requested job immediately on the loop goroutine
func (d *Daemon) handleForceRun(msg Message) {
	job, ok := d.registry.Get(msg.Code)
	if !ok {
		d.logger.Warn("force-run for unregistered job", "code", msg.Code)
		reply(msg, ForceRunResult{Err: fmt.Errorf("%w: %s", ErrUnknownJob, msg.Code)})
		return
	}

	d.logger.Info("forcing run", "code", msg.Code)
	outcome := d.runJob(job, true, uuid.NewString())
	reply(msg, ForceRunResult{Err: outcome.err})
}

func (d *Daemon) status() StatusInfo {
	return StatusInfo{
		StartedAt: d.startedAt,
		Uptime:    d.clock.Now().Sub(d.startedAt),
		Ticks:     d.ticks,
		LastTick:  d.lastTick,
		Jobs:      d.registry.Codes(),
		Inbox:     d.inbox.Stats(),
	}
}

// handleShutdown drains pending control messages so no sender is left
// waiting on a reply.
func (d *Daemon) handleShutdown() {
	d.logger.Info("daemon stopping", "ticks", d.ticks)

	for {
		msg, ok := d.inbox.TryReceive()
		if !ok {
			return
		}
		switch msg.Type {
		case MsgForceRun:
			reply(msg, ForceRunResult{Err: ErrStopped})
		case MsgStatus:
			reply(msg, d.status())
		}
	}
}

// reply sends v to the message's reply channel without blocking. Senders
// that have gone away lose the response rather than wedging the loop.
func reply(msg Message, v interface{}) {
	if msg.Reply == nil {
		return
	}
	select {
	case msg.Reply <- v:
	default:
	}
}

// zonedClock shifts wall-clock readings into a fixed location so fixed-time
// slots and calendar-day windows are evaluated in the configured zone.
type zonedClock struct {
	clock rota.Clock
	loc   *time.Location
}

func (z zonedClock) Now() time.Time { return z.clock.Now().In(z.loc) }
