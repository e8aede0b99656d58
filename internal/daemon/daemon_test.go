package daemon

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralcott/rota"
	"github.com/ralcott/rota/internal/testutil"
)

var noon = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testConfig returns a config with a tick fast enough for tests.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = 20 * time.Millisecond
	cfg.InboxSendTimeout = 100 * time.Millisecond
	return cfg
}

func hourlyJob(code string) rota.Job {
	return rota.NewJob(code, rota.Schedule{RunEveryMins: 60}, func() (string, error) {
		return "done", nil
	})
}

// manualJob never fires on its own; only force-runs execute it.
func manualJob(code string) rota.Job {
	return rota.NewJob(code, rota.Schedule{}, func() (string, error) {
		return "done", nil
	})
}

// startDaemon builds and starts a daemon with a pinned clock, stopping it on
// cleanup.
func startDaemon(t *testing.T, cfg Config, reg *rota.Registry, log rota.RunLog, clock rota.Clock) *Daemon {
	t.Helper()

	tl := testutil.NewTestLogger()
	d, err := New(cfg, reg, log, tl.Logger())
	require.NoError(t, err)

	if clock != nil {
		d.clock = clock
	}
	d.Start()
	t.Cleanup(d.Stop)
	return d
}

func TestNew_Validation(t *testing.T) {
	reg := rota.NewRegistry()
	log := rota.NewMemoryLog()

	badInterval := testConfig()
	badInterval.TickInterval = 0
	_, err := New(badInterval, reg, log, nil)
	assert.Error(t, err)

	badZone := testConfig()
	badZone.Timezone = "Mars/Olympus_Mons"
	_, err = New(badZone, reg, log, nil)
	assert.Error(t, err)

	_, err = New(testConfig(), nil, log, nil)
	assert.Error(t, err)

	_, err = New(testConfig(), reg, nil, nil)
	assert.Error(t, err)
}

func TestDaemon_TicksRunDueJobs(t *testing.T) {
	reg := rota.NewRegistry()
	reg.MustRegister(hourlyJob("reports.daily"))
	log := rota.NewMemoryLog()
	clock := testutil.NewMockClock(noon)

	startDaemon(t, testConfig(), reg, log, clock)

	// First tick finds no history and runs the job.
	testutil.WaitFor(t, func() bool { return log.Len() == 1 }, time.Second, "first run")

	// With the clock pinned the interval never elapses again.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, log.Len())

	// Move past the interval and the next tick runs it again.
	clock.Advance(61 * time.Minute)
	testutil.WaitFor(t, func() bool { return log.Len() == 2 }, time.Second, "second run")
}

func TestDaemon_RunsJobsInRegistrationOrder(t *testing.T) {
	reg := rota.NewRegistry()
	reg.MustRegister(hourlyJob("jobs.first"))
	reg.MustRegister(hourlyJob("jobs.second"))
	log := rota.NewMemoryLog()

	startDaemon(t, testConfig(), reg, log, testutil.NewMockClock(noon))

	testutil.WaitFor(t, func() bool { return log.Len() == 2 }, time.Second, "both jobs run")

	records := log.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "jobs.first", records[0].Code)
	assert.Equal(t, "jobs.second", records[1].Code)
}

func TestDaemon_ForceRun(t *testing.T) {
	reg := rota.NewRegistry()
	reg.MustRegister(manualJob("exports.monthly"))
	log := rota.NewMemoryLog()
	clock := testutil.NewMockClock(noon)

	d := startDaemon(t, testConfig(), reg, log, clock)

	// The schedule never fires; only the forced run executes.
	require.NoError(t, d.ForceRun("exports.monthly"))

	records := log.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "exports.monthly", records[0].Code)
	assert.True(t, records[0].Succeeded)
	assert.Nil(t, records[0].RanAt)
	assert.True(t, records[0].StartTime.Equal(noon))
}

func TestDaemon_ForceRun_UnknownJob(t *testing.T) {
	reg := rota.NewRegistry()
	log := rota.NewMemoryLog()

	d := startDaemon(t, testConfig(), reg, log, nil)

	err := d.ForceRun("jobs.nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.Contains(t, err.Error(), "jobs.nope")
}

func TestDaemon_ControlAfterStop(t *testing.T) {
	reg := rota.NewRegistry()
	reg.MustRegister(manualJob("jobs.a"))
	log := rota.NewMemoryLog()

	d, err := New(testConfig(), reg, log, nil)
	require.NoError(t, err)
	d.Start()
	d.Stop()

	assert.ErrorIs(t, d.ForceRun("jobs.a"), ErrStopped)
	_, err = d.Status()
	assert.ErrorIs(t, err, ErrStopped)

	// Stop is idempotent.
	assert.NotPanics(t, d.Stop)
}

func TestDaemon_Status(t *testing.T) {
	reg := rota.NewRegistry()
	reg.MustRegister(hourlyJob("reports.daily"))
	log := rota.NewMemoryLog()
	clock := testutil.NewMockClock(noon)

	d := startDaemon(t, testConfig(), reg, log, clock)

	testutil.WaitFor(t, func() bool {
		info, err := d.Status()
		return err == nil && info.Ticks >= 1
	}, time.Second, "first tick")

	info, err := d.Status()
	require.NoError(t, err)

	assert.True(t, info.StartedAt.Equal(noon))
	assert.Equal(t, []string{"reports.daily"}, info.Jobs)
	assert.GreaterOrEqual(t, info.Ticks, int64(1))
	assert.NotEmpty(t, info.LastTick.PeriodID)
	assert.Equal(t, 1, info.LastTick.Considered)
	assert.GreaterOrEqual(t, info.Inbox.TotalReceived, int64(1))
}

func TestDaemon_StatusCountsFailures(t *testing.T) {
	reg := rota.NewRegistry()
	reg.MustRegister(rota.NewJob("jobs.broken", rota.Schedule{RunEveryMins: 60}, func() (string, error) {
		return "", errors.New("boom")
	}))
	log := rota.NewMemoryLog()

	d := startDaemon(t, testConfig(), reg, log, testutil.NewMockClock(noon))

	testutil.WaitFor(t, func() bool {
		info, err := d.Status()
		return err == nil && info.LastTick.Failed == 1
	}, time.Second, "failed tick")

	info, err := d.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, info.LastTick.Ran)
	assert.Equal(t, 1, info.LastTick.Failed)
	assert.Zero(t, info.LastTick.Succeeded)
}

func TestDaemon_UnrunnableJobIsSkipped(t *testing.T) {
	reg := rota.NewRegistry()
	reg.MustRegister(rota.NewJob("jobs.bad", rota.Schedule{RunEveryMins: -1}, func() (string, error) {
		return "", nil
	}))
	log := rota.NewMemoryLog()

	tl := testutil.NewTestLogger()
	d, err := New(testConfig(), reg, log, tl.Logger())
	require.NoError(t, err)
	d.Start()
	t.Cleanup(d.Stop)

	testutil.WaitFor(t, func() bool {
		info, serr := d.Status()
		return serr == nil && info.Ticks >= 1
	}, time.Second, "first tick")

	info, err := d.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, info.LastTick.Skipped)
	assert.Zero(t, info.LastTick.Ran)
	assert.Zero(t, log.Len())
	assert.True(t, tl.HasError())
}

func TestDaemon_ShutdownDrainsPendingMessages(t *testing.T) {
	reg := rota.NewRegistry()
	log := rota.NewMemoryLog()

	d, err := New(testConfig(), reg, log, nil)
	require.NoError(t, err)

	// Queue a force-run without a running loop, then drain.
	replyCh := make(chan interface{}, 1)
	require.True(t, d.inbox.Send(Message{Type: MsgForceRun, Code: "jobs.a", Reply: replyCh}))

	d.handleShutdown()

	select {
	case v := <-replyCh:
		result, ok := v.(ForceRunResult)
		require.True(t, ok)
		assert.ErrorIs(t, result.Err, ErrStopped)
	default:
		t.Fatal("expected a drained reply")
	}
}

func TestDaemon_InboxFull(t *testing.T) {
	cfg := testConfig()
	cfg.InboxBufferSize = 1
	cfg.InboxSendTimeout = 10 * time.Millisecond

	d, err := New(cfg, rota.NewRegistry(), rota.NewMemoryLog(), nil)
	require.NoError(t, err)

	// Nothing drains the inbox, so the second send times out.
	require.NoError(t, d.send(Message{Type: MsgStatus}))
	assert.ErrorIs(t, d.send(Message{Type: MsgStatus}), ErrInboxFull)
}

func TestZonedClock(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	clock := zonedClock{clock: testutil.NewMockClock(noon), loc: loc}
	got := clock.Now()

	// Same instant, different wall clock.
	assert.True(t, got.Equal(noon))
	assert.Equal(t, "America/New_York", got.Location().String())
}

func TestDaemon_TimezoneConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Timezone = "America/New_York"

	d, err := New(cfg, rota.NewRegistry(), rota.NewMemoryLog(), nil)
	require.NoError(t, err)

	assert.Equal(t, "America/New_York", d.clock.Now().Location().String())
}
