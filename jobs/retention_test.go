package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePurger records the cutoff it was asked to purge at.
type fakePurger struct {
	cutoff time.Time
	purged int64
	err    error
	calls  int
}

func (p *fakePurger) PurgeRunsBefore(cutoff time.Time) (int64, error) {
	p.calls++
	p.cutoff = cutoff
	if p.err != nil {
		return 0, p.err
	}
	return p.purged, nil
}

func TestLogRetention_Identity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetentionDays = 30
	job := NewLogRetention(&fakePurger{}, cfg)

	assert.Equal(t, CodeLogRetention, job.Code())
	assert.Equal(t, cfg.RetentionEveryMins, job.Schedule().RunEveryMins)
	require.NoError(t, job.Schedule().Validate())
}

func TestLogRetention_PurgesOldRuns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetentionDays = 30
	purger := &fakePurger{purged: 42}
	job := NewLogRetention(purger, cfg)

	msg, err := job.Do()
	require.NoError(t, err)

	assert.Equal(t, "purged 42 runs older than 30 days", msg)
	assert.Equal(t, 1, purger.calls)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -30), purger.cutoff, time.Minute)
}

func TestLogRetention_PurgeErrorFailsTheRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetentionDays = 7
	dbErr := errors.New("database is locked")
	job := NewLogRetention(&fakePurger{err: dbErr}, cfg)

	msg, err := job.Do()
	require.Error(t, err)

	assert.Empty(t, msg)
	assert.ErrorIs(t, err, dbErr)
	assert.Contains(t, err.Error(), "purging runs before")
}
