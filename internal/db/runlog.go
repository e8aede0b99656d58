package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ralcott/rota"
)

// RunLog is the SQL-backed run log over the job_runs table. It implements
// rota.RunLog and adds the maintenance queries the core interface does not
// need.
type RunLog struct {
	db *DB
}

var _ rota.RunLog = (*RunLog)(nil)

// NewRunLog returns a run log backed by db.
func NewRunLog(db *DB) *RunLog {
	return &RunLog{db: db}
}

// runRow mirrors one job_runs row.
type runRow struct {
	ID        string    `db:"id"`
	Code      string    `db:"code"`
	StartTime time.Time `db:"start_time"`
	EndTime   time.Time `db:"end_time"`
	IsSuccess bool      `db:"is_success"`
	Message   string    `db:"message"`
	RanAtTime *string   `db:"ran_at_time"`
}

func (r runRow) record() (rota.Record, error) {
	rec := rota.Record{
		Code:      r.Code,
		StartTime: r.StartTime.UTC(),
		EndTime:   r.EndTime.UTC(),
		Succeeded: r.IsSuccess,
		Message:   r.Message,
	}

	if r.RanAtTime != nil {
		at, err := rota.ParseTimeOfDay(*r.RanAtTime)
		if err != nil {
			return rota.Record{}, fmt.Errorf("run %s has malformed slot %q: %w", r.ID, *r.RanAtTime, err)
		}
		rec.RanAt = &at
	}

	return rec, nil
}

// Append persists one run record under a fresh row id. Times are normalized
// to UTC and the message is bounded before the write.
func (l *RunLog) Append(rec rota.Record) error {
	msg := rec.Message
	if len(msg) > rota.MaxMessageLen {
		msg = msg[:rota.MaxMessageLen]
	}

	var ranAt *string
	if rec.RanAt != nil {
		s := rec.RanAt.String()
		ranAt = &s
	}

	query := l.db.Rebind(`
		INSERT INTO job_runs (id, code, start_time, end_time, is_success, message, ran_at_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := l.db.Exec(query,
		uuid.NewString(),
		rec.Code,
		rec.StartTime.UTC(),
		rec.EndTime.UTC(),
		rec.Succeeded,
		msg,
		ranAt,
	)
	if err != nil {
		if IsDuplicate(err) {
			return fmt.Errorf("appending run for %s: %w", rec.Code, ErrDuplicate)
		}
		return fmt.Errorf("appending run for %s: %w", rec.Code, err)
	}

	return nil
}

// LatestRun returns the most recent run for code by start time, or
// rota.ErrNoRun when the code has no history.
func (l *RunLog) LatestRun(code string) (*rota.Record, error) {
	query := l.db.Rebind(`
		SELECT id, code, start_time, end_time, is_success, message, ran_at_time
		FROM job_runs
		WHERE code = ?
		ORDER BY start_time DESC
		LIMIT 1
	`)

	var row runRow
	if err := l.db.Get(&row, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, rota.ErrNoRun
		}
		return nil, err
	}

	rec, err := row.record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestSuccess returns the most recent successful run for code that was not
// triggered by a fixed time-of-day slot, or rota.ErrNoRun when none exists.
func (l *RunLog) LatestSuccess(code string) (*rota.Record, error) {
	query := l.db.Rebind(`
		SELECT id, code, start_time, end_time, is_success, message, ran_at_time
		FROM job_runs
		WHERE code = ? AND is_success AND ran_at_time IS NULL
		ORDER BY start_time DESC
		LIMIT 1
	`)

	var row runRow
	if err := l.db.Get(&row, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, rota.ErrNoRun
		}
		return nil, err
	}

	rec, err := row.record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// HasRunAt reports whether a run tagged with the slot exists on now's
// calendar date. The day window is taken in now's location and compared
// against the stored UTC instants.
func (l *RunLog) HasRunAt(code string, at rota.TimeOfDay, now time.Time) (bool, error) {
	y, m, d := now.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	query := l.db.Rebind(`
		SELECT COUNT(1)
		FROM job_runs
		WHERE code = ? AND ran_at_time = ? AND start_time >= ? AND start_time < ?
	`)

	var n int
	if err := l.db.Get(&n, query, code, at.String(), dayStart.UTC(), dayEnd.UTC()); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Runs returns up to limit runs for code, newest first.
func (l *RunLog) Runs(code string, limit int) ([]rota.Record, error) {
	query := l.db.Rebind(`
		SELECT id, code, start_time, end_time, is_success, message, ran_at_time
		FROM job_runs
		WHERE code = ?
		ORDER BY start_time DESC
		LIMIT ?
	`)

	var rows []runRow
	if err := l.db.Select(&rows, query, code, limit); err != nil {
		return nil, err
	}

	records := make([]rota.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

// FailureStreak counts the runs recorded since the last successful run of
// code. Zero when the latest run succeeded or the code has no history.
func (l *RunLog) FailureStreak(code string) (int, error) {
	sinceQuery := l.db.Rebind(`
		SELECT start_time
		FROM job_runs
		WHERE code = ? AND is_success
		ORDER BY start_time DESC
		LIMIT 1
	`)

	var lastSuccess time.Time
	err := l.db.Get(&lastSuccess, sinceQuery, code)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Never succeeded: every recorded run is part of the streak.
		countQuery := l.db.Rebind(`SELECT COUNT(1) FROM job_runs WHERE code = ?`)
		var n int
		if err := l.db.Get(&n, countQuery, code); err != nil {
			return 0, err
		}
		return n, nil
	case err != nil:
		return 0, err
	}

	countQuery := l.db.Rebind(`SELECT COUNT(1) FROM job_runs WHERE code = ? AND start_time > ?`)
	var n int
	if err := l.db.Get(&n, countQuery, code, lastSuccess); err != nil {
		return 0, err
	}
	return n, nil
}

// Codes returns the distinct job codes present in the log, sorted.
func (l *RunLog) Codes() ([]string, error) {
	var codes []string
	if err := l.db.Select(&codes, `SELECT DISTINCT code FROM job_runs ORDER BY code`); err != nil {
		return nil, err
	}
	if codes == nil {
		codes = []string{}
	}
	return codes, nil
}

// PurgeRunsBefore deletes all runs that started before cutoff and reports
// how many were removed.
func (l *RunLog) PurgeRunsBefore(cutoff time.Time) (int64, error) {
	query := l.db.Rebind(`DELETE FROM job_runs WHERE start_time < ?`)

	res, err := l.db.Exec(query, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
