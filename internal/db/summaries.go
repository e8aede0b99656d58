package db

import (
	"errors"
	"time"

	"github.com/ralcott/rota"
)

// RunSummary aggregates the recorded history of one job code.
type RunSummary struct {
	Code        string
	Runs        int
	Failures    int
	AvgDuration time.Duration
	LastRun     *rota.Record
}

type summaryRow struct {
	Code     string  `db:"code"`
	Runs     int     `db:"runs"`
	Failures int     `db:"failures"`
	AvgSecs  float64 `db:"avg_secs"`
}

// Summaries returns per-code aggregates over the whole log, ordered by code.
func (l *RunLog) Summaries() ([]RunSummary, error) {
	var rows []summaryRow
	if err := l.db.Select(&rows, summaryQuery(l.db.DriverName())); err != nil {
		return nil, err
	}

	summaries := make([]RunSummary, 0, len(rows))
	for _, row := range rows {
		last, err := l.LatestRun(row.Code)
		if errors.Is(err, rota.ErrNoRun) {
			continue
		}
		if err != nil {
			return nil, err
		}

		summaries = append(summaries, RunSummary{
			Code:        row.Code,
			Runs:        row.Runs,
			Failures:    row.Failures,
			AvgDuration: time.Duration(row.AvgSecs * float64(time.Second)),
			LastRun:     last,
		})
	}

	return summaries, nil
}

// summaryQuery builds the aggregate query. Duration math over the stored
// timestamps has no portable SQL spelling, so the average is per driver.
func summaryQuery(driver string) string {
	avg := "AVG((julianday(end_time) - julianday(start_time)) * 86400.0)"
	if driver == "postgres" {
		avg = "AVG(EXTRACT(EPOCH FROM (end_time - start_time)))"
	}

	return `
		SELECT code,
			COUNT(1) AS runs,
			SUM(CASE WHEN is_success THEN 0 ELSE 1 END) AS failures,
			` + avg + ` AS avg_secs
		FROM job_runs
		GROUP BY code
		ORDER BY code
	`
}
