package rota

import (
	"errors"
	"testing"
	"time"
)

func makeRecord(code string, start time.Time, succeeded bool, ranAt *TimeOfDay) Record {
	return Record{
		Code:      code,
		StartTime: start,
		EndTime:   start.Add(time.Second),
		Succeeded: succeeded,
		Message:   "ok",
		RanAt:     ranAt,
	}
}

func TestMemoryLogLatestRun(t *testing.T) {
	log := NewMemoryLog()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	// Appended out of start-time order on purpose
	log.Append(makeRecord("jobs.a", base.Add(2*time.Hour), true, nil))
	log.Append(makeRecord("jobs.a", base, false, nil))
	log.Append(makeRecord("jobs.b", base.Add(3*time.Hour), true, nil))

	last, err := log.LatestRun("jobs.a")
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if !last.StartTime.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("StartTime = %v, want %v", last.StartTime, base.Add(2*time.Hour))
	}
}

func TestMemoryLogLatestRun_NoRecords(t *testing.T) {
	log := NewMemoryLog()

	if _, err := log.LatestRun("jobs.missing"); !errors.Is(err, ErrNoRun) {
		t.Errorf("expected ErrNoRun, got %v", err)
	}
}

func TestMemoryLogLatestSuccess(t *testing.T) {
	log := NewMemoryLog()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	slot := mustParseTime(t, "09:00")

	log.Append(makeRecord("jobs.a", base, true, nil))
	log.Append(makeRecord("jobs.a", base.Add(1*time.Hour), true, &slot)) // fixed-time, excluded
	log.Append(makeRecord("jobs.a", base.Add(2*time.Hour), false, nil))  // failed, excluded

	last, err := log.LatestSuccess("jobs.a")
	if err != nil {
		t.Fatalf("LatestSuccess failed: %v", err)
	}
	if !last.StartTime.Equal(base) {
		t.Errorf("StartTime = %v, want %v", last.StartTime, base)
	}
}

func TestMemoryLogLatestSuccess_OnlyFixedTimeRuns(t *testing.T) {
	log := NewMemoryLog()
	slot := mustParseTime(t, "09:00")
	log.Append(makeRecord("jobs.a", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), true, &slot))

	if _, err := log.LatestSuccess("jobs.a"); !errors.Is(err, ErrNoRun) {
		t.Errorf("expected ErrNoRun, got %v", err)
	}
}

func TestMemoryLogHasRunAt(t *testing.T) {
	log := NewMemoryLog()
	slot := mustParseTime(t, "09:00")
	other := mustParseTime(t, "18:00")
	day := time.Date(2024, 3, 1, 9, 2, 0, 0, time.UTC)

	log.Append(makeRecord("jobs.a", day, true, &slot))

	tests := []struct {
		desc  string
		code  string
		slot  TimeOfDay
		probe time.Time
		want  bool
	}{
		{"same slot same day", "jobs.a", slot, day.Add(4 * time.Hour), true},
		{"different slot", "jobs.a", other, day, false},
		{"different code", "jobs.b", slot, day, false},
		{"next day", "jobs.a", slot, day.AddDate(0, 0, 1), false},
		{"previous day", "jobs.a", slot, day.AddDate(0, 0, -1), false},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := log.HasRunAt(tt.code, tt.slot, tt.probe)
			if err != nil {
				t.Fatalf("HasRunAt failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("HasRunAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemoryLogHasRunAt_DayBoundary(t *testing.T) {
	log := NewMemoryLog()
	slot := mustParseTime(t, "23:55")

	// Run just before midnight
	log.Append(makeRecord("jobs.a", time.Date(2024, 3, 1, 23, 56, 0, 0, time.UTC), true, &slot))

	// Still the same calendar date
	seen, err := log.HasRunAt("jobs.a", slot, time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("HasRunAt failed: %v", err)
	}
	if !seen {
		t.Error("expected record to count on its own calendar date")
	}

	// One minute after midnight the dedup window has reset
	seen, err = log.HasRunAt("jobs.a", slot, time.Date(2024, 3, 2, 0, 1, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("HasRunAt failed: %v", err)
	}
	if seen {
		t.Error("expected dedup window to reset at midnight")
	}
}

func TestMemoryLogHasRunAt_ProbeLocation(t *testing.T) {
	log := NewMemoryLog()
	slot := mustParseTime(t, "23:00")
	loc := time.FixedZone("UTC+2", 2*3600)

	// 23:30 local on March 1st, stored as 21:30 UTC
	log.Append(makeRecord("jobs.a", time.Date(2024, 3, 1, 23, 30, 0, 0, loc), true, &slot))

	// Probing in the same zone finds it on March 1st
	seen, err := log.HasRunAt("jobs.a", slot, time.Date(2024, 3, 1, 23, 40, 0, 0, loc))
	if err != nil {
		t.Fatalf("HasRunAt failed: %v", err)
	}
	if !seen {
		t.Error("expected record found for the probe's local date")
	}

	// In UTC the instant falls on March 1st as well, but a UTC probe on
	// March 2nd must not see it
	seen, err = log.HasRunAt("jobs.a", slot, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("HasRunAt failed: %v", err)
	}
	if seen {
		t.Error("expected no record for the following UTC date")
	}
}

func TestMemoryLogRecords(t *testing.T) {
	log := NewMemoryLog()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	log.Append(makeRecord("jobs.a", base, true, nil))
	log.Append(makeRecord("jobs.b", base.Add(time.Minute), false, nil))

	records := log.Records()
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Code != "jobs.a" || records[1].Code != "jobs.b" {
		t.Error("records not in insertion order")
	}
	if log.Len() != 2 {
		t.Errorf("Len = %d, want 2", log.Len())
	}

	// Stored times are normalized to UTC
	if records[0].StartTime.Location() != time.UTC {
		t.Errorf("StartTime location = %v, want UTC", records[0].StartTime.Location())
	}

	// Mutating the copy does not touch the log
	records[0].Code = "mutated"
	if got := log.Records()[0].Code; got != "jobs.a" {
		t.Errorf("log mutated through returned slice: %q", got)
	}
}
