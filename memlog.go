package rota

import (
	"sync"
	"time"
)

// MemoryLog is an in-memory RunLog for tests and embedders that do not need
// durable history. Safe for concurrent use.
type MemoryLog struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryLog returns an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append stores rec with its timestamps normalized to UTC.
func (l *MemoryLog) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec.StartTime = rec.StartTime.UTC()
	rec.EndTime = rec.EndTime.UTC()
	l.records = append(l.records, rec)
	return nil
}

// LatestRun returns the most recent record for code by start time.
func (l *MemoryLog) LatestRun(code string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest(func(r Record) bool { return r.Code == code })
}

// LatestSuccess returns the most recent successful record for code that did
// not satisfy a fixed time-of-day slot.
func (l *MemoryLog) LatestSuccess(code string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest(func(r Record) bool {
		return r.Code == code && r.Succeeded && r.RanAt == nil
	})
}

// HasRunAt reports whether a run for code satisfied slot on the calendar
// date of day, in day's location.
func (l *MemoryLog) HasRunAt(code string, slot TimeOfDay, day time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	for _, r := range l.records {
		if r.Code != code || r.RanAt == nil || *r.RanAt != slot {
			continue
		}
		if !r.StartTime.Before(dayStart) && r.StartTime.Before(dayEnd) {
			return true, nil
		}
	}
	return false, nil
}

// Records returns a copy of everything appended, in insertion order.
func (l *MemoryLog) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of stored records.
func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// latest returns the matching record with the greatest start time. Callers
// hold the lock.
func (l *MemoryLog) latest(match func(Record) bool) (*Record, error) {
	var found *Record
	for i := range l.records {
		r := l.records[i]
		if !match(r) {
			continue
		}
		if found == nil || r.StartTime.After(found.StartTime) {
			cp := r
			found = &cp
		}
	}
	if found == nil {
		return nil, ErrNoRun
	}
	return found, nil
}
