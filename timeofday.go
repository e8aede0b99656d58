package rota

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time of day with minute resolution, used for
// fixed-time schedules. The zero value is midnight.
type TimeOfDay struct {
	hour   int
	minute int
}

// ParseTimeOfDay parses a 24-hour "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	if hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("hour %d out of bounds [0, 23]", hour)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("minute %d out of bounds [0, 59]", minute)
	}

	return TimeOfDay{hour: hour, minute: minute}, nil
}

// TimesOfDay parses a list of "HH:MM" strings, preserving their order.
func TimesOfDay(values ...string) ([]TimeOfDay, error) {
	times := make([]TimeOfDay, 0, len(values))
	for _, v := range values {
		t, err := ParseTimeOfDay(v)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, nil
}

// MustTimesOfDay is TimesOfDay for static schedule literals; it panics on
// malformed input.
func MustTimesOfDay(values ...string) []TimeOfDay {
	times, err := TimesOfDay(values...)
	if err != nil {
		panic(err)
	}
	return times
}

// Hour returns the hour component (0-23).
func (t TimeOfDay) Hour() int { return t.hour }

// Minute returns the minute component (0-59).
func (t TimeOfDay) Minute() int { return t.minute }

// String formats the time as zero-padded "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.hour, t.minute)
}

// AtOrBefore reports whether the slot is at or before the wall-clock time of
// day carried by now. Seconds are ignored.
func (t TimeOfDay) AtOrBefore(now time.Time) bool {
	return t.hour*60+t.minute <= now.Hour()*60+now.Minute()
}
