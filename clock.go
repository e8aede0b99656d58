package rota

import "time"

// Clock supplies the current time. The runner takes all wall-clock readings
// from a Clock so decision boundaries can be pinned in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
