package clock

import "time"

// Clock supplies the instants a race is measured against.
type Clock interface {
	Now() time.Time
}

// System is the process clock. Its readings keep the monotonic component, so
// deadlines and durations derived from them ignore wall clock steps. Convert
// with UTC only for display or storage.
var System Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Fixed is a clock stuck at one instant.
type Fixed time.Time

func (f Fixed) Now() time.Time { return time.Time(f) }

// Until reports how long c has to wait for t. It is never negative.
func Until(c Clock, t time.Time) time.Duration {
	d := t.Sub(c.Now())
	if d < 0 {
		return 0
	}
	return d
}

// HasMonotonic reports whether t carries a monotonic clock reading.
func HasMonotonic(t time.Time) bool {
	return t != t.Round(0)
}
