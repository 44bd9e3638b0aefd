package progress

import "time"

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock uses time.Now().
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// Throttle enforces a minimum wall-clock spacing between emissions.
// It adapts to variable chunk sizes because it counts time, not chunks.
//
// A Throttle is not safe for concurrent use; each transfer owns one.
type Throttle struct {
	interval time.Duration
	last     time.Time
	started  bool
}

// NewThrottle creates a throttle. A non-positive interval falls back to
// DefaultThrottleInterval.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = DefaultThrottleInterval
	}
	return &Throttle{interval: interval}
}

// Start anchors the throttle at t. The first emission is allowed once a full
// interval has passed since Start.
func (t *Throttle) Start(now time.Time) {
	t.last = now
	t.started = true
}

// Allow reports whether an emission at now is permitted and, if so, records
// it as the last emission.
func (t *Throttle) Allow(now time.Time) bool {
	if !t.started {
		t.Start(now)
		return true
	}
	if now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}

// Interval returns the configured spacing.
func (t *Throttle) Interval() time.Duration {
	return t.interval
}
