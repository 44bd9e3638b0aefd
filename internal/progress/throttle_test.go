package progress

import (
	"testing"
	"time"
)

func TestThrottle_Allow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th := NewThrottle(50 * time.Millisecond)
	th.Start(base)

	steps := []struct {
		offset time.Duration
		want   bool
	}{
		{10 * time.Millisecond, false},
		{49 * time.Millisecond, false},
		{50 * time.Millisecond, true},
		{60 * time.Millisecond, false},
		{99 * time.Millisecond, false},
		{100 * time.Millisecond, true},
		{400 * time.Millisecond, true},
		{401 * time.Millisecond, false},
	}

	for _, s := range steps {
		if got := th.Allow(base.Add(s.offset)); got != s.want {
			t.Errorf("Allow(+%v) = %v, want %v", s.offset, got, s.want)
		}
	}
}

func TestThrottle_FirstCallWithoutStart(t *testing.T) {
	th := NewThrottle(time.Second)
	now := time.Now()
	if !th.Allow(now) {
		t.Error("first Allow without Start should pass")
	}
	if th.Allow(now.Add(time.Millisecond)) {
		t.Error("second Allow inside interval should be blocked")
	}
}

func TestNewThrottle_Default(t *testing.T) {
	if got := NewThrottle(0).Interval(); got != DefaultThrottleInterval {
		t.Errorf("Interval() = %v, want %v", got, DefaultThrottleInterval)
	}
}

// Emissions over a simulated stream are spaced at least one interval apart.
func TestThrottle_Spacing(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th := NewThrottle(50 * time.Millisecond)
	th.Start(base)

	var emitted []time.Time
	for ms := 0; ms < 1000; ms += 3 {
		now := base.Add(time.Duration(ms) * time.Millisecond)
		if th.Allow(now) {
			emitted = append(emitted, now)
		}
	}

	if len(emitted) == 0 {
		t.Fatal("no emissions")
	}
	for i := 1; i < len(emitted); i++ {
		if gap := emitted[i].Sub(emitted[i-1]); gap < 50*time.Millisecond {
			t.Errorf("emission %d spaced %v apart", i, gap)
		}
	}
}
