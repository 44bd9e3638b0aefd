// Package progress derives transfer progress (rate and percentage) from raw
// byte counts and decides when a snapshot is worth emitting.
//
// The package is pure computation: callers own the accumulators and the
// clock, which keeps every function deterministic under test.
package progress

import (
	"fmt"
	"time"
)

// UnknownTotalPercentage is reported while a transfer of unknown size is in
// progress, and for its final snapshot.
const UnknownTotalPercentage = 99.9

// DefaultThrottleInterval is the minimum wall-clock spacing between emitted
// progress snapshots.
const DefaultThrottleInterval = 50 * time.Millisecond

// Snapshot is the derived state of a transfer at one instant.
type Snapshot struct {
	// Total is the expected size in bytes, nil when the server did not say.
	Total *uint64 `json:"total_size,omitempty"`

	// Transferred is the number of bytes received so far.
	Transferred uint64 `json:"transferred"`

	// Rate is the average throughput since the transfer started (bytes/sec).
	Rate float64 `json:"rate"`

	// Percentage is in [0,100] when Total is known, UnknownTotalPercentage otherwise.
	Percentage float64 `json:"percentage"`
}

// KnownTotal reports whether the snapshot has a usable total size.
func (s Snapshot) KnownTotal() bool {
	return s.Total != nil && *s.Total > 0
}

// String returns a compact human-readable form for logs.
func (s Snapshot) String() string {
	if s.KnownTotal() {
		return fmt.Sprintf("%.1f%% (%d/%d bytes, %.0f B/s)", s.Percentage, s.Transferred, *s.Total, s.Rate)
	}
	return fmt.Sprintf("%d bytes (%.0f B/s)", s.Transferred, s.Rate)
}

// Compute derives rate and percentage.
//
// Elapsed time is measured in floating-point seconds. Below one second the
// rate is the transferred count itself (at least one second is assumed to
// have passed), so the result never divides by zero. A nil or zero total
// yields UnknownTotalPercentage.
func Compute(transferred uint64, elapsed time.Duration, total *uint64) Snapshot {
	s := Snapshot{
		Total:       total,
		Transferred: transferred,
	}

	secs := elapsed.Seconds()
	if secs < 1 {
		s.Rate = float64(transferred)
	} else {
		s.Rate = float64(transferred) / secs
	}

	if total != nil && *total > 0 {
		// Integer division truncates, 99.99% reads as 99.
		pct := transferred * 100 / *total
		if pct > 100 {
			pct = 100
		}
		s.Percentage = float64(pct)
	} else {
		s.Percentage = UnknownTotalPercentage
	}

	return s
}

// Total is a convenience for building the optional total from a
// Content-Length style value where a negative number means unknown.
func Total(n int64) *uint64 {
	if n < 0 {
		return nil
	}
	v := uint64(n)
	return &v
}
