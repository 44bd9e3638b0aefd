package progress

import (
	"math/rand"
	"testing"
	"time"
)

func u64(n uint64) *uint64 { return &n }

func TestCompute(t *testing.T) {
	tests := []struct {
		name        string
		transferred uint64
		elapsed     time.Duration
		total       *uint64
		wantRate    float64
		wantPct     float64
	}{
		{"zero elapsed uses transferred as rate", 500, 0, u64(1000), 500, 50},
		{"sub-second elapsed", 500, 300 * time.Millisecond, u64(1000), 500, 50},
		{"two seconds", 1000, 2 * time.Second, u64(1000), 500, 100},
		{"fractional seconds", 3000, 1500 * time.Millisecond, u64(6000), 2000, 50},
		{"truncated percentage", 999, 2 * time.Second, u64(1000), 499.5, 99},
		{"unknown total", 1234, 2 * time.Second, nil, 617, UnknownTotalPercentage},
		{"zero total is unknown", 10, time.Second, u64(0), 10, UnknownTotalPercentage},
		{"over-delivery clamps to 100", 2000, time.Second, u64(1000), 2000, 100},
		{"nothing yet", 0, 0, u64(1000), 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Compute(tt.transferred, tt.elapsed, tt.total)
			if s.Rate != tt.wantRate {
				t.Errorf("Rate = %v, want %v", s.Rate, tt.wantRate)
			}
			if s.Percentage != tt.wantPct {
				t.Errorf("Percentage = %v, want %v", s.Percentage, tt.wantPct)
			}
			if s.Transferred != tt.transferred {
				t.Errorf("Transferred = %d, want %d", s.Transferred, tt.transferred)
			}
		})
	}
}

// Any split of a known total into chunks ends at exactly 100%.
func TestCompute_FinalPercentageIs100(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		total := uint64(rng.Intn(5_000_000) + 1)
		var transferred uint64
		var last Snapshot
		for transferred < total {
			chunk := uint64(rng.Intn(64*1024) + 1)
			if transferred+chunk > total {
				chunk = total - transferred
			}
			transferred += chunk
			next := Compute(transferred, time.Duration(rng.Intn(5000))*time.Millisecond, &total)
			if next.Percentage < last.Percentage {
				t.Fatalf("percentage decreased: %v -> %v", last.Percentage, next.Percentage)
			}
			last = next
		}
		if last.Percentage != 100 {
			t.Fatalf("total=%d final percentage = %v, want 100", total, last.Percentage)
		}
	}
}

func TestTotal(t *testing.T) {
	if Total(-1) != nil {
		t.Error("Total(-1) should be nil")
	}
	if got := Total(42); got == nil || *got != 42 {
		t.Errorf("Total(42) = %v, want 42", got)
	}
}

func TestSnapshot_String(t *testing.T) {
	known := Compute(50, time.Second, u64(100))
	if got := known.String(); got != "50.0% (50/100 bytes, 50 B/s)" {
		t.Errorf("String() = %q", got)
	}
	unknown := Compute(50, time.Second, nil)
	if got := unknown.String(); got != "50 bytes (50 B/s)" {
		t.Errorf("String() = %q", got)
	}
}
