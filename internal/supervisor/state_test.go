package supervisor

import (
	"sync"
	"testing"
	"time"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateRunning, "running"},
		{StateAbortRequested, "abort_requested"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestState_IsActive(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateIdle, false},
		{StateRunning, true},
		{StateAbortRequested, true},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.IsActive(); got != tt.want {
				t.Errorf("IsActive() = %v, want %v", got, tt.want)
			}
		})
	}
}

type transition struct{ from, to State }

func TestTaskState_Transitions(t *testing.T) {
	var mu sync.Mutex
	var seen []transition
	ts := NewTaskState(func(from, to State) {
		mu.Lock()
		seen = append(seen, transition{from, to})
		mu.Unlock()
	})

	if ts.Get() != StateIdle {
		t.Fatalf("initial state = %v, want idle", ts.Get())
	}
	if ts.RequestAbort() {
		t.Error("RequestAbort() while idle should be a no-op")
	}
	if !ts.tryAcquire() {
		t.Fatal("tryAcquire() from idle failed")
	}
	if ts.tryAcquire() {
		t.Error("second tryAcquire() should fail")
	}
	if ts.AbortRequested() {
		t.Error("AbortRequested() = true before any request")
	}
	if !ts.RequestAbort() {
		t.Error("RequestAbort() while running should succeed")
	}
	if ts.RequestAbort() {
		t.Error("second RequestAbort() should be a no-op")
	}
	if !ts.AbortRequested() {
		t.Error("AbortRequested() = false after request")
	}
	if ts.abortRequestedAt().IsZero() {
		t.Error("abort request time not recorded")
	}
	if ts.tryAcquire() {
		t.Error("tryAcquire() during abort should fail")
	}

	ts.release()
	if ts.Get() != StateIdle {
		t.Errorf("state after release = %v, want idle", ts.Get())
	}
	ts.release()

	want := []transition{
		{StateIdle, StateRunning},
		{StateRunning, StateAbortRequested},
		{StateAbortRequested, StateIdle},
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestTaskState_ConcurrentAcquire(t *testing.T) {
	ts := NewTaskState(nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ts.tryAcquire() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestAbortView_AcknowledgeOnce(t *testing.T) {
	ts := NewTaskState(nil)
	ts.tryAcquire()
	ts.RequestAbort()
	time.Sleep(5 * time.Millisecond)

	calls := 0
	var latency time.Duration
	view := &abortView{state: ts, onAck: func(d time.Duration) {
		calls++
		latency = d
	}}

	if !view.AbortRequested() {
		t.Fatal("view should see the abort request")
	}
	view.Acknowledge()
	view.Acknowledge()

	if calls != 1 {
		t.Errorf("onAck calls = %d, want 1", calls)
	}
	if latency < 5*time.Millisecond {
		t.Errorf("latency = %v, want >= 5ms", latency)
	}
}
