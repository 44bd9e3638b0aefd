// Package supervisor runs one task at a time under a shared task state and
// translates abort requests into cooperative cancellation.
package supervisor

import (
	"sync"
	"time"
)

// State is the global task state.
type State int

const (
	// StateIdle means no task is running.
	StateIdle State = iota

	// StateRunning means a task holds the slot.
	StateRunning

	// StateAbortRequested means the running task has been asked to stop.
	StateAbortRequested
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateAbortRequested:
		return "abort_requested"
	default:
		return "unknown"
	}
}

// IsActive returns true while a task holds the slot.
func (s State) IsActive() bool {
	return s == StateRunning || s == StateAbortRequested
}

// TaskState is the single shared state cell. The lock is held only for one
// read or one write, never across I/O.
type TaskState struct {
	mu        sync.Mutex
	state     State
	abortedAt time.Time
	onChange  func(old, new State)
}

// NewTaskState returns an Idle state. onChange, if set, is called outside the
// lock after every transition.
func NewTaskState(onChange func(old, new State)) *TaskState {
	return &TaskState{onChange: onChange}
}

// Get returns the current state.
func (t *TaskState) Get() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// AbortRequested reports whether the running task has been asked to stop.
func (t *TaskState) AbortRequested() bool {
	return t.Get() == StateAbortRequested
}

// tryAcquire moves Idle to Running. It fails in any other state.
func (t *TaskState) tryAcquire() bool {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return false
	}
	t.state = StateRunning
	t.abortedAt = time.Time{}
	t.mu.Unlock()

	t.notify(StateIdle, StateRunning)
	return true
}

// RequestAbort moves Running to AbortRequested. It is a no-op in any other
// state and reports whether the transition happened.
func (t *TaskState) RequestAbort() bool {
	t.mu.Lock()
	if t.state != StateRunning {
		t.mu.Unlock()
		return false
	}
	t.state = StateAbortRequested
	t.abortedAt = time.Now()
	t.mu.Unlock()

	t.notify(StateRunning, StateAbortRequested)
	return true
}

// abortRequestedAt returns when the pending abort was requested.
func (t *TaskState) abortRequestedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.abortedAt
}

// release returns the state to Idle from anywhere.
func (t *TaskState) release() {
	t.mu.Lock()
	old := t.state
	t.state = StateIdle
	t.abortedAt = time.Time{}
	t.mu.Unlock()

	if old != StateIdle {
		t.notify(old, StateIdle)
	}
}

func (t *TaskState) notify(old, new State) {
	if t.onChange != nil {
		t.onChange(old, new)
	}
}

// abortView is the runner's view of the task state. Acknowledge fires its
// callback at most once per task.
type abortView struct {
	state *TaskState
	once  sync.Once
	onAck func(latency time.Duration)
}

func (a *abortView) AbortRequested() bool {
	return a.state.AbortRequested()
}

func (a *abortView) Acknowledge() {
	a.once.Do(func() {
		if a.onAck == nil {
			return
		}
		var latency time.Duration
		if at := a.state.abortRequestedAt(); !at.IsZero() {
			latency = time.Since(at)
		}
		a.onAck(latency)
	})
}
