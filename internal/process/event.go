package process

import "fmt"

// Stream identifies which child output a line came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// EventKind classifies a runner event.
type EventKind int

const (
	// EventLine carries one line of child output.
	EventLine EventKind = iota

	// EventExited is emitted once after the child exits on its own.
	EventExited

	// EventAborted is emitted once after an abort killed the child.
	EventAborted

	// EventSpawnFailed is emitted when the child could not be started.
	EventSpawnFailed
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case EventLine:
		return "line"
	case EventExited:
		return "exited"
	case EventAborted:
		return "aborted"
	case EventSpawnFailed:
		return "spawn_failed"
	default:
		return "unknown"
	}
}

// Event is one item of the multiplexed output sequence.
type Event struct {
	Kind EventKind
	Step string

	// Line fields.
	Stream Stream
	Text   string

	// Exit fields.
	Code    int
	Success bool

	// SpawnFailed reason.
	Reason string
}

// Message renders the event as a user-facing progress message.
func (e Event) Message() string {
	switch e.Kind {
	case EventLine:
		return e.Text
	case EventExited:
		if e.Success {
			return fmt.Sprintf("%s finished", e.Step)
		}
		return fmt.Sprintf("%s exited with code %d", e.Step, e.Code)
	case EventAborted:
		return fmt.Sprintf("%s aborted", e.Step)
	case EventSpawnFailed:
		return fmt.Sprintf("%s failed to start: %s", e.Step, e.Reason)
	default:
		return ""
	}
}

// EventSink receives events in the order the runner observes them.
// It is called from the runner's goroutine and should not block for long.
type EventSink func(Event)

// AbortSignal is the runner's read-only view of the task state plus a
// write-once acknowledgement.
type AbortSignal interface {
	AbortRequested() bool
	Acknowledge()
}

// NeverAbort is an AbortSignal that is never raised.
type NeverAbort struct{}

func (NeverAbort) AbortRequested() bool { return false }
func (NeverAbort) Acknowledge()         {}
