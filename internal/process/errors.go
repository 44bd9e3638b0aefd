package process

import (
	"errors"
	"fmt"
)

// ErrAborted is returned when an abort request terminated the child.
var ErrAborted = errors.New("process aborted")

// SpawnError means the child could not be started.
type SpawnError struct {
	Step string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s: spawn failed: %v", e.Step, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError means the child ran to completion with a non-zero code.
// Children killed by a signal report 128 + the signal number.
type ExitError struct {
	Step string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exited with code %d", e.Step, e.Code)
}

// WaitError means waiting on the child failed for a reason other than a
// non-zero exit.
type WaitError struct {
	Step string
	Err  error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("%s: wait failed: %v", e.Step, e.Err)
}

func (e *WaitError) Unwrap() error { return e.Err }

// ExitCode extracts the exit code from an error returned by Execute.
// It returns 0 for nil and -1 when the error carries no code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}
