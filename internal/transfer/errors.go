package transfer

import (
	"errors"
	"fmt"
)

// Kind classifies a transfer failure.
type Kind int

const (
	// KindDestinationUnwritable means the destination file could not be created.
	KindDestinationUnwritable Kind = iota + 1

	// KindRequestFailed means the request failed before any byte was written.
	KindRequestFailed

	// KindReadFailed means the response stream broke mid-transfer.
	KindReadFailed

	// KindWriteFailed means appending a chunk to the destination failed.
	KindWriteFailed
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindDestinationUnwritable:
		return "destination_unwritable"
	case KindRequestFailed:
		return "request_failed"
	case KindReadFailed:
		return "read_failed"
	case KindWriteFailed:
		return "write_failed"
	default:
		return "unknown"
	}
}

// Error is returned by Fetch. Err carries the underlying cause unmodified.
type Error struct {
	Kind Kind
	URL  string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindDestinationUnwritable:
		return fmt.Sprintf("transfer: cannot create %s: %v", e.Path, e.Err)
	case KindRequestFailed:
		return fmt.Sprintf("transfer: request %s failed: %v", e.URL, e.Err)
	case KindReadFailed:
		return fmt.Sprintf("transfer: reading %s failed: %v", e.URL, e.Err)
	case KindWriteFailed:
		return fmt.Sprintf("transfer: writing %s failed: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("transfer: %v", e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a transfer Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == kind
}

// ErrBadStatus is wrapped when the server answers with a non-2xx status.
var ErrBadStatus = errors.New("unexpected HTTP status")
