package agentmemdb

import (
	"errors"
	"fmt"

	"github.com/becomeliminal/agentmemdb/index"
)

// Kind classifies an Error so callers can branch on failure type without
// parsing messages.
type Kind int

const (
	// KindDimensionMismatch means an input vector's length did not match
	// the store's configured dimension.
	KindDimensionMismatch Kind = iota
	// KindCapacityExceeded means the approximate index's max_elements
	// was reached.
	KindCapacityExceeded
	// KindIoError means a filesystem read/write/rename/flush failed.
	KindIoError
	// KindMalformedSnapshot means a snapshot or log line failed to parse,
	// or its dim disagreed with the target store.
	KindMalformedSnapshot
	// KindNotFound means a load or open was requested against a path
	// expected to already exist.
	KindNotFound
	// KindInvalidArgument means an argument was structurally invalid,
	// e.g. dim = 0, negative max_elements, or time_after > time_before.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindDimensionMismatch:
		return "DimensionMismatch"
	case KindCapacityExceeded:
		return "CapacityExceeded"
	case KindIoError:
		return "IoError"
	case KindMalformedSnapshot:
		return "MalformedSnapshot"
	case KindNotFound:
		return "NotFound"
	case KindInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Error is the failure type surfaced by every agentmemdb operation. It
// carries a Kind for programmatic dispatch and wraps an optional
// underlying error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agentmemdb: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("agentmemdb: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, agentmemdb.ErrDimensionMismatch)-style checks
// against the kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Kind sentinels for use with errors.Is(err, agentmemdb.ErrDimensionMismatch).
var (
	ErrDimensionMismatch = &Error{Kind: KindDimensionMismatch}
	ErrCapacityExceeded  = &Error{Kind: KindCapacityExceeded}
	ErrIoError           = &Error{Kind: KindIoError}
	ErrMalformedSnapshot = &Error{Kind: KindMalformedSnapshot}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
)

// wrapIndexErr maps a plain sentinel error from the index subpackage onto
// our typed Error, preserving Kind semantics across the package boundary.
func wrapIndexErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, index.ErrDimensionMismatch):
		return newError(KindDimensionMismatch, msg, err)
	case errors.Is(err, index.ErrCapacityExceeded):
		return newError(KindCapacityExceeded, msg, err)
	default:
		return newError(KindIoError, msg, err)
	}
}
