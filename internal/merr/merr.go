// Package merr implements the closed error taxonomy from spec.md §7 as a
// typed, unwrappable error so callers can switch on kind with errors.As
// instead of matching strings.
package merr

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error categories spec.md §7 defines.
type Kind int

const (
	// Generic covers errors with no more specific kind; it is the
	// taxonomy's catch-all, mapped to exit code 1.
	Generic Kind = iota
	UnsupportedCounter
	PermissionDenied
	ChildSpawnFailure
	RingBufferLost
	IPCDisconnect
	DecodeError
	InternalInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case Generic:
		return "generic"
	case UnsupportedCounter:
		return "unsupported_counter"
	case PermissionDenied:
		return "permission_denied"
	case ChildSpawnFailure:
		return "child_spawn_failure"
	case RingBufferLost:
		return "ring_buffer_lost"
	case IPCDisconnect:
		return "ipc_disconnect"
	case DecodeError:
		return "decode_error"
	case InternalInvariantViolation:
		return "internal_invariant_violation"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a taxonomy Kind.
type Error struct {
	Kind Kind
	Err  error
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind of err if it (or something it wraps) is a
// *merr.Error, defaulting to Generic otherwise.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return Generic
}

// ExitCode maps a Kind to the stable CLI exit code fixed by spec.md §7.
func ExitCode(k Kind) int {
	switch k {
	case Generic:
		return 1
	case PermissionDenied:
		return 2
	case UnsupportedCounter:
		return 3
	case ChildSpawnFailure:
		return 4
	default:
		return 1
	}
}
