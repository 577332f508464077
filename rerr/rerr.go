// Package rerr defines the error taxonomy surfaced at every API boundary.
// Internal code never swallows a failure: it wraps the underlying cause
// with the matching Code, and callers can still errors.Is/errors.As
// through to the root cause.
package rerr

import (
	"errors"
	"fmt"
)

// Code classifies an error for programmatic handling at the API boundary.
type Code int

const (
	// InvalidArgument marks malformed input from the caller: null, wrong
	// size, NaN where disallowed.
	InvalidArgument Code = iota
	// InvalidPipeline marks graph-level issues: cycle, missing input,
	// field-type mismatch, non-device-accessible input to a GPU-only node.
	InvalidPipeline
	// InvalidGeometry marks mesh / acceleration-structure build inputs.
	InvalidGeometry
	// DeviceError wraps any ray-tracing backend failure.
	DeviceError
	// OutOfMemory marks a failed allocation, host or device.
	OutOfMemory
	// NotInitialized marks use of a handle or subsystem before setup.
	NotInitialized
	// AlreadyInitialized marks a duplicate setup call.
	AlreadyInitialized
	// Cancelled marks a run that observed a cancellation request.
	Cancelled
)

func (c Code) String() string {
	switch c {
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidPipeline:
		return "InvalidPipeline"
	case InvalidGeometry:
		return "InvalidGeometry"
	case DeviceError:
		return "DeviceError"
	case OutOfMemory:
		return "OutOfMemory"
	case NotInitialized:
		return "NotInitialized"
	case AlreadyInitialized:
		return "AlreadyInitialized"
	case Cancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error is the taxonomy-tagged error type returned at API boundaries. It
// wraps an optional underlying cause (a device driver error, a context
// deadline, etc.) so errors.Is/errors.As still work through it.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an *Error with no wrapped cause.
func New(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error that wraps cause, following the project-wide
// "...: %w" convention for surfacing root causes rather than swallowing
// them.
func Wrap(code Code, cause error, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err carries the given Code anywhere in its chain.
func Is(err error, code Code) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// CodeOf extracts the Code from err, defaulting to DeviceError for errors
// that did not originate from this package (never nil Code); the bool
// reports whether err carried a Code of its own.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return DeviceError, false
}
