// Package errdefs provides the typed error kinds used across Drover.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind is a stable error category. Kinds are part of the public
// contract: callers branch on them, payloads carry them verbatim.
type Kind string

const (
	// Registry load
	KindLibraryNotFound Kind = "LIBRARY_NOT_FOUND"
	KindLibraryInvalid  Kind = "LIBRARY_INVALID"

	// Matcher
	KindMatchTransient Kind = "MATCH_TRANSIENT"
	KindMatchInvalid   Kind = "MATCH_INVALID"

	// Container binding
	KindCapabilityMissing    Kind = "CAPABILITY_MISSING"
	KindOperationNotDeclared Kind = "OPERATION_NOT_DECLARED"

	// Context provider
	KindContextBadArg     Kind = "CONTEXT_BAD_ARG"
	KindNoContextProvider Kind = "NO_CONTEXT_PROVIDER"

	// Operation execution
	KindOperationFailed Kind = "OPERATION_FAILED"

	// Checkpoint state machine
	KindCheckpointUnreachable Kind = "CHECKPOINT_UNREACHABLE"
	KindCheckpointFallback    Kind = "CHECKPOINT_FALLBACK"
	KindRiskControl           Kind = "RISK_CONTROL"
	KindOffsite               Kind = "OFFSITE"

	// Bridge transport
	KindBridgeUnavailable Kind = "BRIDGE_UNAVAILABLE"

	// Rate limiting
	KindPermitDenied Kind = "PERMIT_DENIED"
)

// Error is a structured error with a stable kind and optional details
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Details map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a detail entry and returns the error
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error under a kind
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// IsKind reports whether err (or anything it wraps) carries the kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the kind from an error chain, or "" when untyped
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Transient reports whether the caller may retry
func Transient(err error) bool {
	return IsKind(err, KindMatchTransient) || IsKind(err, KindBridgeUnavailable)
}
