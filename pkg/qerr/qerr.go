// Package qerr defines the typed error kinds used across qsched, so that
// callers can branch on failure category (errors.As) instead of matching
// error strings.
package qerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of failure, per the error handling design.
type Kind string

const (
	// InvalidArg means malformed config or request (bad key, bad value,
	// missing required field).
	InvalidArg Kind = "invalid-arg"

	// NotFound means an unknown job id or hostname was referenced.
	NotFound Kind = "not-found"

	// InvalidState means the operation is disallowed in the object's
	// current state (e.g. cancelling a job twice).
	InvalidState Kind = "invalid-state"

	// ResourceExhausted means no candidate resources were available; the
	// caller may retry later, the condition is expected to clear.
	ResourceExhausted Kind = "resource-exhausted"

	// PluginFailure means a policy plugin call returned an error or
	// refused the operation.
	PluginFailure Kind = "plugin-failure"

	// IOFailure means sending a response or publishing an event failed.
	IOFailure Kind = "io-failure"

	// InternalInvariant means an illegal state transition or other
	// condition that should be impossible was observed; the caller logs
	// and ignores rather than propagating it to an external client.
	InternalInvariant Kind = "internal-invariant"
)

// Error is a qsched error carrying a Kind, a human-readable message, and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/errors.As reach the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping cause. If cause is
// already a *qerr.Error of the same kind, it's returned unchanged rather
// than double-wrapped.
func Wrap(kind Kind, message string, cause error) *Error {
	var existing *Error
	if errors.As(cause, &existing) && existing.Kind == kind {
		return existing
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *qerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of err if it is (or wraps) a *qerr.Error, and ok
// reports whether one was found.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Kind, true
}
