// Package toolerrors provides a structured error type for tool and planning
// failures that preserves a causal chain while still supporting errors.Is/As.
package toolerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a ToolError for callers that need to branch on failure
// category (e.g. the planning tool distinguishing "unknown plan" from
// "invalid structure").
type Kind string

const (
	KindUnspecified     Kind = ""
	KindDuplicate       Kind = "duplicate"
	KindNotFound        Kind = "not_found"
	KindInvalidArgument Kind = "invalid_argument"
	KindOutOfRange      Kind = "out_of_range"
	KindInternal        Kind = "internal"
)

// ToolError represents a structured tool failure that preserves a message,
// a classification Kind, and a causal chain so diagnostics survive retries
// and serialization.
type ToolError struct {
	Kind    Kind
	Message string
	Cause   *ToolError
}

// New constructs an unclassified ToolError with the given message.
func New(message string) *ToolError {
	return &ToolError{Message: message}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// WithKind constructs a ToolError with an explicit Kind.
func WithKind(kind Kind, message string) *ToolError {
	return &ToolError{Kind: kind, Message: message}
}

// NewWithCause constructs a ToolError that wraps an underlying error.
func NewWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a ToolError chain.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying tool error to support errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a ToolError with the same Kind, letting
// callers write errors.Is(err, toolerrors.WithKind(toolerrors.KindNotFound, "")).
func (e *ToolError) Is(target error) bool {
	t, ok := target.(*ToolError)
	if !ok || e == nil {
		return false
	}
	return t.Kind != KindUnspecified && t.Kind == e.Kind
}
