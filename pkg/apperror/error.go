// Package apperror defines the structured errors surfaced by user-facing
// operations. Every error carries a stable machine-readable code so MCP
// clients can branch on failures without parsing messages.
package apperror

import (
	"errors"
	"fmt"
)

// Stable error codes.
const (
	CodeEntityNotFound      = "entity_not_found"
	CodeEntityNotCurrent    = "entity_not_current"
	CodeInvariantViolation  = "invariant_violation"
	CodeSemanticUnavailable = "semantic_unavailable"
	CodeConfigInvalid       = "configuration_invalid"
	CodeInvalidParams       = "invalid_params"
)

// Error represents an application error with a stable code
type Error struct {
	Code     string
	Message  string
	Internal error
	Details  map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal error
func (e *Error) Unwrap() error {
	return e.Internal
}

// Is matches errors by code, so sentinel comparisons survive WithInternal /
// WithDetails copies.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithInternal returns a copy of the error with an internal error attached
func (e *Error) WithInternal(err error) *Error {
	return &Error{
		Code:     e.Code,
		Message:  e.Message,
		Internal: err,
		Details:  e.Details,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		Code:     e.Code,
		Message:  message,
		Internal: e.Internal,
		Details:  e.Details,
	}
}

// WithDetails returns a copy of the error with details attached
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{
		Code:     e.Code,
		Message:  e.Message,
		Internal: e.Internal,
		Details:  details,
	}
}

// New creates a new application error
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Common errors
var (
	// ErrEntityNotFound is warned and skipped by mutation paths, raised by reads.
	ErrEntityNotFound = New(CodeEntityNotFound, "entity not found")

	// ErrEntityNotCurrent is raised when an operation requires a current
	// entity version but only archived versions exist.
	ErrEntityNotCurrent = New(CodeEntityNotCurrent, "entity has no current version")

	// ErrInvariantViolation indicates a bug in the store; the enclosing
	// transaction must abort.
	ErrInvariantViolation = New(CodeInvariantViolation, "graph invariant violated")

	// ErrConfigInvalid fails startup.
	ErrConfigInvalid = New(CodeConfigInvalid, "invalid configuration")

	// ErrInvalidParams is raised when a request payload fails validation.
	ErrInvalidParams = New(CodeInvalidParams, "invalid parameters")
)

// NewSemanticUnavailable is returned by strict-mode semantic search when the
// request would otherwise fall back to keyword search.
func NewSemanticUnavailable(reason string) *Error {
	return &Error{
		Code:    CodeSemanticUnavailable,
		Message: fmt.Sprintf("semantic search unavailable: %s", reason),
		Details: map[string]any{"fallbackReason": reason},
	}
}

// CodeOf extracts the stable code from err, or "internal_error" for plain errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}
