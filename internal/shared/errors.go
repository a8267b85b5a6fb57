package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes. Every error surfaced by a core operation wraps exactly one of them.
var (
	// ErrValidation marks malformed or missing input caught before any write.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a concurrent write that invalidated an optimistic check.
	ErrConflict = errors.New("conflicting concurrent write")
	// ErrPrecondition marks a business rule blocking well-formed input.
	ErrPrecondition = errors.New("precondition failed")
	// ErrTransient marks an unreachable or stalled store; safe to retry the whole operation.
	ErrTransient = errors.New("store temporarily unavailable")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
)

// ErrDuplicateRequest is returned when an idempotency key has already been committed.
var ErrDuplicateRequest = errors.New("request already processed")

// Detail locates an error for display: which row, which field, what was expected.
type Detail struct {
	Row      int
	Field    string
	Value    any
	Expected string
}

// Error carries an error class, the domain cause and optional location detail.
type Error struct {
	Class error
	Err   error
	Detail
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else if e.Class != nil {
		b.WriteString(e.Class.Error())
	}
	var parts []string
	if e.Row > 0 {
		parts = append(parts, fmt.Sprintf("row %d", e.Row))
	}
	if e.Field != "" {
		parts = append(parts, "field "+e.Field)
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("got %v", e.Value))
	}
	if e.Expected != "" {
		parts = append(parts, "expected "+e.Expected)
	}
	if len(parts) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap exposes both the class and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Class != nil {
		out = append(out, e.Class)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Validation wraps err as a validation error.
func Validation(err error, d Detail) *Error {
	return &Error{Class: ErrValidation, Err: err, Detail: d}
}

// Precondition wraps err as a precondition error.
func Precondition(err error, d Detail) *Error {
	return &Error{Class: ErrPrecondition, Err: err, Detail: d}
}

// Conflict wraps err as a conflict error.
func Conflict(err error) *Error {
	return &Error{Class: ErrConflict, Err: err}
}

// Transient wraps err as a transient error.
func Transient(err error) *Error {
	return &Error{Class: ErrTransient, Err: err}
}

// NotFound wraps err as a not-found error.
func NotFound(err error) *Error {
	return &Error{Class: ErrNotFound, Err: err}
}

// ClassOf returns the class sentinel wrapped by err, or nil for unclassified errors.
func ClassOf(err error) error {
	for _, class := range []error{ErrValidation, ErrConflict, ErrPrecondition, ErrTransient, ErrNotFound} {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}

// Retryable reports whether the caller may retry the whole operation unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// DetailOf extracts location detail when err carries one.
func DetailOf(err error) (Detail, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail, true
	}
	return Detail{}, false
}
