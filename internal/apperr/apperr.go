// Package apperr defines the error-kind taxonomy shared across the core.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation-policy decisions by callers.
// Transports map a Kind to a status code; the core never does that mapping
// itself.
type Kind string

const (
	NotFound   Kind = "not_found"
	Validation Kind = "validation"
	Conflict   Kind = "conflict"
	Database   Kind = "database"
	External   Kind = "external"
	Internal   Kind = "internal"
)

// Error is the single error type crossing the core boundary.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func new_(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func NotFoundf(format string, args ...any) *Error {
	return new_(NotFound, fmt.Sprintf(format, args...))
}

func Validationf(format string, args ...any) *Error {
	return new_(Validation, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) *Error {
	return new_(Conflict, fmt.Sprintf(format, args...))
}

func Databasef(err error, format string, args ...any) *Error {
	return &Error{Kind: Database, Message: fmt.Sprintf(format, args...), Err: err}
}

func Externalf(err error, format string, args ...any) *Error {
	return &Error{Kind: External, Message: fmt.Sprintf(format, args...), Err: err}
}

func Internalf(err error, format string, args ...any) *Error {
	return &Error{Kind: Internal, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
