// Package apperr defines the error taxonomy shared by the murmur stores.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so transports can map it to a status code.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindUnauthorized      Kind = "unauthorized"
	KindInvalidInput      Kind = "invalid_input"
	KindDependencyFailure Kind = "dependency_failure"
)

// Error carries a kind, a stable "<operation>.<reason>" code and the underlying cause.
type Error struct {
	kind Kind
	code string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Kind() Kind {
	return e.kind
}

// New builds an Error with code "<operation>.<reason>".
func New(kind Kind, operation, reason string, cause error) error {
	return &Error{kind: kind, code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

func NotFound(operation, reason string, cause error) error {
	return New(KindNotFound, operation, reason, cause)
}

func Conflict(operation, reason string, cause error) error {
	return New(KindConflict, operation, reason, cause)
}

func Unauthorized(operation, reason string, cause error) error {
	return New(KindUnauthorized, operation, reason, cause)
}

func InvalidInput(operation, reason string, cause error) error {
	return New(KindInvalidInput, operation, reason, cause)
}

func DependencyFailure(operation, reason string, cause error) error {
	return New(KindDependencyFailure, operation, reason, cause)
}

// KindOf reports the kind of err. Errors outside the taxonomy are dependency failures.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return KindDependencyFailure
}

// CodeOf returns the code of the outermost Error in the chain, or "" when absent.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.code
	}
	return ""
}

// Is reports whether err belongs to kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
