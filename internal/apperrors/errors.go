// Package apperrors defines the error taxonomy shared by the saga executor,
// the workflows and the trigger adapters.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers that need to map it to a status code.
type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindInvalidState    Kind = "INVALID_STATE"
	KindConflict        Kind = "CONFLICT"
	KindAlreadyPaid     Kind = "ALREADY_PAID"
	KindSagaNotFound    Kind = "SAGA_NOT_FOUND"
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindInternal        Kind = "INTERNAL"
)

// Error is a classified business error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidState    = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrConflict        = &Error{Kind: KindConflict, Message: "conflict"}
	ErrAlreadyPaid     = &Error{Kind: KindAlreadyPaid, Message: "already paid"}
	ErrSagaNotFound    = &Error{Kind: KindSagaNotFound, Message: "saga not found"}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
)

// ErrStaleVersion marks a conflict caused by an optimistic version check.
// Retrying against the fresh row may succeed.
var ErrStaleVersion = errors.New("stale version")

// New creates a classified error.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(entity, id string) *Error {
	return New(KindNotFound, "%s not found: %s", entity, id)
}

func InvalidState(format string, args ...interface{}) *Error {
	return New(KindInvalidState, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, format, args...)
}

// StaleVersion is a CONFLICT wrapping ErrStaleVersion.
func StaleVersion(entity, id string, expected, found int64) *Error {
	return Wrap(KindConflict, ErrStaleVersion, "%s %s was modified concurrently: expected version %d, found %d",
		entity, id, expected, found)
}

func AlreadyPaid(reservationID string) *Error {
	return New(KindAlreadyPaid, "reservation already paid: %s", reservationID)
}

func SagaNotFound(name string) *Error {
	return New(KindSagaNotFound, "saga not registered: %s", name)
}

func InvalidArgument(format string, args ...interface{}) *Error {
	return New(KindInvalidArgument, format, args...)
}

// KindOf returns the kind of the first classified error in the chain,
// or KindInternal for anything unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the status code used by the HTTP adapter.
func HTTPStatus(kind Kind) int {
	switch kind {
	case "":
		return http.StatusOK
	case KindNotFound, KindSagaNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindConflict, KindAlreadyPaid:
		return http.StatusConflict
	case KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
