// Package apierr classifies the errors the HTTP layer can receive from the
// store and state machine into stable status codes, so every handler
// translates errors the same way instead of each re-deriving it.
package apierr

import (
	"errors"
	"net/http"

	"github.com/maxthelion/octopoid/internal/store"
)

// Kind is a stable, machine-readable error classification returned in the
// JSON error body alongside the HTTP status.
type Kind string

const (
	KindStaleVersion Kind = "stale_version"
	KindWrongState   Kind = "wrong_state"
	KindNotFound     Kind = "not_found"
	KindValidation   Kind = "validation"
	KindInternal     Kind = "internal"
)

// Error wraps an underlying cause with the Kind and HTTP status it should
// surface as.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Classify maps a store/statemachine error into an *Error with the right
// status code. Unrecognized errors become KindInternal/500.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, store.ErrStaleVersion):
		return &Error{Kind: KindStaleVersion, Status: http.StatusConflict, Message: "task version is stale", Cause: err}
	case errors.Is(err, store.ErrWrongState):
		return &Error{Kind: KindWrongState, Status: http.StatusConflict, Message: "task is not in the expected queue", Cause: err}
	case errors.Is(err, store.ErrNotFound):
		return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: "not found", Cause: err}
	default:
		return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: "internal error", Cause: err}
	}
}

// Validation builds a 400-class error for malformed requests (e.g. a PATCH
// body that tries to set queue directly).
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: msg}
}

// NotFound builds a 404 directly, for handlers that never touch the store
// error (e.g. an unknown flow name).
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: msg}
}
