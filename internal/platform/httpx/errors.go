// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"errors"
	"net/http"
)

// Kind sentinels for the domain layer. Modules wrap these so handlers can
// map any error to a response without knowing the module internals.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
)

// Err builds an error with its own message that still matches the given
// kind sentinel under errors.Is.
func Err(kind error, msg string) error {
	return &kindedError{kind: kind, msg: msg}
}

type kindedError struct {
	kind error
	msg  string
}

func (e *kindedError) Error() string { return e.msg }

func (e *kindedError) Unwrap() error { return e.kind }

// Detailer is implemented by errors that carry structured context worth
// returning to the caller (e.g. which product lacked stock and by how much).
type Detailer interface {
	Details() map[string]any
}

// RespondError maps domain errors to HTTP responses. Validation, not-found
// and conflict errors surface their message; anything else is treated as a
// persistence failure and returns an opaque 500.
func RespondError(w http.ResponseWriter, err error) {
	var details map[string]any
	var d Detailer
	if errors.As(err, &d) {
		details = d.Details()
	}
	switch {
	case errors.Is(err, ErrValidation):
		problemWithDetails(w, http.StatusBadRequest, "Validation Failed", err.Error(), details)
	case errors.Is(err, ErrNotFound):
		problemWithDetails(w, http.StatusNotFound, "Not Found", err.Error(), details)
	case errors.Is(err, ErrConflict):
		problemWithDetails(w, http.StatusConflict, "Conflict", err.Error(), details)
	case errors.Is(err, ErrForbidden):
		problemWithDetails(w, http.StatusForbidden, "Forbidden", err.Error(), details)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
