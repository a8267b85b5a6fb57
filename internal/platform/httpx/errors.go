// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/dropship-ops/opsconsole/internal/shared"
)

// RespondError maps classified errors to RFC7807 responses. Unclassified errors are
// reported as 500 without leaking the cause.
func RespondError(w http.ResponseWriter, err error) {
	status, title := StatusOf(err)
	if status == http.StatusInternalServerError {
		Problem(w, status, title, "")
		return
	}
	p := ProblemDetail{Title: title, Status: status, Detail: err.Error()}
	if d, ok := shared.DetailOf(err); ok {
		p.Row = d.Row
		p.Field = d.Field
		p.Value = d.Value
		p.Expected = d.Expected
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	JSON(w, status, p)
}

// StatusOf returns the HTTP status and title for an error class.
func StatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return http.StatusUnprocessableEntity, "Validation Failed"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, shared.ErrPrecondition):
		return http.StatusPreconditionFailed, "Precondition Failed"
	case errors.Is(err, shared.ErrTransient):
		return http.StatusServiceUnavailable, "Temporarily Unavailable"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}
