// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// ErrValidation marks request input that failed decoding or validation.
var ErrValidation = errors.New("validation failed")

// Generic details returned for auth failures. The underlying cause is never
// written to the response.
const (
	detailInvalidCredentials = "Invalid credentials"
	detailUnauthenticated    = "Authentication required"
	detailForbidden          = "Access denied"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", detailInvalidCredentials)
	case errors.Is(err, shared.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", `Bearer realm="odyssey-iam"`)
		Problem(w, http.StatusUnauthorized, "Unauthorized", detailUnauthenticated)
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", detailForbidden)
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
