package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/skillhub/registry/pkg/registry"
)

// ErrorResponse is the JSON error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case registry.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrItemRemoved):
		return http.StatusGone
	case registry.IsNotFound(err):
		return http.StatusNotFound
	case registry.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, registry.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg})
}
