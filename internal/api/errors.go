package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/models"
)

// errorResponse is the error envelope for all API errors.
type errorResponse struct {
	Error string `json:"error"`
}

// respondErr maps domain errors to status codes. Unexpected errors are logged
// and reported without detail.
func respondErr(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	code, msg := resolveError(err)
	if code >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request failed")
	}
	respondJSON(w, code, errorResponse{Error: msg})
}

func resolveError(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "not enough tokens"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "access forbidden"
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized, "sign in required"
	case errors.Is(err, models.ErrAccountExists):
		return http.StatusConflict, "username or email already registered"
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, models.ErrUnknownPackage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrPaymentNotSettled):
		return http.StatusConflict, "payment has not been completed"
	case errors.Is(err, models.ErrStorage):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	}
	return http.StatusInternalServerError, "internal server error"
}
