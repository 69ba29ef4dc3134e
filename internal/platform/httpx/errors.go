// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/goodsflow/internal/shared"
)

// retryMessage is the only detail infrastructure failures expose to clients.
const retryMessage = "the request could not be completed, it is safe to retry"

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Invalid State Transition", err.Error())
	case errors.Is(err, shared.ErrUnresolvable):
		Problem(w, http.StatusConflict, "Unresolvable Reference", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrTransient):
		logError(logger, "transient failure", err)
		Problem(w, http.StatusServiceUnavailable, "Service Unavailable", retryMessage)
	default:
		logError(logger, "unhandled error", err)
		Problem(w, http.StatusInternalServerError, "Internal Error", retryMessage)
	}
}

func logError(logger *slog.Logger, msg string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error(msg, slog.Any("error", err))
}
