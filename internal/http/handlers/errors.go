package handlers

import (
	"errors"
	"net/http"

	"busline/backend/internal/models"
	"busline/backend/internal/qrsession"
	"busline/backend/internal/vnpay"
)

func (h *Handler) handleLifecycleError(logger interface {
	Error(string, ...any)
	Warn(string, ...any)
}, w http.ResponseWriter, action string, err error) {
	switch {
	case models.IsValidation(err), errors.Is(err, vnpay.ErrInvalidAmount), errors.Is(err, vnpay.ErrInvalidExpiry), errors.Is(err, models.ErrAmountMismatch):
		logger.Warn(action, "status", "invalid_request", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrGatewaySignatureInvalid):
		writeError(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, models.ErrOrderNotFound), errors.Is(err, models.ErrRouteNotFound), errors.Is(err, qrsession.ErrNoSession):
		logger.Warn(action, "status", "not_found", "error", err)
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrSeatsExhausted), errors.Is(err, models.ErrSeatTaken), errors.Is(err, models.ErrRouteInactive):
		logger.Warn(action, "status", "conflict", "error", err)
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrDownstreamUnavailable):
		logger.Warn(action, "status", "downstream_unavailable", "error", err)
		writeError(w, http.StatusBadGateway, "downstream service unavailable")
	default:
		logger.Error(action, "status", "internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
