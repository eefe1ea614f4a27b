package main

import (
	"errors"
	"net/http"

	"repairflow/document"
	"repairflow/payment"
	"repairflow/vendors"
	"repairflow/workorder"

	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps domain errors to an HTTP status and a stable kind string.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, workorder.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, document.ErrNotFound),
		errors.Is(err, vendors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, workorder.ErrInvalidTransition),
		errors.Is(err, document.ErrWrongStatus):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, workorder.ErrNotAssigned),
		errors.Is(err, payment.ErrNotAssigned),
		errors.Is(err, document.ErrNotAssigned):
		return http.StatusConflict, "not_assigned"
	case errors.Is(err, workorder.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, document.ErrInvalidFile):
		return http.StatusBadRequest, "invalid_file"
	case errors.Is(err, payment.ErrPayoutAccountMissing):
		return http.StatusUnprocessableEntity, "payout_account_missing"
	case errors.Is(err, payment.ErrEstimateMissing):
		return http.StatusUnprocessableEntity, "estimate_missing"
	case errors.Is(err, payment.ErrPaymentInProgress):
		return http.StatusConflict, "payment_in_progress"
	case errors.Is(err, payment.ErrPaymentInitiationFailed):
		return http.StatusBadGateway, "payment_initiation_failed"
	case errors.Is(err, payment.ErrPaymentOutcomeUnknown):
		return http.StatusGatewayTimeout, "payment_outcome_unknown"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError renders err. Internal errors are logged and hidden from callers.
func (s *Server) writeError(c *gin.Context, err error) {
	status, kind := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.WithContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	c.JSON(status, errorBody{Error: msg, Kind: kind})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: msg, Kind: "bad_request"})
}
