package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vietddude/payguard/internal/core/authz"
	"github.com/vietddude/payguard/internal/core/holds"
	"github.com/vietddude/payguard/internal/core/payments"
	"github.com/vietddude/payguard/internal/core/recovery"
	"github.com/vietddude/payguard/internal/infra/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps use case errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, authz.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, payments.ErrValidation), errors.Is(err, holds.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, holds.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, payments.ErrInvalidState),
		errors.Is(err, payments.ErrAlreadyEvaluated),
		errors.Is(err, payments.ErrNotCancellable),
		errors.Is(err, holds.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs server-side failures and hides their details.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", "operation", op, "error", err)
		writeError(w, status, "internal server error")
		return
	}
	logger.WarnContext(r.Context(), "Request rejected", "operation", op, "status", status, "error", err)
	writeError(w, status, err.Error())
}

// redemptionStatus maps a redemption outcome to an HTTP status.
func redemptionStatus(o recovery.Outcome) int {
	switch o {
	case recovery.OutcomeOK:
		return http.StatusOK
	case recovery.OutcomeForbidden:
		return http.StatusForbidden
	case recovery.OutcomeExpiredSession:
		return http.StatusGone
	case recovery.OutcomeInvalidSignature:
		return http.StatusBadRequest
	case recovery.OutcomeUnknownAction:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
