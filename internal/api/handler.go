package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vietddude/payguard/internal/core/authz"
	"github.com/vietddude/payguard/internal/core/classifier"
	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/core/payments"
)

// Handler serves the payment reliability API.
type Handler struct {
	svc      *payments.Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler creates the API handler.
func NewHandler(svc *payments.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger, validate: validator.New()}
}

// decode reads an optional JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.StructCtx(r.Context(), dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation error: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (authz.Caller, bool) {
	c, ok := CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
	}
	return c, ok
}

// SubmitFailure handles POST /v1/transactions/{id}/failures.
func (h *Handler) SubmitFailure(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req FailureRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.svc.SubmitFailure(r.Context(), caller, chi.URLParam(r, "id"), classifier.Signal{
		Code:          req.Code,
		Message:       req.Message,
		ExceptionKind: req.ExceptionKind,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "submit_failure", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// EvaluateVariance handles POST /v1/transactions/{id}/variance.
func (h *Handler) EvaluateVariance(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req VarianceRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.EvaluateVariance(r.Context(), caller, payments.VarianceRequest{
		TransactionID: chi.URLParam(r, "id"),
		Expected:      req.ExpectedAmount,
		Received:      req.ReceivedAmount,
		Class:         req.SizeClass,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "evaluate_variance", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Redeem handles POST /v1/recovery/{session_key}/redeem.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req RedeemRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.RedeemRecoveryAction(r.Context(), caller, chi.URLParam(r, "session_key"), req.Action)
	if err != nil {
		writeServiceError(w, r, h.logger, "redeem", err)
		return
	}
	writeJSON(w, redemptionStatus(res.Outcome), res)
}

// ProcessBatch handles POST /v1/retry/batch.
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req BatchRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	stats, err := h.svc.ProcessReadyBatch(r.Context(), caller, req.Limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "process_batch", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// BeginCashout handles POST /v1/cashouts.
func (h *Handler) BeginCashout(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CashoutRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = caller.UserID
	}
	tx, err := h.svc.BeginCashout(r.Context(), caller, payments.CashoutRequest{
		UserID:   userID,
		Currency: req.Currency,
		Amount:   req.Amount,
		Provider: req.Provider,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "begin_cashout", err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// ExecuteTransfer handles POST /v1/cashouts/{id}/execute.
func (h *Handler) ExecuteTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	out, err := h.svc.ExecuteTransfer(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "execute_transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// OpenDeposit handles POST /v1/deposits.
func (h *Handler) OpenDeposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req DepositRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = caller.UserID
	}
	tx, err := h.svc.OpenDeposit(r.Context(), caller, payments.DepositRequest{
		UserID:   userID,
		Currency: req.Currency,
		Expected: req.ExpectedAmount,
		BuyerFee: req.BuyerFee,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "open_deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// Cancel handles POST /v1/transactions/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CancelRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.svc.CancelTransaction(r.Context(), caller, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// GetTransaction handles GET /v1/transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	view, err := h.svc.GetTransaction(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// WalletView is the wallet balance with its holds.
type WalletView struct {
	Wallet *domain.Wallet `json:"wallet"`
	Holds  []*domain.Hold `json:"holds"`
}

// GetWallet handles GET /v1/wallets/{user_id}/{currency}.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	wallet, hs, err := h.svc.Wallet(r.Context(), caller, chi.URLParam(r, "user_id"), strings.ToUpper(chi.URLParam(r, "currency")))
	if err != nil {
		writeServiceError(w, r, h.logger, "get_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, WalletView{Wallet: wallet, Holds: hs})
}
