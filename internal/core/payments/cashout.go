package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vietddude/payguard/internal/core/authz"
	"github.com/vietddude/payguard/internal/core/classifier"
	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/core/retry"
	"github.com/vietddude/payguard/internal/core/worker"
	"github.com/vietddude/payguard/internal/infra/storage"
)

// CashoutRequest asks for funds to leave a wallet through a provider.
type CashoutRequest struct {
	UserID   string          `json:"user_id"  validate:"required"`
	Currency string          `json:"currency" validate:"required,len=3"`
	Amount   decimal.Decimal `json:"amount"`
	Provider string          `json:"provider" validate:"required"`
}

// BeginCashout creates a pending cashout and reserves its amount.
func (s *Service) BeginCashout(ctx context.Context, caller authz.Caller, req CashoutRequest) (*domain.Transaction, error) {
	if err := s.authorize(caller, authz.CapBeginCashout, req.UserID); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	now := s.now()
	tx := &domain.Transaction{
		ID:               uuid.NewString(),
		Kind:             domain.KindWalletCashout,
		UserID:           req.UserID,
		Amount:           req.Amount,
		Currency:         strings.ToUpper(req.Currency),
		Provider:         req.Provider,
		Status:           domain.TxStatusPending,
		FailureType:      domain.FailureTypeNone,
		MaxRetryAttempts: s.orch.Policy().MaxAttempts(),
		BuyerFee:         decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
		if err := uow.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}
		_, err := s.ledger.Reserve(ctx, uow, tx.UserID, tx.Currency, tx.ID, tx.Amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Cashout created",
		"tx_id", tx.ID,
		"user_id", tx.UserID,
		"amount", tx.Amount.String(),
		"currency", tx.Currency,
		"provider", tx.Provider,
		"max_retry_attempts", tx.MaxRetryAttempts,
	)
	return tx, nil
}

// ExecuteTransfer performs the first provider call of a pending cashout.
func (s *Service) ExecuteTransfer(ctx context.Context, caller authz.Caller, txID string) (worker.Outcome, error) {
	if err := s.authorize(caller, authz.CapExecuteTransfer, ""); err != nil {
		return worker.Outcome{}, err
	}
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return worker.Outcome{}, err
	}
	if tx.Kind != domain.KindWalletCashout || tx.Status != domain.TxStatusPending || tx.RetryCount != 0 {
		return worker.Outcome{}, fmt.Errorf("%w: %s is %s", ErrInvalidState, tx.ID, tx.Status)
	}
	return s.executor.Execute(ctx, tx)
}

// SubmitFailure reports a failed provider call for txID.
func (s *Service) SubmitFailure(ctx context.Context, caller authz.Caller, txID string, sig classifier.Signal) (retry.Decision, error) {
	if err := s.authorize(caller, authz.CapSubmitFailure, ""); err != nil {
		return retry.Decision{}, err
	}
	return s.orch.HandleFailure(ctx, txID, sig)
}

// ProcessReadyBatch executes up to limit due retries.
func (s *Service) ProcessReadyBatch(ctx context.Context, caller authz.Caller, limit int) (worker.BatchStats, error) {
	if err := s.authorize(caller, authz.CapProcessBatch, ""); err != nil {
		return worker.BatchStats{}, err
	}
	return s.processor.ProcessReadyBatch(ctx, limit)
}
