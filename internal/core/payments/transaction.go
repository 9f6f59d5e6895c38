package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietddude/payguard/internal/core/authz"
	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/core/holds"
	"github.com/vietddude/payguard/internal/core/retry"
	"github.com/vietddude/payguard/internal/infra/storage"
)

// ErrNotCancellable is returned for transactions that already succeeded.
var ErrNotCancellable = errors.New("transaction can no longer be cancelled")

// CancelTransaction stops a pending or failed transaction and releases its hold.
// Cancelling twice returns the cancelled transaction.
func (s *Service) CancelTransaction(ctx context.Context, caller authz.Caller, txID, reason string) (*domain.Transaction, error) {
	current, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(caller, authz.CapCancel, current.UserID); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "cancelled by " + caller.UserID
	}

	var (
		snapshot   domain.Transaction
		transition *holds.Transition
		changed    bool
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
		transition, changed = nil, false

		tx, err := uow.LockTransaction(ctx, txID)
		if err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}
		switch tx.Status {
		case domain.TxStatusCancelled:
			snapshot = *tx
			return nil
		case domain.TxStatusSucceeded:
			return fmt.Errorf("%w: %s is %s", ErrNotCancellable, tx.ID, tx.Status)
		}

		hold, err := uow.HoldForTransaction(ctx, tx.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return fmt.Errorf("load hold: %w", err)
		case hold.Status.Reserves():
			_, transition, err = s.ledger.Transition(ctx, uow, tx.UserID, tx.Currency, tx.ID,
				domain.HoldStatusReleased, reason)
			if err != nil {
				return fmt.Errorf("release hold: %w", err)
			}
		}

		tx.Status = domain.TxStatusCancelled
		tx.NextRetryAt = nil
		tx.UpdatedAt = s.now()
		if err := uow.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		snapshot = *tx
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return &snapshot, nil
	}

	s.logger.Info("Transaction cancelled",
		"tx_id", snapshot.ID,
		"by", caller.UserID,
		"reason", reason,
		"hold_released", transition != nil,
	)
	s.record(ctx, domain.AuditEvent{
		ID:         uuid.NewString(),
		EntityType: "transaction",
		EntityID:   snapshot.ID,
		UserID:     snapshot.UserID,
		Amount:     snapshot.Amount,
		Currency:   snapshot.Currency,
		Kind:       domain.AuditCancelled,
		Metadata: map[string]any{
			"by":          caller.UserID,
			"reason":      reason,
			"retry_count": snapshot.RetryCount,
		},
		OccurredAt: snapshot.UpdatedAt,
	})
	if transition != nil {
		s.record(ctx, retry.HoldTransitionEvent(&snapshot, transition))
	}
	return &snapshot, nil
}

// TransactionView is a transaction with its attempt log and hold.
type TransactionView struct {
	Transaction *domain.Transaction    `json:"transaction"`
	Attempts    []*domain.RetryAttempt `json:"attempts"`
	Hold        *domain.Hold           `json:"hold,omitempty"`
}

// GetTransaction returns a transaction visible to caller.
func (s *Service) GetTransaction(ctx context.Context, caller authz.Caller, txID string) (*TransactionView, error) {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(caller, authz.CapViewTransaction, tx.UserID); err != nil {
		return nil, err
	}
	attempts, err := s.store.ListAttempts(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	view := &TransactionView{Transaction: tx, Attempts: attempts}

	hs, err := s.store.ListHolds(ctx, tx.UserID, tx.Currency)
	if err != nil {
		return nil, fmt.Errorf("list holds: %w", err)
	}
	for _, h := range hs {
		if h.ReferenceTransactionID == tx.ID {
			view.Hold = h
			break
		}
	}
	return view, nil
}

// Wallet returns the wallet of a user. Only the owner or a privileged caller may read it.
func (s *Service) Wallet(ctx context.Context, caller authz.Caller, userID, currency string) (*domain.Wallet, []*domain.Hold, error) {
	if err := s.authorize(caller, authz.CapViewTransaction, userID); err != nil {
		return nil, nil, err
	}
	w, err := s.store.GetWallet(ctx, userID, currency)
	if err != nil {
		return nil, nil, err
	}
	hs, err := s.store.ListHolds(ctx, userID, currency)
	if err != nil {
		return nil, nil, fmt.Errorf("list holds: %w", err)
	}
	return w, hs, nil
}
