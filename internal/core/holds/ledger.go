// Package holds keeps wallet balances and holds consistent:
// available_balance = total_balance - sum(Active and FailedHeld holds).
package holds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/infra/storage"
)

var (
	// ErrInsufficientFunds is returned when available balance cannot cover a reservation.
	ErrInsufficientFunds = errors.New("insufficient available balance")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvariantViolated is returned when a wallet no longer satisfies the hold invariant.
	ErrInvariantViolated = errors.New("hold invariant violated")
)

// Ledger applies hold transitions inside a caller-provided unit of work.
// Every method locks the wallet row before reading the hold; callers lock the
// transaction row first.
type Ledger struct {
	logger *slog.Logger
	now    func() time.Time
	// Verify recomputes the invariant after every mutation.
	Verify bool
}

// NewLedger creates a ledger.
func NewLedger(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{logger: logger, now: time.Now, Verify: true}
}

// Credit adds funds to a wallet's total and available balance.
func (l *Ledger) Credit(ctx context.Context, uow storage.UnitOfWork, userID, currency string, amount decimal.Decimal) (*domain.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	w, err := uow.LockWallet(ctx, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	w.TotalBalance = w.TotalBalance.Add(amount)
	w.AvailableBalance = w.AvailableBalance.Add(amount)
	w.UpdatedAt = l.now()
	if err := uow.UpdateWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("update wallet: %w", err)
	}
	if err := l.verify(ctx, uow, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Debit removes funds that leave the wallet without a hold, such as a fee
// already collected from the buyer.
func (l *Ledger) Debit(ctx context.Context, uow storage.UnitOfWork, userID, currency string, amount decimal.Decimal) (*domain.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	w, err := uow.LockWallet(ctx, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	if w.AvailableBalance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}
	w.TotalBalance = w.TotalBalance.Sub(amount)
	w.AvailableBalance = w.AvailableBalance.Sub(amount)
	w.UpdatedAt = l.now()
	if err := uow.UpdateWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("update wallet: %w", err)
	}
	if err := l.verify(ctx, uow, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Reserve creates an Active hold for a transaction, reducing available balance.
func (l *Ledger) Reserve(ctx context.Context, uow storage.UnitOfWork, userID, currency, transactionID string, amount decimal.Decimal) (*domain.Hold, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	w, err := uow.LockWallet(ctx, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	if w.AvailableBalance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	now := l.now()
	hold := &domain.Hold{
		ID:                     uuid.NewString(),
		UserID:                 userID,
		Currency:               currency,
		Amount:                 amount,
		Status:                 domain.HoldStatusActive,
		ReferenceTransactionID: transactionID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := uow.CreateHold(ctx, hold); err != nil {
		return nil, fmt.Errorf("create hold: %w", err)
	}

	w.AvailableBalance = w.AvailableBalance.Sub(amount)
	w.UpdatedAt = now
	if err := uow.UpdateWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("update wallet: %w", err)
	}
	if err := l.verify(ctx, uow, w); err != nil {
		return nil, err
	}

	l.logger.Debug("Hold reserved",
		"hold_id", hold.ID,
		"tx_id", transactionID,
		"amount", amount.String(),
	)
	return hold, nil
}

// Transition moves the hold of a transaction to a new state and applies the
// balance effect. A hold already in the target state is returned unchanged.
func (l *Ledger) Transition(ctx context.Context, uow storage.UnitOfWork, userID, currency, transactionID string, to State, reason string) (*domain.Hold, *Transition, error) {
	w, err := uow.LockWallet(ctx, userID, currency)
	if err != nil {
		return nil, nil, fmt.Errorf("lock wallet: %w", err)
	}
	hold, err := uow.HoldForTransaction(ctx, transactionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load hold: %w", err)
	}
	if hold.Status == to {
		return hold, nil, nil
	}
	if !CanTransition(hold.Status, to) {
		return nil, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, hold.Status, to)
	}

	from := hold.Status
	switch to {
	case domain.HoldStatusConsumedSent:
		// Funds left the platform; both reservations reduced available already.
		w.TotalBalance = w.TotalBalance.Sub(hold.Amount)
	case domain.HoldStatusReleased:
		w.AvailableBalance = w.AvailableBalance.Add(hold.Amount)
	case domain.HoldStatusFailedHeld:
		// Still reserved; no balance change.
	}

	now := l.now()
	hold.Status = to
	hold.UpdatedAt = now
	if err := uow.UpdateHold(ctx, hold); err != nil {
		return nil, nil, fmt.Errorf("update hold: %w", err)
	}
	w.UpdatedAt = now
	if err := uow.UpdateWallet(ctx, w); err != nil {
		return nil, nil, fmt.Errorf("update wallet: %w", err)
	}
	if err := l.verify(ctx, uow, w); err != nil {
		return nil, nil, err
	}

	tr := &Transition{
		HoldID:    hold.ID,
		From:      from,
		To:        to,
		Amount:    hold.Amount.String(),
		Reason:    reason,
		Timestamp: now,
	}
	l.logger.Info("Hold transitioned",
		"hold_id", hold.ID,
		"tx_id", transactionID,
		"from", from,
		"to", to,
		"reason", reason,
	)
	return hold, tr, nil
}

// Resize changes the amount of an Active hold; the difference returns to (or
// is taken from) available balance.
func (l *Ledger) Resize(ctx context.Context, uow storage.UnitOfWork, userID, currency, transactionID string, amount decimal.Decimal) (*domain.Hold, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	w, err := uow.LockWallet(ctx, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	hold, err := uow.HoldForTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("load hold: %w", err)
	}
	if hold.Status != domain.HoldStatusActive {
		return nil, fmt.Errorf("%w: resize requires active hold, got %s", ErrInvalidTransition, hold.Status)
	}

	delta := hold.Amount.Sub(amount)
	if w.AvailableBalance.Add(delta).IsNegative() {
		return nil, ErrInsufficientFunds
	}
	w.AvailableBalance = w.AvailableBalance.Add(delta)

	now := l.now()
	hold.Amount = amount
	hold.UpdatedAt = now
	if err := uow.UpdateHold(ctx, hold); err != nil {
		return nil, fmt.Errorf("update hold: %w", err)
	}
	w.UpdatedAt = now
	if err := uow.UpdateWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("update wallet: %w", err)
	}
	if err := l.verify(ctx, uow, w); err != nil {
		return nil, err
	}
	return hold, nil
}

func (l *Ledger) verify(ctx context.Context, uow storage.UnitOfWork, w *domain.Wallet) error {
	if !l.Verify {
		return nil
	}
	reserved, err := uow.SumReserved(ctx, w.UserID, w.Currency)
	if err != nil {
		return fmt.Errorf("sum reserved: %w", err)
	}
	if !w.AvailableBalance.Add(reserved).Equal(w.TotalBalance) {
		l.logger.Error("Hold invariant violated",
			"user_id", w.UserID,
			"currency", w.Currency,
			"total", w.TotalBalance.String(),
			"available", w.AvailableBalance.String(),
			"reserved", reserved.String(),
		)
		return fmt.Errorf("%w: available %s + reserved %s != total %s",
			ErrInvariantViolated, w.AvailableBalance, reserved, w.TotalBalance)
	}
	return nil
}
