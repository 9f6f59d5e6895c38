package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/infra/storage"
)

// unitOfWork runs every operation on one *sqlx.Tx. Row locks taken with
// FOR UPDATE are held until WithinTx commits or rolls back.
type unitOfWork struct {
	tx *sqlx.Tx
}

func (u *unitOfWork) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	_, err := u.tx.NamedExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (:id, :kind, :user_id, :amount, :currency, :external_provider, :status, :failure_type,
			:retry_count, :max_retry_attempts, :next_retry_at, :last_error_code, :buyer_fee, :created_at, :updated_at)`, t)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (u *unitOfWork) LockTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var t domain.Transaction
	err := u.tx.GetContext(ctx, &t, `SELECT `+txColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, notFound(err, "failed to lock transaction")
	}
	return &t, nil
}

func (u *unitOfWork) UpdateTransaction(ctx context.Context, t *domain.Transaction) error {
	res, err := u.tx.NamedExecContext(ctx, `
		UPDATE transactions SET
			amount = :amount,
			status = :status,
			failure_type = :failure_type,
			retry_count = :retry_count,
			max_retry_attempts = :max_retry_attempts,
			next_retry_at = :next_retry_at,
			last_error_code = :last_error_code,
			updated_at = :updated_at
		WHERE id = :id`, t)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return requireRow(res)
}

func (u *unitOfWork) AppendAttempt(ctx context.Context, a *domain.RetryAttempt) error {
	_, err := u.tx.NamedExecContext(ctx, `
		INSERT INTO retry_attempt_log (`+attemptColumns+`)
		VALUES (:id, :transaction_id, :attempt_number, :error_code, :delay_seconds, :scheduled_at,
			:completed_at, :success, :idempotency_key, :decision)`, a)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateAttempt
	}
	if err != nil {
		return fmt.Errorf("failed to append attempt: %w", err)
	}
	return nil
}

func (u *unitOfWork) CompleteAttempt(ctx context.Context, transactionID string, success bool, at time.Time) error {
	_, err := u.tx.ExecContext(ctx, `
		UPDATE retry_attempt_log SET completed_at = $2, success = $3
		WHERE id = (
			SELECT id FROM retry_attempt_log
			WHERE transaction_id = $1 AND completed_at IS NULL
			ORDER BY attempt_number DESC LIMIT 1
		)`, transactionID, at, success)
	if err != nil {
		return fmt.Errorf("failed to complete attempt: %w", err)
	}
	return nil
}

func (u *unitOfWork) LockWallet(ctx context.Context, userID, currency string) (*domain.Wallet, error) {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, currency, total_balance, available_balance, updated_at)
		VALUES ($1, $2, 0, 0, now())
		ON CONFLICT (user_id, currency) DO NOTHING`, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	var w domain.Wallet
	err = u.tx.GetContext(ctx, &w, `
		SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 AND currency = $2 FOR UPDATE`,
		userID, currency)
	if err != nil {
		return nil, notFound(err, "failed to lock wallet")
	}
	return &w, nil
}

func (u *unitOfWork) UpdateWallet(ctx context.Context, w *domain.Wallet) error {
	res, err := u.tx.NamedExecContext(ctx, `
		UPDATE wallets SET total_balance = :total_balance, available_balance = :available_balance,
			updated_at = :updated_at
		WHERE user_id = :user_id AND currency = :currency`, w)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	return requireRow(res)
}

func (u *unitOfWork) CreateHold(ctx context.Context, h *domain.Hold) error {
	_, err := u.tx.NamedExecContext(ctx, `
		INSERT INTO holds (`+holdColumns+`)
		VALUES (:id, :user_id, :currency, :amount, :status, :reference_transaction_id, :created_at, :updated_at)`, h)
	if err != nil {
		return fmt.Errorf("failed to create hold: %w", err)
	}
	return nil
}

func (u *unitOfWork) HoldForTransaction(ctx context.Context, transactionID string) (*domain.Hold, error) {
	var h domain.Hold
	err := u.tx.GetContext(ctx, &h, `
		SELECT `+holdColumns+` FROM holds WHERE reference_transaction_id = $1 FOR UPDATE`, transactionID)
	if err != nil {
		return nil, notFound(err, "failed to get hold")
	}
	return &h, nil
}

func (u *unitOfWork) UpdateHold(ctx context.Context, h *domain.Hold) error {
	res, err := u.tx.NamedExecContext(ctx, `
		UPDATE holds SET amount = :amount, status = :status, updated_at = :updated_at
		WHERE id = :id`, h)
	if err != nil {
		return fmt.Errorf("failed to update hold: %w", err)
	}
	return requireRow(res)
}

func (u *unitOfWork) SumReserved(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	statuses := make([]string, len(domain.ReservingHoldStatuses))
	for i, s := range domain.ReservingHoldStatuses {
		statuses[i] = string(s)
	}

	var sum decimal.Decimal
	err := u.tx.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0) FROM holds
		WHERE user_id = $1 AND currency = $2 AND status = ANY($3)`,
		userID, currency, pq.Array(statuses))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum holds: %w", err)
	}
	return sum, nil
}

func (u *unitOfWork) GetRedemption(ctx context.Context, sessionKey string) (*domain.Redemption, error) {
	return getRedemption(ctx, u.tx, sessionKey)
}

func (u *unitOfWork) SaveRedemption(ctx context.Context, r *domain.Redemption) error {
	_, err := u.tx.NamedExecContext(ctx, `
		INSERT INTO recovery_redemptions (`+redemptionColumns+`)
		VALUES (:session_key, :transaction_id, :user_id, :action, :amount, :hold_status, :redeemed_at)`, r)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateRedemption
	}
	if err != nil {
		return fmt.Errorf("failed to save redemption: %w", err)
	}
	return nil
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsAffected) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
