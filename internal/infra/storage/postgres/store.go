package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/infra/storage"
)

const txColumns = `id, kind, user_id, amount, currency, external_provider, status, failure_type,
	retry_count, max_retry_attempts, next_retry_at, last_error_code, buyer_fee, created_at, updated_at`

const attemptColumns = `id, transaction_id, attempt_number, error_code, delay_seconds, scheduled_at,
	completed_at, success, idempotency_key, decision`

const walletColumns = `user_id, currency, total_balance, available_balance, updated_at`

const holdColumns = `id, user_id, currency, amount, status, reference_transaction_id, created_at, updated_at`

const redemptionColumns = `session_key, transaction_id, user_id, action, amount, hold_status, redeemed_at`

// awaitingRetry matches domain.Transaction.AwaitingRetry.
const awaitingRetry = `status = 'failed' AND failure_type = 'technical'
	AND next_retry_at IS NOT NULL AND retry_count <= max_retry_attempts`

// Store implements storage.Store using PostgreSQL.
type Store struct {
	db *DB
}

// NewStore creates a new PostgreSQL store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// WithinTx runs fn in one database transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, uow storage.UnitOfWork) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &unitOfWork{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var t domain.Transaction
	err := s.db.GetContext(ctx, &t, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "failed to get transaction")
	}
	return &t, nil
}

func (s *Store) ListReadyForRetry(ctx context.Context, now time.Time, limit int) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction
	err := s.db.SelectContext(ctx, &txs, `
		SELECT `+txColumns+` FROM transactions
		WHERE `+awaitingRetry+` AND next_retry_at <= $1
		ORDER BY next_retry_at, id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ready retries: %w", err)
	}
	return txs, nil
}

func (s *Store) ClaimForRetry(ctx context.Context, id string, retryCount int, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'pending', next_retry_at = NULL, updated_at = $3
		WHERE id = $1 AND status = 'failed' AND retry_count = $2 AND next_retry_at IS NOT NULL`,
		id, retryCount, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return n == 1, nil
}

func (s *Store) ListAttempts(ctx context.Context, transactionID string) ([]*domain.RetryAttempt, error) {
	var out []*domain.RetryAttempt
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+attemptColumns+` FROM retry_attempt_log
		WHERE transaction_id = $1 ORDER BY attempt_number`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return out, nil
}

func (s *Store) GetWallet(ctx context.Context, userID, currency string) (*domain.Wallet, error) {
	var w domain.Wallet
	err := s.db.GetContext(ctx, &w, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 AND currency = $2`,
		userID, currency)
	if err != nil {
		return nil, notFound(err, "failed to get wallet")
	}
	return &w, nil
}

func (s *Store) ListHolds(ctx context.Context, userID, currency string) ([]*domain.Hold, error) {
	var out []*domain.Hold
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+holdColumns+` FROM holds
		WHERE user_id = $1 AND currency = $2 ORDER BY created_at`, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to list holds: %w", err)
	}
	return out, nil
}

func (s *Store) GetRedemption(ctx context.Context, sessionKey string) (*domain.Redemption, error) {
	return getRedemption(ctx, s.db, sessionKey)
}

func (s *Store) Stats(ctx context.Context, now time.Time) (storage.Stats, error) {
	var st storage.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE `+awaitingRetry+` AND next_retry_at <= $1),
			count(*) FILTER (WHERE `+awaitingRetry+`),
			count(*) FILTER (WHERE status = 'failed' AND NOT (`+awaitingRetry+`))
		FROM transactions`, now).Scan(&st.ReadyRetries, &st.AwaitingRetry, &st.AwaitingManual)
	if err != nil {
		return st, fmt.Errorf("failed to count transactions: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'active'),
			count(*) FILTER (WHERE status = 'failed_held')
		FROM holds`).Scan(&st.ActiveHolds, &st.FailedHeldHolds)
	if err != nil {
		return st, fmt.Errorf("failed to count holds: %w", err)
	}
	return st, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Health(ctx)
}

func getRedemption(ctx context.Context, q sqlx.QueryerContext, sessionKey string) (*domain.Redemption, error) {
	var r domain.Redemption
	err := sqlx.GetContext(ctx, q, &r, `SELECT `+redemptionColumns+` FROM recovery_redemptions WHERE session_key = $1`,
		sessionKey)
	if err != nil {
		return nil, notFound(err, "failed to get redemption")
	}
	return &r, nil
}

// notFound maps sql.ErrNoRows to storage.ErrNotFound and wraps anything else.
func notFound(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}
