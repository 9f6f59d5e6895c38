package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/payguard/internal/core/domain"
)

var (
	// ErrNotFound is returned when a row doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicateAttempt is returned when (transaction_id, attempt_number) already exists
	ErrDuplicateAttempt = errors.New("retry attempt already recorded")

	// ErrDuplicateRedemption is returned when a recovery session was already redeemed
	ErrDuplicateRedemption = errors.New("recovery session already redeemed")
)

// Store is the transactional persistence layer. Reads outside WithinTx see
// committed state only; every balance or hold mutation goes through a UnitOfWork.
type Store interface {
	// WithinTx runs fn in one database transaction. fn's error rolls it back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error

	// GetTransaction retrieves a transaction by id
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// ListReadyForRetry returns failed technical transactions whose
	// next_retry_at <= now, ordered by next_retry_at.
	ListReadyForRetry(ctx context.Context, now time.Time, limit int) ([]*domain.Transaction, error)

	// ClaimForRetry atomically moves a transaction from Failed to Pending if it is
	// still Failed with the given retry_count. Returns false if another path won.
	ClaimForRetry(ctx context.Context, id string, retryCount int, now time.Time) (bool, error)

	// ListAttempts returns the attempt log of a transaction in attempt order
	ListAttempts(ctx context.Context, transactionID string) ([]*domain.RetryAttempt, error)

	// GetWallet retrieves the wallet row for a user and currency
	GetWallet(ctx context.Context, userID, currency string) (*domain.Wallet, error)

	// ListHolds returns all holds for a user and currency
	ListHolds(ctx context.Context, userID, currency string) ([]*domain.Hold, error)

	// GetRedemption retrieves the redemption of a session key
	GetRedemption(ctx context.Context, sessionKey string) (*domain.Redemption, error)

	// Stats returns queue and hold counters for health reporting
	Stats(ctx context.Context, now time.Time) (Stats, error)

	// Ping checks connectivity
	Ping(ctx context.Context) error
}

// UnitOfWork is the set of operations available inside one database transaction.
// Lock order is transaction, then wallet, then hold.
type UnitOfWork interface {
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error

	// LockTransaction reads a transaction and holds its row lock until commit
	LockTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	UpdateTransaction(ctx context.Context, tx *domain.Transaction) error

	// AppendAttempt inserts an attempt log row; ErrDuplicateAttempt on conflict
	AppendAttempt(ctx context.Context, attempt *domain.RetryAttempt) error

	// CompleteAttempt stamps completed_at and success on the latest open attempt
	CompleteAttempt(ctx context.Context, transactionID string, success bool, at time.Time) error

	// LockWallet reads a wallet under row lock, creating a zero-balance row if absent
	LockWallet(ctx context.Context, userID, currency string) (*domain.Wallet, error)

	UpdateWallet(ctx context.Context, wallet *domain.Wallet) error

	CreateHold(ctx context.Context, hold *domain.Hold) error

	// HoldForTransaction returns the hold referencing a transaction
	HoldForTransaction(ctx context.Context, transactionID string) (*domain.Hold, error)

	UpdateHold(ctx context.Context, hold *domain.Hold) error

	// SumReserved sums Active and FailedHeld holds for a user and currency
	SumReserved(ctx context.Context, userID, currency string) (decimal.Decimal, error)

	GetRedemption(ctx context.Context, sessionKey string) (*domain.Redemption, error)

	// SaveRedemption inserts a redemption; ErrDuplicateRedemption on conflict
	SaveRedemption(ctx context.Context, r *domain.Redemption) error
}

// SessionRepository persists recovery sessions with a TTL.
type SessionRepository interface {
	Save(ctx context.Context, session *domain.RecoverySession, ttl time.Duration) error

	// Get returns ErrNotFound for unknown or expired-and-evicted sessions
	Get(ctx context.Context, key string) (*domain.RecoverySession, error)

	MarkConsumed(ctx context.Context, key string, at time.Time) error

	// DeleteExpired removes sessions past expires_at. Stores with native TTL return 0.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AuditRepository persists financial audit events.
type AuditRepository interface {
	Insert(ctx context.Context, event *domain.AuditEvent) error
}

// Stats summarizes the retry queue and hold ledger.
type Stats struct {
	ReadyRetries    int64 `json:"ready_retries"`
	AwaitingRetry   int64 `json:"awaiting_retry"`
	AwaitingManual  int64 `json:"awaiting_manual"`
	ActiveHolds     int64 `json:"active_holds"`
	FailedHeldHolds int64 `json:"failed_held_holds"`
}
