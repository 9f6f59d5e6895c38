package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents one external payment operation.
type Transaction struct {
	ID               string            `json:"id"                 db:"id"`
	Kind             TransactionKind   `json:"kind"               db:"kind"`
	UserID           string            `json:"user_id"            db:"user_id"`
	Amount           decimal.Decimal   `json:"amount"             db:"amount"`
	Currency         string            `json:"currency"           db:"currency"`
	Provider         string            `json:"external_provider"  db:"external_provider"`
	Status           TransactionStatus `json:"status"             db:"status"`
	FailureType      FailureType       `json:"failure_type"       db:"failure_type"`
	RetryCount       int               `json:"retry_count"        db:"retry_count"`
	MaxRetryAttempts int               `json:"max_retry_attempts" db:"max_retry_attempts"`
	NextRetryAt      *time.Time        `json:"next_retry_at"      db:"next_retry_at"`
	LastErrorCode    string            `json:"last_error_code"    db:"last_error_code"`
	// BuyerFee is the fee already collected from the buyer on a deposit, if any.
	BuyerFee  decimal.Decimal `json:"buyer_fee"  db:"buyer_fee"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

type TransactionKind string

const (
	KindWalletCashout    TransactionKind = "wallet_cashout"
	KindEscrowDeposit    TransactionKind = "escrow_deposit"
	KindInternalTransfer TransactionKind = "internal_transfer"
)

// RequiresExternalRetry reports whether failures of this kind are retried
// against an external provider.
func (k TransactionKind) RequiresExternalRetry() bool {
	switch k {
	case KindWalletCashout:
		return true
	case KindEscrowDeposit, KindInternalTransfer:
		return false
	default:
		return false
	}
}

type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "pending"
	TxStatusFailed    TransactionStatus = "failed"
	TxStatusSucceeded TransactionStatus = "succeeded"
	TxStatusCancelled TransactionStatus = "cancelled"
)

type FailureType string

const (
	FailureTypeNone      FailureType = "none"
	FailureTypeTechnical FailureType = "technical"
	FailureTypeUser      FailureType = "user"
	FailureTypePermanent FailureType = "permanent"
)

// IsTerminal reports whether no further automatic action will touch the transaction.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case TxStatusSucceeded, TxStatusCancelled:
		return true
	case TxStatusFailed:
		return t.NextRetryAt == nil
	case TxStatusPending:
		return false
	default:
		return false
	}
}

// AwaitingRetry reports whether the transaction is scheduled for an automatic retry.
// RetryCount already includes the scheduled attempt, so it may equal MaxRetryAttempts.
func (t *Transaction) AwaitingRetry() bool {
	return t.Status == TxStatusFailed &&
		t.FailureType == FailureTypeTechnical &&
		t.RetryCount <= t.MaxRetryAttempts &&
		t.NextRetryAt != nil
}

// ReadyForRetry reports whether a scheduled retry is due at now.
func (t *Transaction) ReadyForRetry(now time.Time) bool {
	return t.AwaitingRetry() && !t.NextRetryAt.After(now)
}
