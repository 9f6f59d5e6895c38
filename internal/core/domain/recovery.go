package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VarianceCategory is the outcome class of a variance evaluation.
type VarianceCategory string

const (
	CategoryAutoAccept  VarianceCategory = "auto_accept"
	CategorySelfService VarianceCategory = "self_service"
	// CategoryAutoRefund is never chosen by the decision table; refunds
	// always require an explicit user selection.
	CategoryAutoRefund VarianceCategory = "auto_refund"
)

// RecoveryAction names an action a user (or the system, for AutoAccept) may take.
type RecoveryAction string

const (
	ActionCreditExcess    RecoveryAction = "credit_excess"
	ActionReducedAmount   RecoveryAction = "reduced_amount"
	ActionCompletePayment RecoveryAction = "complete_payment"
	ActionProceedPartial  RecoveryAction = "proceed_partial"
	ActionCancelRefund    RecoveryAction = "cancel_refund"
)

// ActionSpec is the computed amount attached to an authorized action.
type ActionSpec struct {
	// Field is the amount's name, e.g. amount_needed, escrow_amount, refund_amount.
	Field       string          `json:"field"`
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination,omitempty"`
}

// RecoverySession is a signed, time-boxed decision context for a variance.
type RecoverySession struct {
	Key               string                        `json:"session_key"`
	TransactionID     string                        `json:"transaction_id"`
	UserID            string                        `json:"user_id"`
	Currency          string                        `json:"currency"`
	ExpectedAmount    decimal.Decimal               `json:"expected_amount"`
	ReceivedAmount    decimal.Decimal               `json:"received_amount"`
	Variance          decimal.Decimal               `json:"variance"`
	Category          VarianceCategory              `json:"category"`
	AuthorizedActions map[RecoveryAction]ActionSpec `json:"authorized_actions"`
	CreatedAt         time.Time                     `json:"created_at"`
	ExpiresAt         time.Time                     `json:"expires_at"`
	Signature         string                        `json:"signature"`
	ConsumedAt        *time.Time                    `json:"consumed_at,omitempty"`
}

// Expired reports whether the session is past its TTL at now.
func (s *RecoverySession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Redemption records the single execution of a recovery session.
// SessionKey is unique.
type Redemption struct {
	SessionKey    string          `json:"session_key"    db:"session_key"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	UserID        string          `json:"user_id"        db:"user_id"`
	Action        RecoveryAction  `json:"action"         db:"action"`
	Amount        decimal.Decimal `json:"amount"         db:"amount"`
	HoldStatus    HoldStatus      `json:"hold_status"    db:"hold_status"`
	RedeemedAt    time.Time       `json:"redeemed_at"    db:"redeemed_at"`
}
