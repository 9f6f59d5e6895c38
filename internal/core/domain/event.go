package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuditEventKind identifies a financial audit event.
type AuditEventKind string

const (
	AuditRetryDecision    AuditEventKind = "retry_decision"
	AuditTransferSuccess  AuditEventKind = "transfer_succeeded"
	AuditHoldTransition   AuditEventKind = "hold_transition"
	AuditVarianceDecision AuditEventKind = "variance_decision"
	AuditRecoveryRedeemed AuditEventKind = "recovery_redeemed"
	AuditCancelled        AuditEventKind = "transaction_cancelled"
)

// AuditEvent is a structured financial event sent to the audit sink.
type AuditEvent struct {
	ID         string          `json:"id"          db:"id"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   string          `json:"entity_id"   db:"entity_id"`
	UserID     string          `json:"user_id"     db:"user_id"`
	Amount     decimal.Decimal `json:"amount"      db:"amount"`
	Currency   string          `json:"currency"    db:"currency"`
	Kind       AuditEventKind  `json:"kind"        db:"kind"`
	Metadata   map[string]any  `json:"metadata"`
	OccurredAt time.Time       `json:"occurred_at" db:"occurred_at"`
}

type NotificationPriority string

const (
	PriorityLow      NotificationPriority = "low"
	PriorityNormal   NotificationPriority = "normal"
	PriorityHigh     NotificationPriority = "high"
	PriorityCritical NotificationPriority = "critical"
)

// NotificationCategory routes a notification to users or operators.
type NotificationCategory string

const (
	NotifyPaymentFailed   NotificationCategory = "payment_failed"
	NotifyPaymentRetrying NotificationCategory = "payment_retrying"
	NotifyPaymentVariance NotificationCategory = "payment_variance"
	NotifyOperatorAlert   NotificationCategory = "operator_alert"
)

// ActionButton is data for one choice offered to the user. Rendering is up to the sink.
type ActionButton struct {
	Action     RecoveryAction  `json:"action"`
	SessionKey string          `json:"session_key"`
	Amount     decimal.Decimal `json:"amount"`
}

// Notification is the structured payload accepted by a notification sink.
type Notification struct {
	UserID         string               `json:"user_id"`
	Title          string               `json:"title"`
	Message        string               `json:"message"`
	Category       NotificationCategory `json:"category"`
	Priority       NotificationPriority `json:"priority"`
	IdempotencyKey string               `json:"idempotency_key"`
	ActionButtons  []ActionButton       `json:"action_buttons,omitempty"`
}
