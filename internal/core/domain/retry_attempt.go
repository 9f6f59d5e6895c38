package domain

import "time"

// RetryAttempt is an append-only record of one retry decision.
// (TransactionID, AttemptNumber) is unique.
type RetryAttempt struct {
	ID             string     `json:"id"              db:"id"`
	TransactionID  string     `json:"transaction_id"  db:"transaction_id"`
	AttemptNumber  int        `json:"attempt_number"  db:"attempt_number"`
	ErrorCode      string     `json:"error_code"      db:"error_code"`
	DelaySeconds   int64      `json:"delay_seconds"   db:"delay_seconds"`
	ScheduledAt    time.Time  `json:"scheduled_at"    db:"scheduled_at"`
	CompletedAt    *time.Time `json:"completed_at"    db:"completed_at"`
	Success        *bool      `json:"success"         db:"success"`
	IdempotencyKey string     `json:"idempotency_key" db:"idempotency_key"`
	Decision       string     `json:"decision"        db:"decision"`
}
