package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the balance row for one user and currency.
type Wallet struct {
	UserID           string          `json:"user_id"           db:"user_id"`
	Currency         string          `json:"currency"          db:"currency"`
	TotalBalance     decimal.Decimal `json:"total_balance"     db:"total_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance" db:"available_balance"`
	UpdatedAt        time.Time       `json:"updated_at"        db:"updated_at"`
}

// Hold reserves funds against a wallet for one transaction.
type Hold struct {
	ID                     string          `json:"id"                       db:"id"`
	UserID                 string          `json:"user_id"                  db:"user_id"`
	Currency               string          `json:"currency"                 db:"currency"`
	Amount                 decimal.Decimal `json:"amount"                   db:"amount"`
	Status                 HoldStatus      `json:"status"                   db:"status"`
	ReferenceTransactionID string          `json:"reference_transaction_id" db:"reference_transaction_id"`
	CreatedAt              time.Time       `json:"created_at"               db:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"               db:"updated_at"`
}

type HoldStatus string

const (
	HoldStatusActive       HoldStatus = "active"
	HoldStatusConsumedSent HoldStatus = "consumed_sent"
	HoldStatusFailedHeld   HoldStatus = "failed_held"
	HoldStatusReleased     HoldStatus = "released"
)

// Reserves reports whether the hold still counts against available balance.
func (s HoldStatus) Reserves() bool {
	switch s {
	case HoldStatusActive, HoldStatusFailedHeld:
		return true
	case HoldStatusConsumedSent, HoldStatusReleased:
		return false
	default:
		return false
	}
}

// ReservingHoldStatuses lists the statuses that reduce available balance.
var ReservingHoldStatuses = []HoldStatus{HoldStatusActive, HoldStatusFailedHeld}
