package api

import (
	"github.com/shopspring/decimal"

	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/core/variance"
)

// FailureRequestDTO reports a failed provider call.
type FailureRequestDTO struct {
	Code          string `json:"code"           validate:"required_without=Message,max=128"`
	Message       string `json:"message"        validate:"max=2048"`
	ExceptionKind string `json:"exception_kind" validate:"max=128"`
}

// VarianceRequestDTO reports the funds received for a deposit.
type VarianceRequestDTO struct {
	ExpectedAmount *decimal.Decimal   `json:"expected_amount,omitempty"`
	ReceivedAmount decimal.Decimal    `json:"received_amount"`
	SizeClass      variance.SizeClass `json:"size_class,omitempty" validate:"omitempty,oneof=small medium large"`
}

// RedeemRequestDTO selects a recovery action.
type RedeemRequestDTO struct {
	Action domain.RecoveryAction `json:"action" validate:"required,oneof=credit_excess reduced_amount complete_payment proceed_partial cancel_refund"`
}

// BatchRequestDTO bounds one retry batch.
type BatchRequestDTO struct {
	Limit int `json:"limit" validate:"gte=0,lte=1000"`
}

// CashoutRequestDTO creates a cashout. UserID defaults to the caller.
type CashoutRequestDTO struct {
	UserID   string          `json:"user_id,omitempty"`
	Currency string          `json:"currency" validate:"required,len=3,alpha"`
	Amount   decimal.Decimal `json:"amount"`
	Provider string          `json:"provider" validate:"required,max=64"`
}

// DepositRequestDTO opens an escrow deposit. UserID defaults to the caller.
type DepositRequestDTO struct {
	UserID         string          `json:"user_id,omitempty"`
	Currency       string          `json:"currency" validate:"required,len=3,alpha"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	BuyerFee       decimal.Decimal `json:"buyer_fee"`
}

// CancelRequestDTO carries an optional cancellation reason.
type CancelRequestDTO struct {
	Reason string `json:"reason" validate:"max=512"`
}
