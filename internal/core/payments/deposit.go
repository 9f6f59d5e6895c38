package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vietddude/payguard/internal/core/authz"
	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/core/recovery"
	"github.com/vietddude/payguard/internal/core/retry"
	"github.com/vietddude/payguard/internal/core/variance"
	"github.com/vietddude/payguard/internal/infra/storage"
	"github.com/vietddude/payguard/internal/metrics"
)

// DepositRequest opens an escrow deposit awaiting funds.
type DepositRequest struct {
	UserID   string          `json:"user_id"  validate:"required"`
	Currency string          `json:"currency" validate:"required,len=3"`
	Expected decimal.Decimal `json:"expected_amount"`
	BuyerFee decimal.Decimal `json:"buyer_fee"`
}

// OpenDeposit creates a pending escrow deposit for the expected amount.
func (s *Service) OpenDeposit(ctx context.Context, caller authz.Caller, req DepositRequest) (*domain.Transaction, error) {
	if err := s.authorize(caller, authz.CapOpenDeposit, req.UserID); err != nil {
		return nil, err
	}
	if !req.Expected.IsPositive() {
		return nil, fmt.Errorf("%w: expected amount must be positive", ErrValidation)
	}
	if req.BuyerFee.IsNegative() {
		return nil, fmt.Errorf("%w: buyer fee must not be negative", ErrValidation)
	}

	now := s.now()
	tx := &domain.Transaction{
		ID:          uuid.NewString(),
		Kind:        domain.KindEscrowDeposit,
		UserID:      req.UserID,
		Amount:      req.Expected,
		Currency:    strings.ToUpper(req.Currency),
		Status:      domain.TxStatusPending,
		FailureType: domain.FailureTypeNone,
		BuyerFee:    req.BuyerFee,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
		return uow.CreateTransaction(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	s.logger.Info("Deposit opened",
		"tx_id", tx.ID,
		"user_id", tx.UserID,
		"expected", tx.Amount.String(),
		"currency", tx.Currency,
	)
	return tx, nil
}

// VarianceRequest reports the funds actually received for a deposit.
type VarianceRequest struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	// Expected defaults to the transaction amount.
	Expected *decimal.Decimal   `json:"expected_amount,omitempty"`
	Received decimal.Decimal    `json:"received_amount"`
	Class    variance.SizeClass `json:"size_class,omitempty" validate:"omitempty,oneof=small medium large"`
}

// VarianceResult is the evaluation outcome returned to the caller.
type VarianceResult struct {
	TransactionID string                                      `json:"transaction_id"`
	Received      decimal.Decimal                             `json:"received_amount"`
	Category      domain.VarianceCategory                     `json:"category"`
	SizeClass     variance.SizeClass                          `json:"size_class"`
	Variance      decimal.Decimal                             `json:"variance"`
	Tolerance     decimal.Decimal                             `json:"tolerance"`
	MinAcceptable decimal.Decimal                             `json:"min_acceptable"`
	SessionKey    string                                      `json:"session_key,omitempty"`
	Actions       map[domain.RecoveryAction]domain.ActionSpec `json:"actions"`
	ExpiresAt     *time.Time                                  `json:"expires_at,omitempty"`
	// Round is 0 for the first receipt and counts top-ups after complete_payment.
	// Received is cumulative across rounds.
	Round int `json:"round"`
	// Applied is set when an AutoAccept action was executed immediately.
	Applied *recovery.Result `json:"applied,omitempty"`
	Reason  string           `json:"reason"`
}

// EvaluateVariance records the received funds of a deposit, decides how to
// handle any mismatch and opens a recovery session for it.
func (s *Service) EvaluateVariance(ctx context.Context, caller authz.Caller, req VarianceRequest) (*VarianceResult, error) {
	if err := s.authorize(caller, authz.CapEvaluateVariance, ""); err != nil {
		return nil, err
	}
	if !req.Received.IsPositive() {
		return nil, fmt.Errorf("%w: received amount must be positive", ErrValidation)
	}
	if req.Expected != nil && !req.Expected.IsPositive() {
		return nil, fmt.Errorf("%w: expected amount must be positive", ErrValidation)
	}

	var (
		decision variance.Decision
		session  *domain.RecoverySession
		snapshot domain.Transaction
		round    int
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
		session, round = nil, 0

		tx, err := uow.LockTransaction(ctx, req.TransactionID)
		if err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}
		if tx.Kind != domain.KindEscrowDeposit {
			return fmt.Errorf("%w: %s is a %s", ErrInvalidState, tx.ID, tx.Kind)
		}
		hold, err := uow.HoldForTransaction(ctx, tx.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			hold = nil
		case err != nil:
			return fmt.Errorf("load hold: %w", err)
		}
		if hold != nil {
			// Further funds are accepted only after the user chose complete_payment.
			round, err = s.topUpRound(ctx, uow, tx)
			if err != nil {
				return err
			}
			if hold.Status != domain.HoldStatusActive {
				return fmt.Errorf("%w: hold is %s", ErrInvalidState, hold.Status)
			}
		}
		if tx.Status != domain.TxStatusPending {
			return fmt.Errorf("%w: %s is %s", ErrInvalidState, tx.ID, tx.Status)
		}

		expected := tx.Amount
		if req.Expected != nil {
			expected = *req.Expected
		}
		received := req.Received
		if hold != nil {
			received = hold.Amount.Add(req.Received)
		}
		decision = s.engine.Evaluate(variance.Input{
			Expected:          expected,
			Received:          received,
			Class:             req.Class,
			CollectedBuyerFee: tx.BuyerFee,
		})

		if _, err := s.ledger.Credit(ctx, uow, tx.UserID, tx.Currency, req.Received); err != nil {
			return fmt.Errorf("credit received funds: %w", err)
		}
		if hold == nil {
			_, err = s.ledger.Reserve(ctx, uow, tx.UserID, tx.Currency, tx.ID, req.Received)
		} else {
			_, err = s.ledger.Resize(ctx, uow, tx.UserID, tx.Currency, tx.ID, received)
		}
		if err != nil {
			return fmt.Errorf("hold received funds: %w", err)
		}

		if _, auto := decision.AutoAction(); decision.Category == domain.CategoryAutoAccept && !auto {
			tx.Status = domain.TxStatusSucceeded
			tx.UpdatedAt = s.now()
			if err := uow.UpdateTransaction(ctx, tx); err != nil {
				return fmt.Errorf("update transaction: %w", err)
			}
		}
		if len(decision.Actions) > 0 {
			session, err = s.recovery.OpenRound(ctx, tx, decision, round)
			if err != nil {
				return err
			}
		}
		snapshot = *tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.VarianceDecisionsTotal.WithLabelValues(string(decision.Category), string(decision.Class)).Inc()
	s.logger.Info("Variance evaluated",
		"tx_id", snapshot.ID,
		"category", decision.Category,
		"size_class", decision.Class,
		"round", round,
		"expected", decision.Expected.String(),
		"received", decision.Received.String(),
		"variance", decision.Variance.String(),
		"tolerance", decision.Tolerance.String(),
		"reason", decision.Reason,
	)
	s.record(ctx, domain.AuditEvent{
		ID:         uuid.NewString(),
		EntityType: "transaction",
		EntityID:   snapshot.ID,
		UserID:     snapshot.UserID,
		Amount:     decision.Received,
		Currency:   snapshot.Currency,
		Kind:       domain.AuditVarianceDecision,
		Metadata: map[string]any{
			"category":       decision.Category,
			"size_class":     decision.Class,
			"expected":       decision.Expected.String(),
			"variance":       decision.Variance.String(),
			"tolerance":      decision.Tolerance.String(),
			"min_acceptable": decision.MinAcceptable.String(),
			"reason":         decision.Reason,
			"round":          round,
			"top_up":         req.Received.String(),
		},
		OccurredAt: s.now(),
	})

	res := &VarianceResult{
		TransactionID: snapshot.ID,
		Round:         round,
		Received:      decision.Received,
		Category:      decision.Category,
		SizeClass:     decision.Class,
		Variance:      decision.Variance,
		Tolerance:     decision.Tolerance,
		MinAcceptable: decision.MinAcceptable,
		Actions:       decision.Actions,
		Reason:        decision.Reason,
	}
	if session == nil {
		return res, nil
	}
	res.SessionKey = session.Key
	res.ExpiresAt = &session.ExpiresAt

	if action, ok := decision.AutoAction(); ok {
		applied, err := s.recovery.ApplyAutomatic(ctx, session.Key, action)
		if err != nil {
			return nil, fmt.Errorf("apply %s: %w", action, err)
		}
		res.Applied = &applied
		return res, nil
	}

	if decision.Category == domain.CategorySelfService {
		s.notify(ctx, varianceNotification(&snapshot, session, round))
	}
	return res, nil
}

// topUpRound returns the evaluation round for additional funds on a deposit
// that already holds funds. It is allowed only when the latest redemption was
// complete_payment.
func (s *Service) topUpRound(ctx context.Context, uow storage.UnitOfWork, tx *domain.Transaction) (int, error) {
	var last *domain.Redemption
	round := 0
	for ; ; round++ {
		red, err := uow.GetRedemption(ctx, recovery.RoundSessionKey(tx.UserID, tx.ID, round))
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("get redemption: %w", err)
		}
		last = red
	}
	if last == nil || last.Action != domain.ActionCompletePayment {
		return 0, ErrAlreadyEvaluated
	}
	return round, nil
}

// buttonOrder fixes the order action buttons are offered in.
var buttonOrder = []domain.RecoveryAction{
	domain.ActionCompletePayment,
	domain.ActionProceedPartial,
	domain.ActionCancelRefund,
}

func varianceNotification(tx *domain.Transaction, sess *domain.RecoverySession, round int) domain.Notification {
	buttons := make([]domain.ActionButton, 0, len(sess.AuthorizedActions))
	for _, a := range buttonOrder {
		spec, ok := sess.AuthorizedActions[a]
		if !ok {
			continue
		}
		buttons = append(buttons, domain.ActionButton{Action: a, SessionKey: sess.Key, Amount: spec.Amount})
	}
	return domain.Notification{
		UserID: tx.UserID,
		Title:  "Payment amount mismatch",
		Message: fmt.Sprintf("We received %s %s of the expected %s %s. Choose how to continue before %s.",
			sess.ReceivedAmount.String(), tx.Currency,
			sess.ExpectedAmount.String(), tx.Currency,
			sess.ExpiresAt.UTC().Format(time.RFC3339)),
		Category:       domain.NotifyPaymentVariance,
		Priority:       domain.PriorityHigh,
		IdempotencyKey: retry.NotificationKey(tx.ID, "variance", round),
		ActionButtons:  buttons,
	}
}

// RedeemRecoveryAction executes the action the session owner selected.
// Expected rejections are reported in the result, not as errors.
func (s *Service) RedeemRecoveryAction(ctx context.Context, caller authz.Caller, sessionKey string, action domain.RecoveryAction) (recovery.Result, error) {
	owner, err := s.recovery.Owner(ctx, sessionKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Redeem reports the session as expired.
	case err != nil:
		return recovery.Result{}, err
	default:
		if err := s.authorize(caller, authz.CapRedeem, owner); err != nil {
			metrics.RedemptionsTotal.WithLabelValues(string(action), string(recovery.OutcomeForbidden)).Inc()
			return recovery.Result{Outcome: recovery.OutcomeForbidden, SessionKey: sessionKey, Action: action}, nil
		}
	}
	return s.recovery.Redeem(ctx, sessionKey, action, caller.UserID)
}
