// Package recovery stores signed recovery sessions for amount variances and
// executes the action a user selects exactly once.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/core/holds"
	"github.com/vietddude/payguard/internal/core/variance"
	"github.com/vietddude/payguard/internal/infra/storage"
	"github.com/vietddude/payguard/internal/metrics"
)

// DefaultTTL is the decision window offered to a user.
const DefaultTTL = 10 * time.Minute

// errSuperseded aborts a redemption whose session no longer matches the held funds.
var errSuperseded = errors.New("recovery session superseded")

// AuditSink receives financial audit events. Implementations must not block.
type AuditSink interface {
	Record(ctx context.Context, event domain.AuditEvent)
}

// Service opens and redeems recovery sessions.
type Service struct {
	store    storage.Store
	sessions storage.SessionRepository
	ledger   *holds.Ledger
	signer   *Signer
	audit    AuditSink
	logger   *slog.Logger
	ttl      time.Duration
	now      func() time.Time
}

// Config holds Service settings.
type Config struct {
	TTL    time.Duration
	Audit  AuditSink
	Logger *slog.Logger
	Now    func() time.Time
}

// NewService creates a recovery service.
func NewService(store storage.Store, sessions storage.SessionRepository, ledger *holds.Ledger, signer *Signer, cfg Config) *Service {
	s := &Service{
		store:    store,
		sessions: sessions,
		ledger:   ledger,
		signer:   signer,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		ttl:      cfg.TTL,
		now:      cfg.Now,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Open signs and stores a session for a variance decision on tx. Opening again
// for the same user and transaction replaces the previous session.
func (s *Service) Open(ctx context.Context, tx *domain.Transaction, d variance.Decision) (*domain.RecoverySession, error) {
	return s.OpenRound(ctx, tx, d, 0)
}

// OpenRound opens the session for evaluation round n of a deposit. Each top-up
// after a complete_payment choice starts a new round with its own key.
func (s *Service) OpenRound(ctx context.Context, tx *domain.Transaction, d variance.Decision, round int) (*domain.RecoverySession, error) {
	now := s.now().Truncate(time.Second)
	sess := &domain.RecoverySession{
		Key:               RoundSessionKey(tx.UserID, tx.ID, round),
		TransactionID:     tx.ID,
		UserID:            tx.UserID,
		Currency:          tx.Currency,
		ExpectedAmount:    d.Expected,
		ReceivedAmount:    d.Received,
		Variance:          d.Variance,
		Category:          d.Category,
		AuthorizedActions: maps.Clone(d.Actions),
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.ttl),
	}
	sess.Signature = s.signer.Sign(sess)

	if err := s.sessions.Save(ctx, sess, s.ttl); err != nil {
		return nil, fmt.Errorf("save recovery session: %w", err)
	}
	s.logger.Info("Recovery session opened",
		"session_key", sess.Key,
		"tx_id", tx.ID,
		"round", round,
		"category", sess.Category,
		"actions", len(sess.AuthorizedActions),
		"expires_at", sess.ExpiresAt,
	)
	return sess, nil
}

// Owner returns the user a session (or its redemption) belongs to.
func (s *Service) Owner(ctx context.Context, key string) (string, error) {
	sess, err := s.sessions.Get(ctx, key)
	if err == nil {
		return sess.UserID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("get recovery session: %w", err)
	}
	red, err := s.store.GetRedemption(ctx, key)
	if err != nil {
		return "", err
	}
	return red.UserID, nil
}

// Redeem executes action on behalf of callerUserID.
func (s *Service) Redeem(ctx context.Context, key string, action domain.RecoveryAction, callerUserID string) (Result, error) {
	return s.redeem(ctx, key, action, callerUserID, false)
}

// ApplyAutomatic executes an AutoAccept action as the system, without a user caller.
func (s *Service) ApplyAutomatic(ctx context.Context, key string, action domain.RecoveryAction) (Result, error) {
	return s.redeem(ctx, key, action, "", true)
}

func (s *Service) redeem(ctx context.Context, key string, action domain.RecoveryAction, caller string, system bool) (Result, error) {
	res, err := s.doRedeem(ctx, key, action, caller, system)
	if err == nil {
		metrics.RedemptionsTotal.WithLabelValues(string(action), string(res.Outcome)).Inc()
	}
	return res, err
}

func (s *Service) doRedeem(ctx context.Context, key string, action domain.RecoveryAction, caller string, system bool) (Result, error) {
	now := s.now()
	denied := func(o Outcome) Result {
		s.logger.Warn("Recovery redemption rejected",
			"session_key", key,
			"action", action,
			"outcome", o,
		)
		return Result{Outcome: o, SessionKey: key, Action: action}
	}

	sess, err := s.sessions.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		// The session may have been evicted after a successful redemption.
		red, rerr := s.store.GetRedemption(ctx, key)
		if errors.Is(rerr, storage.ErrNotFound) {
			return denied(OutcomeExpiredSession), nil
		}
		if rerr != nil {
			return Result{}, fmt.Errorf("get redemption: %w", rerr)
		}
		if !system && red.UserID != caller {
			return denied(OutcomeForbidden), nil
		}
		return fromRedemption(red, true), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("get recovery session: %w", err)
	}

	if !system && sess.UserID != caller {
		return denied(OutcomeForbidden), nil
	}
	if !s.signer.Verify(sess) {
		return denied(OutcomeInvalidSignature), nil
	}

	if red, err := s.store.GetRedemption(ctx, key); err == nil {
		return fromRedemption(red, true), nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Result{}, fmt.Errorf("get redemption: %w", err)
	}

	if sess.Expired(now) {
		return denied(OutcomeExpiredSession), nil
	}
	spec, ok := sess.AuthorizedActions[action]
	if !ok {
		return denied(OutcomeUnknownAction), nil
	}

	var (
		red        *domain.Redemption
		replayed   bool
		snapshot   domain.Transaction
		transition *holds.Transition
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
		red, replayed, transition = nil, false, nil

		tx, err := uow.LockTransaction(ctx, sess.TransactionID)
		if err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}
		if existing, err := uow.GetRedemption(ctx, key); err == nil {
			red, replayed = existing, true
			return nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("get redemption: %w", err)
		}

		// A top-up since the session was opened changes the held amount.
		hold, err := uow.HoldForTransaction(ctx, tx.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return errSuperseded
		}
		if err != nil {
			return fmt.Errorf("load hold: %w", err)
		}
		if !hold.Amount.Equal(sess.ReceivedAmount) {
			return errSuperseded
		}

		holdStatus, tr, err := s.apply(ctx, uow, tx, sess, action, spec, now)
		if err != nil {
			return err
		}
		transition = tr

		tx.UpdatedAt = now
		if err := uow.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		red = &domain.Redemption{
			SessionKey:    key,
			TransactionID: tx.ID,
			UserID:        sess.UserID,
			Action:        action,
			Amount:        spec.Amount,
			HoldStatus:    holdStatus,
			RedeemedAt:    now,
		}
		if err := uow.SaveRedemption(ctx, red); err != nil {
			return err
		}
		snapshot = *tx
		return nil
	})
	if errors.Is(err, errSuperseded) {
		return denied(OutcomeExpiredSession), nil
	}
	if errors.Is(err, storage.ErrDuplicateRedemption) {
		existing, gerr := s.store.GetRedemption(ctx, key)
		if gerr != nil {
			return Result{}, fmt.Errorf("get redemption after conflict: %w", gerr)
		}
		return fromRedemption(existing, true), nil
	}
	if err != nil {
		return Result{}, err
	}
	if replayed {
		return fromRedemption(red, true), nil
	}

	if err := s.sessions.MarkConsumed(ctx, key, now); err != nil {
		s.logger.Warn("Failed to mark recovery session consumed",
			"session_key", key,
			"error", err,
		)
	}

	s.logger.Info("Recovery action redeemed",
		"session_key", key,
		"tx_id", sess.TransactionID,
		"action", action,
		"amount", spec.Amount.String(),
		"hold_status", red.HoldStatus,
		"system", system,
	)
	s.record(ctx, domain.AuditEvent{
		ID:         uuid.NewString(),
		EntityType: "recovery_session",
		EntityID:   key,
		UserID:     sess.UserID,
		Amount:     spec.Amount,
		Currency:   sess.Currency,
		Kind:       domain.AuditRecoveryRedeemed,
		Metadata: map[string]any{
			"transaction_id": sess.TransactionID,
			"action":         action,
			"category":       sess.Category,
			"hold_status":    red.HoldStatus,
			"system":         system,
		},
		OccurredAt: now,
	})
	if transition != nil {
		metrics.HoldTransitionsTotal.WithLabelValues(string(transition.From), string(transition.To)).Inc()
		s.record(ctx, domain.AuditEvent{
			ID:         uuid.NewString(),
			EntityType: "hold",
			EntityID:   transition.HoldID,
			UserID:     snapshot.UserID,
			Amount:     spec.Amount,
			Currency:   snapshot.Currency,
			Kind:       domain.AuditHoldTransition,
			Metadata: map[string]any{
				"transaction_id": snapshot.ID,
				"from":           transition.From,
				"to":             transition.To,
				"reason":         transition.Reason,
			},
			OccurredAt: transition.Timestamp,
		})
	}
	return fromRedemption(red, false), nil
}

// apply mutates the wallet, hold and transaction for one action and returns
// the resulting hold status.
func (s *Service) apply(
	ctx context.Context,
	uow storage.UnitOfWork,
	tx *domain.Transaction,
	sess *domain.RecoverySession,
	action domain.RecoveryAction,
	spec domain.ActionSpec,
	now time.Time,
) (domain.HoldStatus, *holds.Transition, error) {
	switch action {
	case domain.ActionCreditExcess:
		// The hold shrinks to the expected amount; the excess becomes available.
		hold, err := s.ledger.Resize(ctx, uow, tx.UserID, tx.Currency, tx.ID, sess.ReceivedAmount.Sub(spec.Amount))
		if err != nil {
			return "", nil, fmt.Errorf("credit excess: %w", err)
		}
		tx.Amount = sess.ExpectedAmount
		tx.Status = domain.TxStatusSucceeded
		return hold.Status, nil, nil

	case domain.ActionReducedAmount, domain.ActionProceedPartial:
		hold, err := s.ledger.Resize(ctx, uow, tx.UserID, tx.Currency, tx.ID, spec.Amount)
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", action, err)
		}
		// The escrow excludes a buyer fee that was already collected; that fee
		// leaves the wallet instead of becoming spendable.
		if fee := sess.ReceivedAmount.Sub(spec.Amount); fee.IsPositive() {
			if _, err := s.ledger.Debit(ctx, uow, tx.UserID, tx.Currency, fee); err != nil {
				return "", nil, fmt.Errorf("deduct buyer fee: %w", err)
			}
			s.logger.Info("Buyer fee deducted", "tx_id", tx.ID, "fee", fee.String())
		}
		tx.Amount = spec.Amount
		tx.Status = domain.TxStatusSucceeded
		return hold.Status, nil, nil

	case domain.ActionCompletePayment:
		// The user will send the remainder; funds received so far stay held.
		hold, err := uow.HoldForTransaction(ctx, tx.ID)
		if err != nil {
			return "", nil, fmt.Errorf("load hold: %w", err)
		}
		return hold.Status, nil, nil

	case domain.ActionCancelRefund:
		hold, tr, err := s.ledger.Transition(ctx, uow, tx.UserID, tx.Currency, tx.ID,
			domain.HoldStatusReleased, "refund to wallet")
		if err != nil {
			return "", nil, fmt.Errorf("cancel refund: %w", err)
		}
		tx.Status = domain.TxStatusCancelled
		tx.NextRetryAt = nil
		return hold.Status, tr, nil

	default:
		return "", nil, fmt.Errorf("unsupported recovery action %q", action)
	}
}

// Prune removes expired sessions from stores without native TTL.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	if n > 0 {
		metrics.SessionsPrunedTotal.Add(float64(n))
	}
	return n, nil
}

func (s *Service) record(ctx context.Context, ev domain.AuditEvent) {
	if s.audit != nil {
		s.audit.Record(ctx, ev)
	}
}
