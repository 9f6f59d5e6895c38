// Package retry decides whether a failed provider call is retried, when, and
// how often, and records every decision in the attempt log.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/payguard/internal/core/classifier"
	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/core/holds"
	"github.com/vietddude/payguard/internal/infra/storage"
	"github.com/vietddude/payguard/internal/metrics"
)

// Action is the orchestrator's verdict for one failure.
type Action string

const (
	ActionRetry Action = "RETRY"
	ActionFail  Action = "FAIL"
	ActionSkip  Action = "SKIP"
)

// Decision is the result of HandleFailure.
type Decision struct {
	Action         Action              `json:"action"`
	FinalFailure   bool                `json:"final_failure"`
	NextRetryAt    *time.Time          `json:"next_retry_at,omitempty"`
	Delay          time.Duration       `json:"delay"`
	AttemptNumber  int                 `json:"attempt_number"`
	Category       classifier.Category `json:"category,omitempty"`
	FailureType    domain.FailureType  `json:"failure_type,omitempty"`
	ErrorCode      string              `json:"error_code,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	Reason         string              `json:"reason"`
}

// AuditSink receives financial audit events. Implementations must not block.
type AuditSink interface {
	Record(ctx context.Context, event domain.AuditEvent)
}

// Notifier delivers structured notifications.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, domain.AuditEvent) {}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Notification) error { return nil }

// Orchestrator turns provider failures into retry decisions.
type Orchestrator struct {
	store    storage.Store
	ledger   *holds.Ledger
	policy   DelayPolicy
	classify func(classifier.Signal) classifier.Result
	audit    AuditSink
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	bucket   time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithAudit(a AuditSink) Option                 { return func(o *Orchestrator) { o.audit = a } }
func WithNotifier(n Notifier) Option               { return func(o *Orchestrator) { o.notifier = n } }
func WithLogger(l *slog.Logger) Option             { return func(o *Orchestrator) { o.logger = l } }
func WithClock(now func() time.Time) Option        { return func(o *Orchestrator) { o.now = now } }
func WithIdempotencyBucket(d time.Duration) Option { return func(o *Orchestrator) { o.bucket = d } }

// WithClassifier replaces the error classifier.
func WithClassifier(fn func(classifier.Signal) classifier.Result) Option {
	return func(o *Orchestrator) { o.classify = fn }
}

// NewOrchestrator creates an orchestrator. A nil policy means DefaultPolicy.
func NewOrchestrator(store storage.Store, ledger *holds.Ledger, policy DelayPolicy, opts ...Option) *Orchestrator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	o := &Orchestrator{
		store:    store,
		ledger:   ledger,
		policy:   policy,
		classify: classifier.ClassifySignal,
		audit:    nopAudit{},
		notifier: nopNotifier{},
		logger:   slog.Default(),
		now:      time.Now,
		bucket:   5 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Policy returns the active delay policy.
func (o *Orchestrator) Policy() DelayPolicy { return o.policy }

// HandleFailure classifies a failure of transaction txID and either schedules a
// retry, finalizes the failure, or skips. The transaction row lock is held for
// the whole decision, so concurrent callers observe a consistent retry_count.
func (o *Orchestrator) HandleFailure(ctx context.Context, txID string, sig classifier.Signal) (Decision, error) {
	now := o.now()
	res := o.safeClassify(sig)
	metrics.ClassificationsTotal.WithLabelValues(string(res.Category), string(res.Family), string(res.Rule)).Inc()

	var (
		decision   Decision
		snapshot   domain.Transaction
		transition *holds.Transition
	)
	err := o.store.WithinTx(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
		decision, transition = Decision{}, nil

		tx, err := uow.LockTransaction(ctx, txID)
		if err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}
		if skip, reason := skipReason(tx); skip {
			decision = Decision{Action: ActionSkip, Reason: reason, AttemptNumber: tx.RetryCount}
			snapshot = *tx
			return nil
		}

		if err := uow.CompleteAttempt(ctx, tx.ID, false, now); err != nil {
			return fmt.Errorf("complete attempt: %w", err)
		}

		attempt := tx.RetryCount + 1
		decision = Decision{
			AttemptNumber: attempt,
			Category:      res.Category,
			FailureType:   res.FailureType(),
			ErrorCode:     res.Code,
		}

		switch {
		case res.Category == classifier.Technical && tx.RetryCount < tx.MaxRetryAttempts:
			delay := o.policy.DelayFor(attempt)
			next := now.Add(delay)
			key := AttemptKey(tx.ID, attempt, res.Code, now, o.bucket)
			if err := uow.AppendAttempt(ctx, &domain.RetryAttempt{
				ID:             uuid.NewString(),
				TransactionID:  tx.ID,
				AttemptNumber:  attempt,
				ErrorCode:      res.Code,
				DelaySeconds:   int64(delay / time.Second),
				ScheduledAt:    next,
				IdempotencyKey: key,
				Decision:       string(ActionRetry),
			}); err != nil {
				return err
			}

			tx.Status = domain.TxStatusFailed
			tx.FailureType = domain.FailureTypeTechnical
			tx.RetryCount = attempt
			tx.NextRetryAt = &next
			decision.Action = ActionRetry
			decision.NextRetryAt = &next
			decision.Delay = delay
			decision.IdempotencyKey = key
			decision.Reason = "technical failure, retry scheduled"

		default:
			reason := "requires review"
			if res.Category == classifier.Technical {
				reason = "retry budget exhausted"
			}
			key := AttemptKey(tx.ID, attempt, res.Code, now, o.bucket)
			completed, success := now, false
			if err := uow.AppendAttempt(ctx, &domain.RetryAttempt{
				ID:             uuid.NewString(),
				TransactionID:  tx.ID,
				AttemptNumber:  attempt,
				ErrorCode:      res.Code,
				ScheduledAt:    now,
				CompletedAt:    &completed,
				Success:        &success,
				IdempotencyKey: key,
				Decision:       string(ActionFail),
			}); err != nil {
				return err
			}

			tx.Status = domain.TxStatusFailed
			tx.FailureType = decision.FailureType
			tx.NextRetryAt = nil
			decision.Action = ActionFail
			decision.FinalFailure = true
			decision.IdempotencyKey = key
			decision.Reason = reason

			_, transition, err = o.ledger.Transition(ctx, uow, tx.UserID, tx.Currency, tx.ID,
				domain.HoldStatusFailedHeld, reason)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("hold to failed_held: %w", err)
			}
		}

		tx.LastErrorCode = res.Code
		tx.UpdatedAt = now
		if err := uow.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		snapshot = *tx
		return nil
	})
	if errors.Is(err, storage.ErrDuplicateAttempt) {
		o.logger.Warn("Retry attempt already recorded, skipping",
			"tx_id", txID,
			"attempt", decision.AttemptNumber,
		)
		return Decision{Action: ActionSkip, AttemptNumber: decision.AttemptNumber, Reason: "attempt already recorded"}, nil
	}
	if err != nil {
		return Decision{}, err
	}

	o.logDecision(&snapshot, decision)
	metrics.RetryDecisionsTotal.WithLabelValues(
		snapshot.Provider, string(decision.Action), strconv.FormatBool(decision.FinalFailure),
	).Inc()
	if decision.Action == ActionRetry {
		metrics.RetryDelaySeconds.WithLabelValues(o.policy.Name()).Observe(decision.Delay.Seconds())
	}
	if decision.Action != ActionSkip {
		o.recordDecision(ctx, &snapshot, decision, now)
		o.recordTransition(ctx, &snapshot, transition)
		o.notifyDecision(ctx, &snapshot, decision)
	}
	return decision, nil
}

// HandleSuccess marks the transaction Succeeded and its hold ConsumedSent.
// A cancelled transaction is left untouched and raised to operators.
func (o *Orchestrator) HandleSuccess(ctx context.Context, txID string) error {
	now := o.now()
	var (
		snapshot   domain.Transaction
		transition *holds.Transition
		cancelled  bool
		done       bool
	)
	err := o.store.WithinTx(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
		tx, err := uow.LockTransaction(ctx, txID)
		if err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}
		snapshot = *tx
		switch tx.Status {
		case domain.TxStatusSucceeded:
			done = true
			return nil
		case domain.TxStatusCancelled:
			cancelled = true
			return nil
		}

		if err := uow.CompleteAttempt(ctx, tx.ID, true, now); err != nil {
			return fmt.Errorf("complete attempt: %w", err)
		}
		tx.Status = domain.TxStatusSucceeded
		tx.FailureType = domain.FailureTypeNone
		tx.NextRetryAt = nil
		tx.UpdatedAt = now
		if err := uow.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		_, transition, err = o.ledger.Transition(ctx, uow, tx.UserID, tx.Currency, tx.ID,
			domain.HoldStatusConsumedSent, "provider confirmed transfer")
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("hold to consumed_sent: %w", err)
		}
		snapshot = *tx
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case done:
		return nil
	case cancelled:
		o.logger.Warn("Transfer succeeded after cancellation",
			"tx_id", txID,
			"provider", snapshot.Provider,
		)
		o.notify(ctx, domain.Notification{
			Title:          "Transfer succeeded after cancellation",
			Message:        fmt.Sprintf("Provider %s confirmed cancelled transaction %s; reconcile manually.", snapshot.Provider, txID),
			Category:       domain.NotifyOperatorAlert,
			Priority:       domain.PriorityCritical,
			IdempotencyKey: NotificationKey(txID, "late_success", snapshot.RetryCount),
		})
		return nil
	}

	o.logger.Info("Transfer succeeded",
		"tx_id", txID,
		"provider", snapshot.Provider,
		"retry_count", snapshot.RetryCount,
	)
	o.audit.Record(ctx, domain.AuditEvent{
		ID:         uuid.NewString(),
		EntityType: "transaction",
		EntityID:   snapshot.ID,
		UserID:     snapshot.UserID,
		Amount:     snapshot.Amount,
		Currency:   snapshot.Currency,
		Kind:       domain.AuditTransferSuccess,
		Metadata: map[string]any{
			"provider":    snapshot.Provider,
			"retry_count": snapshot.RetryCount,
		},
		OccurredAt: now,
	})
	o.recordTransition(ctx, &snapshot, transition)
	return nil
}

func skipReason(tx *domain.Transaction) (bool, string) {
	if !tx.Kind.RequiresExternalRetry() {
		return true, "kind has no external retry semantics"
	}
	switch tx.Status {
	case domain.TxStatusSucceeded:
		return true, "transaction already succeeded"
	case domain.TxStatusCancelled:
		return true, "transaction cancelled"
	case domain.TxStatusFailed:
		if tx.NextRetryAt == nil {
			return true, "transaction already finalized"
		}
		// Only a claimed (Pending) transaction may fail again.
		return true, "retry already scheduled"
	}
	return false, ""
}

// safeClassify runs the classifier and fails closed if it panics.
func (o *Orchestrator) safeClassify(sig classifier.Signal) (res classifier.Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Classifier panicked, routing to review", "code", sig.Code, "panic", r)
			res = classifier.Result{
				Category: classifier.RequiresReview,
				Family:   classifier.FamilyUnknown,
				Rule:     classifier.RulePanic,
				Code:     classifier.NormalizeCode(sig.Code),
			}
		}
	}()
	return o.classify(sig)
}

func (o *Orchestrator) logDecision(tx *domain.Transaction, d Decision) {
	attrs := []any{
		"tx_id", tx.ID,
		"provider", tx.Provider,
		"action", d.Action,
		"attempt", d.AttemptNumber,
		"retry_count", tx.RetryCount,
		"error_code", d.ErrorCode,
		"reason", d.Reason,
	}
	switch d.Action {
	case ActionRetry:
		o.logger.Info("Retry scheduled", append(attrs, "next_retry_at", d.NextRetryAt, "delay", d.Delay)...)
	case ActionFail:
		o.logger.Info("Transaction failed", append(attrs, "failure_type", d.FailureType)...)
	default:
		o.logger.Warn("Failure skipped", attrs...)
	}
}

func (o *Orchestrator) recordDecision(ctx context.Context, tx *domain.Transaction, d Decision, at time.Time) {
	o.audit.Record(ctx, domain.AuditEvent{
		ID:         uuid.NewString(),
		EntityType: "transaction",
		EntityID:   tx.ID,
		UserID:     tx.UserID,
		Amount:     tx.Amount,
		Currency:   tx.Currency,
		Kind:       domain.AuditRetryDecision,
		Metadata: map[string]any{
			"provider":        tx.Provider,
			"attempt":         d.AttemptNumber,
			"decision":        d.Action,
			"final_failure":   d.FinalFailure,
			"category":        d.Category,
			"failure_type":    d.FailureType,
			"error_code":      d.ErrorCode,
			"idempotency_key": d.IdempotencyKey,
		},
		OccurredAt: at,
	})
}

func (o *Orchestrator) recordTransition(ctx context.Context, tx *domain.Transaction, tr *holds.Transition) {
	if tr == nil {
		return
	}
	metrics.HoldTransitionsTotal.WithLabelValues(string(tr.From), string(tr.To)).Inc()
	o.audit.Record(ctx, HoldTransitionEvent(tx, tr))
}

// HoldTransitionEvent builds the audit event for a hold transition.
func HoldTransitionEvent(tx *domain.Transaction, tr *holds.Transition) domain.AuditEvent {
	return domain.AuditEvent{
		ID:         uuid.NewString(),
		EntityType: "hold",
		EntityID:   tr.HoldID,
		UserID:     tx.UserID,
		Amount:     tx.Amount,
		Currency:   tx.Currency,
		Kind:       domain.AuditHoldTransition,
		Metadata: map[string]any{
			"transaction_id": tx.ID,
			"from":           tr.From,
			"to":             tr.To,
			"hold_amount":    tr.Amount,
			"reason":         tr.Reason,
		},
		OccurredAt: tr.Timestamp,
	}
}

func (o *Orchestrator) notifyDecision(ctx context.Context, tx *domain.Transaction, d Decision) {
	switch {
	case d.Action == ActionRetry:
		o.notify(ctx, domain.Notification{
			UserID:         tx.UserID,
			Title:          "Payout delayed",
			Message:        "Your payout hit a temporary problem and will be retried automatically.",
			Category:       domain.NotifyPaymentRetrying,
			Priority:       domain.PriorityLow,
			IdempotencyKey: NotificationKey(tx.ID, "retry", d.AttemptNumber),
		})

	case d.Action == ActionFail && d.FailureType == domain.FailureTypeUser:
		o.notify(ctx, domain.Notification{
			UserID:         tx.UserID,
			Title:          "Payout failed",
			Message:        "Your payout could not be completed. Please check your payment details and balance, then try again.",
			Category:       domain.NotifyPaymentFailed,
			Priority:       domain.PriorityHigh,
			IdempotencyKey: NotificationKey(tx.ID, "fail_user", d.AttemptNumber),
		})

	case d.Action == ActionFail:
		o.notify(ctx, domain.Notification{
			UserID:         tx.UserID,
			Title:          "Payout failed",
			Message:        "Your request could not be completed. Our team has been notified and will follow up.",
			Category:       domain.NotifyPaymentFailed,
			Priority:       domain.PriorityHigh,
			IdempotencyKey: NotificationKey(tx.ID, "fail", d.AttemptNumber),
		})
		o.notify(ctx, domain.Notification{
			Title: "Provider failure needs attention",
			Message: fmt.Sprintf("Transaction %s via %s failed with %s (%s): %s.",
				tx.ID, tx.Provider, d.ErrorCode, d.FailureType, d.Reason),
			Category:       domain.NotifyOperatorAlert,
			Priority:       domain.PriorityCritical,
			IdempotencyKey: NotificationKey(tx.ID, "operator_alert", d.AttemptNumber),
		})
	}
}

func (o *Orchestrator) notify(ctx context.Context, n domain.Notification) {
	if err := o.notifier.Notify(ctx, n); err != nil {
		o.logger.Error("Failed to send notification",
			"category", n.Category,
			"idempotency_key", n.IdempotencyKey,
			"error", err,
		)
	}
}
