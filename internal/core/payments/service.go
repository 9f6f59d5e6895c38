// Package payments exposes the payment reliability use cases. Every
// operation starts with an explicit capability check.
package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/payguard/internal/core/authz"
	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/core/holds"
	"github.com/vietddude/payguard/internal/core/recovery"
	"github.com/vietddude/payguard/internal/core/retry"
	"github.com/vietddude/payguard/internal/core/variance"
	"github.com/vietddude/payguard/internal/core/worker"
	"github.com/vietddude/payguard/internal/infra/storage"
)

var (
	// ErrUnauthorized is returned when a capability check denies the caller.
	ErrUnauthorized = authz.ErrForbidden

	// ErrInvalidState is returned when a transaction is not in a state the operation accepts.
	ErrInvalidState = errors.New("transaction is not in a valid state for this operation")

	// ErrAlreadyEvaluated is returned when funds for a deposit were already recorded.
	ErrAlreadyEvaluated = errors.New("deposit already evaluated")

	// ErrValidation is returned for malformed requests.
	ErrValidation = errors.New("invalid request")
)

// Deps are the collaborators of Service.
type Deps struct {
	Store     storage.Store
	Ledger    *holds.Ledger
	Orch      *retry.Orchestrator
	Engine    *variance.Engine
	Recovery  *recovery.Service
	Executor  *worker.Executor
	Processor *worker.RetryProcessor
	Audit     retry.AuditSink
	Notifier  retry.Notifier
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service is the facade over the orchestrator, variance engine and recovery sessions.
type Service struct {
	store     storage.Store
	ledger    *holds.Ledger
	orch      *retry.Orchestrator
	engine    *variance.Engine
	recovery  *recovery.Service
	executor  *worker.Executor
	processor *worker.RetryProcessor
	audit     retry.AuditSink
	notifier  retry.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates the payments facade.
func NewService(d Deps) *Service {
	s := &Service{
		store:     d.Store,
		ledger:    d.Ledger,
		orch:      d.Orch,
		engine:    d.Engine,
		recovery:  d.Recovery,
		executor:  d.Executor,
		processor: d.Processor,
		audit:     d.Audit,
		notifier:  d.Notifier,
		logger:    d.Logger,
		now:       d.Now,
	}
	if s.engine == nil {
		s.engine = variance.NewEngine(nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) authorize(caller authz.Caller, c authz.Capability, owner string) error {
	d := authz.Check(caller, c, owner)
	if !d.Allowed {
		s.logger.Warn("Capability check denied",
			"caller", caller.UserID,
			"capability", c,
			"reason", d.Reason,
		)
	}
	return d.Err()
}

func (s *Service) record(ctx context.Context, ev domain.AuditEvent) {
	if s.audit != nil {
		s.audit.Record(ctx, ev)
	}
}

func (s *Service) notify(ctx context.Context, n domain.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Error("Failed to send notification",
			"category", n.Category,
			"idempotency_key", n.IdempotencyKey,
			"error", err,
		)
	}
}
