package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/core/retry"
	"github.com/vietddude/payguard/internal/infra/provider"
)

// Providers resolves a provider adapter by name.
type Providers interface {
	Get(name string) (provider.Adapter, error)
}

// Outcome is the result of one execution.
type Outcome struct {
	Succeeded bool            `json:"succeeded"`
	Reference string          `json:"reference,omitempty"`
	Decision  *retry.Decision `json:"decision,omitempty"`
}

// Executor calls the provider for a transaction and records the result
// through the orchestrator.
type Executor struct {
	providers Providers
	orch      *retry.Orchestrator
	logger    *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(providers Providers, orch *retry.Orchestrator, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{providers: providers, orch: orch, logger: logger}
}

// Execute performs the transfer for tx. A missing adapter is a failure of
// the transaction, not of the executor.
func (e *Executor) Execute(ctx context.Context, tx *domain.Transaction) (Outcome, error) {
	adapter, err := e.providers.Get(tx.Provider)
	if errors.Is(err, provider.ErrUnknownProvider) {
		e.logger.Error("No adapter for provider",
			"tx_id", tx.ID,
			"provider", tx.Provider,
		)
		return e.fail(ctx, tx, provider.TransferResult{
			ErrorCode:    "UNKNOWN_PROVIDER",
			ErrorMessage: err.Error(),
		})
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve provider: %w", err)
	}

	res := adapter.ExecuteTransfer(ctx, tx)
	if !res.Success {
		return e.fail(ctx, tx, res)
	}

	if err := e.orch.HandleSuccess(ctx, tx.ID); err != nil {
		return Outcome{}, fmt.Errorf("record success: %w", err)
	}
	return Outcome{Succeeded: true, Reference: res.Reference}, nil
}

func (e *Executor) fail(ctx context.Context, tx *domain.Transaction, res provider.TransferResult) (Outcome, error) {
	e.logger.Warn("Transfer failed",
		"tx_id", tx.ID,
		"provider", tx.Provider,
		"error_code", res.ErrorCode,
		"error", res.ErrorMessage,
	)
	d, err := e.orch.HandleFailure(ctx, tx.ID, res.Signal())
	if err != nil {
		return Outcome{}, fmt.Errorf("handle failure: %w", err)
	}
	return Outcome{Decision: &d}, nil
}
