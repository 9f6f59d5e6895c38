package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/core/retry"
	"github.com/vietddude/payguard/internal/infra/storage"
	"github.com/vietddude/payguard/internal/metrics"
)

// ProcessorConfig configures batch size and parallelism.
type ProcessorConfig struct {
	BatchSize   int `yaml:"batch_size"`
	Parallelism int `yaml:"parallelism"`
}

// DefaultProcessorConfig returns the production defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{BatchSize: 50, Parallelism: 4}
}

// BatchStats summarizes one batch.
type BatchStats struct {
	Processed   int `json:"processed"`
	Succeeded   int `json:"succeeded"`
	Rescheduled int `json:"rescheduled"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
}

// RetryProcessor executes due retries.
type RetryProcessor struct {
	cfg      ProcessorConfig
	store    storage.Store
	executor *Executor
	logger   *slog.Logger
	now      func() time.Time
}

// NewRetryProcessor creates a processor.
func NewRetryProcessor(cfg ProcessorConfig, store storage.Store, executor *Executor, logger *slog.Logger) *RetryProcessor {
	def := DefaultProcessorConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryProcessor{
		cfg:      cfg,
		store:    store,
		executor: executor,
		logger:   logger,
		now:      time.Now,
	}
}

type itemResult int

const (
	itemSucceeded itemResult = iota
	itemRescheduled
	itemFailed
	itemSkipped
	itemError
)

func (r itemResult) String() string {
	switch r {
	case itemSucceeded:
		return "succeeded"
	case itemRescheduled:
		return "rescheduled"
	case itemFailed:
		return "failed"
	case itemSkipped:
		return "skipped"
	default:
		return "error"
	}
}

// ProcessReadyBatch executes up to limit due retries. limit <= 0 uses the
// configured batch size. One item's error never aborts the batch.
func (p *RetryProcessor) ProcessReadyBatch(ctx context.Context, limit int) (BatchStats, error) {
	start := time.Now()
	defer func() { metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()

	if limit <= 0 {
		limit = p.cfg.BatchSize
	}
	ready, err := p.store.ListReadyForRetry(ctx, p.now(), limit)
	if err != nil {
		return BatchStats{}, fmt.Errorf("list ready retries: %w", err)
	}
	metrics.RetryQueueReady.Set(float64(len(ready)))

	var (
		mu    sync.Mutex
		stats BatchStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Parallelism)
	for _, tx := range ready {
		g.Go(func() error {
			res := p.processOne(gctx, tx)
			metrics.BatchItemsTotal.WithLabelValues(res.String()).Inc()

			mu.Lock()
			defer mu.Unlock()
			stats.Processed++
			switch res {
			case itemSucceeded:
				stats.Succeeded++
			case itemRescheduled:
				stats.Rescheduled++
			case itemFailed:
				stats.Failed++
			case itemSkipped:
				stats.Skipped++
			case itemError:
				stats.Errors++
			}
			return nil
		})
	}
	_ = g.Wait()

	if stats.Processed > 0 {
		p.logger.Info("Retry batch processed",
			"processed", stats.Processed,
			"succeeded", stats.Succeeded,
			"rescheduled", stats.Rescheduled,
			"failed", stats.Failed,
			"skipped", stats.Skipped,
			"errors", stats.Errors,
			"duration", time.Since(start),
		)
	}
	return stats, nil
}

func (p *RetryProcessor) processOne(ctx context.Context, tx *domain.Transaction) (res itemResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Retry item panicked", "tx_id", tx.ID, "panic", r)
			res = itemError
		}
	}()

	claimed, err := p.store.ClaimForRetry(ctx, tx.ID, tx.RetryCount, p.now())
	if err != nil {
		p.logger.Error("Failed to claim retry", "tx_id", tx.ID, "error", err)
		return itemError
	}
	if !claimed {
		metrics.ClaimConflictsTotal.Inc()
		p.logger.Debug("Retry already claimed or resolved", "tx_id", tx.ID)
		return itemSkipped
	}
	tx.Status = domain.TxStatusPending
	tx.NextRetryAt = nil

	out, err := p.executor.Execute(ctx, tx)
	if err != nil {
		p.logger.Error("Retry execution failed", "tx_id", tx.ID, "error", err)
		return itemError
	}
	switch {
	case out.Succeeded:
		return itemSucceeded
	case out.Decision == nil:
		return itemError
	case out.Decision.Action == retry.ActionRetry:
		return itemRescheduled
	case out.Decision.Action == retry.ActionFail:
		return itemFailed
	default:
		return itemSkipped
	}
}
