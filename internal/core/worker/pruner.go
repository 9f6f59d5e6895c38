package worker

import (
	"context"
	"log/slog"
	"time"
)

// SessionPruner is implemented by the recovery service.
type SessionPruner interface {
	Prune(ctx context.Context) (int64, error)
}

// Pruner deletes expired recovery sessions from stores without native TTL.
type Pruner struct {
	target   SessionPruner
	interval time.Duration
	logger   *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(target SessionPruner, interval time.Duration, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{target: target, interval: interval, logger: logger}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.interval <= 0 {
		return // Pruning disabled
	}

	interval := max(p.interval, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	n, err := p.target.Prune(ctx)
	if err != nil {
		p.logger.Error("Failed to prune recovery sessions", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("Pruned expired recovery sessions", "count", n)
	}
}
