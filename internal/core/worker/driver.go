package worker

import (
	"context"
	"log/slog"
	"time"
)

// Locker is a best-effort cross-instance lock taken once per tick.
type Locker interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Driver runs the retry processor on a fixed interval.
type Driver struct {
	processor *RetryProcessor
	interval  time.Duration
	lock      Locker
	logger    *slog.Logger
}

// NewDriver creates a batch driver. lock may be nil.
func NewDriver(processor *RetryProcessor, interval time.Duration, lock Locker, logger *slog.Logger) *Driver {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{processor: processor, interval: interval, lock: lock, logger: logger}
}

// Start runs the driver loop until ctx is cancelled.
func (d *Driver) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("Retry driver started", "interval", d.interval)
	d.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Retry driver stopped")
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Driver) tick(ctx context.Context) {
	if d.lock != nil {
		ok, err := d.lock.TryAcquire(ctx)
		if err != nil {
			// The claim CAS still prevents double execution.
			d.logger.Warn("Leader lock unavailable, processing anyway", "error", err)
		} else if !ok {
			d.logger.Debug("Another instance holds the retry lock")
			return
		} else {
			defer func() {
				if err := d.lock.Release(context.WithoutCancel(ctx)); err != nil {
					d.logger.Warn("Failed to release leader lock", "error", err)
				}
			}()
		}
	}

	if _, err := d.processor.ProcessReadyBatch(ctx, 0); err != nil {
		d.logger.Error("Retry batch failed", "error", err)
	}
}
