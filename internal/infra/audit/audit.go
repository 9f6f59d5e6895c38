// Package audit writes financial audit events off the caller's path.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/infra/storage"
	"github.com/vietddude/payguard/internal/metrics"
)

const (
	defaultBuffer       = 1024
	defaultWriteTimeout = 5 * time.Second
)

// Sink buffers events and writes them from one goroutine. Record never blocks:
// when the buffer is full the event is dropped and counted.
type Sink struct {
	repo         storage.AuditRepository
	logger       *slog.Logger
	events       chan domain.AuditEvent
	writeTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
}

// NewSink creates an audit sink over repo with the given buffer size.
func NewSink(repo storage.AuditRepository, buffer int, logger *slog.Logger) *Sink {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		repo:         repo,
		logger:       logger,
		events:       make(chan domain.AuditEvent, buffer),
		writeTimeout: defaultWriteTimeout,
		done:         make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (s *Sink) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.run()
}

// Record enqueues an event.
func (s *Sink) Record(ctx context.Context, ev domain.AuditEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.AuditDroppedTotal.WithLabelValues("closed").Inc()
		return
	}
	select {
	case s.events <- ev:
	default:
		metrics.AuditDroppedTotal.WithLabelValues("buffer_full").Inc()
		s.logger.Warn("Audit buffer full, dropping event",
			"kind", ev.Kind,
			"entity_id", ev.EntityID,
		)
	}
}

// Close stops accepting events and waits for the buffer to drain or ctx to end.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.events {
		s.write(ev)
	}
}

func (s *Sink) write(ev domain.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := s.repo.Insert(ctx, &ev); err != nil {
		metrics.AuditDroppedTotal.WithLabelValues("write_failed").Inc()
		s.logger.Error("Failed to write audit event",
			"kind", ev.Kind,
			"entity_type", ev.EntityType,
			"entity_id", ev.EntityID,
			"error", err,
		)
	}
}

// LogRepository is an AuditRepository that writes events to the log.
type LogRepository struct {
	logger *slog.Logger
}

func NewLogRepository(logger *slog.Logger) *LogRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRepository{logger: logger}
}

func (l *LogRepository) Insert(ctx context.Context, ev *domain.AuditEvent) error {
	l.logger.Info("Audit",
		"kind", ev.Kind,
		"entity_type", ev.EntityType,
		"entity_id", ev.EntityID,
		"user_id", ev.UserID,
		"amount", ev.Amount.String(),
		"currency", ev.Currency,
		"metadata", ev.Metadata,
		"occurred_at", ev.OccurredAt,
	)
	return nil
}
