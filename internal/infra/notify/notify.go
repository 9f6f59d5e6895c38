// Package notify delivers user notifications and operator alerts.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/metrics"
)

// Publisher sends one message to a subject. msgID deduplicates on brokers that support it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, msgID string) error
}

// Sink publishes notifications as JSON on <prefix>.notifications.<category>.
// Notifications with an idempotency key already sent by this process are dropped.
type Sink struct {
	pub    Publisher
	prefix string
	logger *slog.Logger

	mu     sync.Mutex
	seen   map[string]struct{}
	order  []string
	maxIDs int
}

// NewSink creates a broker-backed notification sink.
func NewSink(pub Publisher, prefix string, logger *slog.Logger) *Sink {
	if prefix == "" {
		prefix = "payguard"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		pub:    pub,
		prefix: prefix,
		logger: logger,
		seen:   make(map[string]struct{}),
		maxIDs: 4096,
	}
}

// Subject returns the subject a notification category is published on.
func (s *Sink) Subject(c domain.NotificationCategory) string {
	return fmt.Sprintf("%s.notifications.%s", s.prefix, c)
}

// Notify implements retry.Notifier.
func (s *Sink) Notify(ctx context.Context, n domain.Notification) error {
	if n.IdempotencyKey != "" && !s.remember(n.IdempotencyKey) {
		metrics.NotificationsTotal.WithLabelValues(string(n.Category), "duplicate").Inc()
		return nil
	}

	data, err := json.Marshal(n)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(n.Category), "error").Inc()
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := s.pub.Publish(ctx, s.Subject(n.Category), data, n.IdempotencyKey); err != nil {
		s.forget(n.IdempotencyKey)
		metrics.NotificationsTotal.WithLabelValues(string(n.Category), "error").Inc()
		s.logger.Error("Failed to publish notification",
			"category", n.Category,
			"user_id", n.UserID,
			"error", err,
		)
		return fmt.Errorf("publish notification: %w", err)
	}

	metrics.NotificationsTotal.WithLabelValues(string(n.Category), "sent").Inc()
	s.logger.Debug("Notification published",
		"category", n.Category,
		"user_id", n.UserID,
		"idempotency_key", n.IdempotencyKey,
	)
	return nil
}

// remember returns false if key was already sent.
func (s *Sink) remember(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.order = append(s.order, key)
	if len(s.order) > s.maxIDs {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

func (s *Sink) forget(key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key)
}

// LogSink writes notifications to the log. Used when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (l *LogSink) Notify(ctx context.Context, n domain.Notification) error {
	level := slog.LevelInfo
	if n.Category == domain.NotifyOperatorAlert {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "Notification",
		"category", n.Category,
		"priority", n.Priority,
		"user_id", n.UserID,
		"title", n.Title,
		"message", n.Message,
		"buttons", len(n.ActionButtons),
		"idempotency_key", n.IdempotencyKey,
	)
	metrics.NotificationsTotal.WithLabelValues(string(n.Category), "logged").Inc()
	return nil
}
