package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/infra/storage"
)

// SessionRepo is an in-process storage.SessionRepository.
type SessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.RecoverySession
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{sessions: make(map[string]domain.RecoverySession)}
}

func (r *SessionRepo) Save(ctx context.Context, s *domain.RecoverySession, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.AuthorizedActions = maps.Clone(s.AuthorizedActions)
	r.sessions[s.Key] = cp
	return nil
}

// Get returns expired sessions until DeleteExpired evicts them, so callers can
// distinguish ExpiredSession from an unknown key.
func (r *SessionRepo) Get(ctx context.Context, key string) (*domain.RecoverySession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.AuthorizedActions = maps.Clone(s.AuthorizedActions)
	return &s, nil
}

func (r *SessionRepo) MarkConsumed(ctx context.Context, key string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return storage.ErrNotFound
	}
	s.ConsumedAt = &at
	r.sessions[key] = s
	return nil
}

func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, k)
			n++
		}
	}
	return n, nil
}

// AuditRepo keeps audit events in memory.
type AuditRepo struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

func (r *AuditRepo) Insert(ctx context.Context, ev *domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *AuditRepo) Events() []domain.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditEvent(nil), r.events...)
}
