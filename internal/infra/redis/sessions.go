package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/infra/storage"
)

// expiredRetention keeps a session readable past expires_at so a late
// redemption is reported as expired rather than unknown.
const expiredRetention = time.Hour

// SessionRepo implements storage.SessionRepository using Redis key expiry.
type SessionRepo struct {
	rdb *redis.Client
}

// NewSessionRepo creates a new Redis-backed recovery session repository.
func NewSessionRepo(client *Client) *SessionRepo {
	return &SessionRepo{rdb: client.rdb}
}

// Save stores the session; a save for the same key replaces it.
func (r *SessionRepo) Save(ctx context.Context, s *domain.RecoverySession, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal recovery session: %w", err)
	}
	if err := r.rdb.Set(ctx, sessionKey(s.Key), data, ttl+expiredRetention).Err(); err != nil {
		return fmt.Errorf("failed to set recovery session: %w", err)
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, key string) (*domain.RecoverySession, error) {
	data, err := r.rdb.Get(ctx, sessionKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recovery session: %w", err)
	}

	var s domain.RecoverySession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recovery session: %w", err)
	}
	return &s, nil
}

// MarkConsumed stamps consumed_at, keeping the remaining TTL.
func (r *SessionRepo) MarkConsumed(ctx context.Context, key string, at time.Time) error {
	s, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	s.ConsumedAt = &at

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal recovery session: %w", err)
	}
	if err := r.rdb.Set(ctx, sessionKey(key), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to set recovery session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op; Redis evicts sessions itself.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
