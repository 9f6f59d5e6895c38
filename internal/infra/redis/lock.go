package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LeaderLock is a per-tick lock shared by all instances.
type LeaderLock struct {
	client *Client
	name   string
	owner  string
	ttl    time.Duration
}

// NewLeaderLock creates a lock named name. Each process gets its own owner id.
func NewLeaderLock(client *Client, name string, ttl time.Duration) *LeaderLock {
	return &LeaderLock{
		client: client,
		name:   name,
		owner:  uuid.NewString(),
		ttl:    ttl,
	}
}

// TryAcquire takes the lock if free.
func (l *LeaderLock) TryAcquire(ctx context.Context) (bool, error) {
	return l.client.AcquireLock(ctx, l.name, l.owner, l.ttl)
}

// Release gives the lock back if this process still holds it.
func (l *LeaderLock) Release(ctx context.Context) error {
	return l.client.ReleaseLock(ctx, l.name, l.owner)
}
