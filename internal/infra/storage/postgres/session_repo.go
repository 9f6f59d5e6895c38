package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/infra/storage"
)

// SessionRepo implements storage.SessionRepository using PostgreSQL.
// Expired rows stay until DeleteExpired runs.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new PostgreSQL recovery session repository.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Save(ctx context.Context, s *domain.RecoverySession, ttl time.Duration) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal recovery session: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO recovery_sessions (session_key, transaction_id, user_id, payload, expires_at, consumed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6)
		ON CONFLICT (session_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			expires_at = EXCLUDED.expires_at,
			consumed_at = NULL,
			created_at = EXCLUDED.created_at`,
		s.Key, s.TransactionID, s.UserID, payload, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save recovery session: %w", err)
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, key string) (*domain.RecoverySession, error) {
	var row struct {
		Payload    []byte     `db:"payload"`
		ConsumedAt *time.Time `db:"consumed_at"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT payload, consumed_at FROM recovery_sessions WHERE session_key = $1`, key)
	if err != nil {
		return nil, notFound(err, "failed to get recovery session")
	}

	var s domain.RecoverySession
	if err := json.Unmarshal(row.Payload, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recovery session: %w", err)
	}
	s.ConsumedAt = row.ConsumedAt
	return &s, nil
}

func (r *SessionRepo) MarkConsumed(ctx context.Context, key string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE recovery_sessions SET consumed_at = $2 WHERE session_key = $1`, key, at)
	if err != nil {
		return fmt.Errorf("failed to mark session consumed: %w", err)
	}
	return requireRow(res)
}

func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recovery_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

var _ storage.SessionRepository = (*SessionRepo)(nil)
