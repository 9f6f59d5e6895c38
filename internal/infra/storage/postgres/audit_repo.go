package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/payguard/internal/core/domain"
)

// AuditRepo writes to financial_audit_log.
type AuditRepo struct {
	db *DB
}

func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Insert(ctx context.Context, ev *domain.AuditEvent) error {
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO financial_audit_log (id, entity_type, entity_id, user_id, amount, currency, kind, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.EntityType, ev.EntityID, ev.UserID, ev.Amount, ev.Currency, string(ev.Kind), raw, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}
