package persistence

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"

	"github.com/iota-uz/roster/modules/roster/services"
	"github.com/iota-uz/roster/pkg/composables"
)

// AuditRepository appends to roster_audit_log. Rows are never updated.
type AuditRepository struct{}

func NewAuditRepository() services.AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Append(ctx context.Context, rec *services.AuditRecord) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	var meta []byte
	if len(rec.Meta) > 0 {
		if meta, err = marshalJSON(rec.Meta, "roster_audit_log: encode meta"); err != nil {
			return err
		}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO roster_audit_log (id, entity, entity_id, action, actor_id, before, after, patch, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.Entity, rec.EntityID, rec.Action, rec.ActorID, rawOrNil(rec.Before), rawOrNil(rec.After), rawOrNil(rec.Patch), meta, rec.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "roster_audit_log: insert")
	}
	return nil
}

func (r *AuditRepository) ListFor(ctx context.Context, entity, entityID string, limit int) ([]services.AuditRecord, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := tx.Query(ctx, `
		SELECT id, entity, entity_id, action, actor_id, before, after, patch, meta, created_at
		FROM roster_audit_log
		WHERE entity = $1 AND entity_id = $2
		ORDER BY created_at DESC, id
		LIMIT $3
	`, entity, entityID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "roster_audit_log: list")
	}
	defer rows.Close()

	out := []services.AuditRecord{}
	for rows.Next() {
		var (
			rec                        services.AuditRecord
			before, after, patch, meta []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Entity, &rec.EntityID, &rec.Action, &rec.ActorID, &before, &after, &patch, &meta, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "roster_audit_log: scan")
		}
		rec.Before, rec.After, rec.Patch = before, after, patch
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Meta); err != nil {
				return nil, errors.Wrap(err, "roster_audit_log: decode meta")
			}
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "roster_audit_log: rows")
}

func rawOrNil(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
