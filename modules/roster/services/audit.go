package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/wI2L/jsondiff"
)

const (
	AuditEntityMember     = "member"
	AuditEntityDelta      = "delta"
	AuditEntityApproval   = "approval"
	AuditEntityAdjustment = "permission_adjustment"
)

// AuditRecord is an append-only before/after snapshot of one change.
type AuditRecord struct {
	ID        uuid.UUID       `json:"id"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entity_id"`
	Action    string          `json:"action"`
	ActorID   string          `json:"actor_id"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	Patch     json.RawMessage `json:"patch,omitempty"`
	Meta      map[string]any  `json:"meta,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type AuditRepository interface {
	Append(ctx context.Context, rec *AuditRecord) error
	ListFor(ctx context.Context, entity, entityID string, limit int) ([]AuditRecord, error)
}

// newAuditRecord snapshots before and after as JSON and stores the RFC 6902
// patch between them. A nil side is recorded as JSON null.
func newAuditRecord(entity, entityID, action, actor string, before, after any, meta map[string]any, at time.Time) (*AuditRecord, error) {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode audit before")
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode audit after")
	}
	patch, err := jsondiff.CompareJSON(beforeJSON, afterJSON)
	if err != nil {
		return nil, errors.Wrap(err, "failed to diff audit snapshots")
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode audit patch")
	}
	return &AuditRecord{
		ID:        uuid.New(),
		Entity:    entity,
		EntityID:  entityID,
		Action:    action,
		ActorID:   actor,
		Before:    beforeJSON,
		After:     afterJSON,
		Patch:     patchJSON,
		Meta:      meta,
		CreatedAt: at.UTC(),
	}, nil
}

// appendAudit writes rec outside the primary transaction. It never fails the
// caller; the returned warning is empty on success.
func appendAudit(ctx context.Context, repo AuditRepository, entity, entityID, action, actor string, before, after any, meta map[string]any, at time.Time) string {
	if repo == nil {
		return ""
	}
	rec, err := newAuditRecord(entity, entityID, action, actor, before, after, meta, at)
	if err == nil {
		err = repo.Append(ctx, rec)
	}
	if err != nil {
		recordSideEffectFailure("audit")
		logWithFields(ctx, logrus.WarnLevel, "roster.audit.append_failed", logrus.Fields{
			"entity":    entity,
			"entity_id": entityID,
			"action":    action,
			"error":     err.Error(),
		})
		return "audit record not written: " + err.Error()
	}
	return ""
}
