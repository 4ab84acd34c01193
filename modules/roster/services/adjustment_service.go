package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/roster/modules/roster/domain/adjustment"
)

// AdjustmentService exposes the permission adjustment queue to full
// administrators.
type AdjustmentService struct {
	queue adjustment.Queue
	authz Authorizer
	audit AuditRepository
	now   func() time.Time
}

func NewAdjustmentService(queue adjustment.Queue, authz Authorizer, audit AuditRepository) *AdjustmentService {
	return &AdjustmentService{queue: queue, authz: authz, audit: audit, now: time.Now}
}

func (s *AdjustmentService) requireFullAdmin(ctx context.Context, userID string, roles []string) error {
	if s.authz == nil || !s.authz.HasFullAdmin(ctx, userID, roles) {
		return forbiddenError("ROSTER_FULL_ADMIN_REQUIRED", "only a full administrator may manage permission adjustments", nil)
	}
	return nil
}

func (s *AdjustmentService) ListPending(ctx context.Context, userID string, roles []string, limit, offset int) ([]adjustment.Item, error) {
	if err := s.requireFullAdmin(ctx, userID, roles); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.queue.ListPending(ctx, limit, offset)
	if err != nil {
		return nil, asServiceError(err)
	}
	return items, nil
}

func (s *AdjustmentService) Complete(ctx context.Context, id uuid.UUID, userID string, roles []string) (*adjustment.Item, error) {
	if err := s.requireFullAdmin(ctx, userID, roles); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	item, err := s.queue.Complete(ctx, id, userID, now)
	switch {
	case errors.Is(err, adjustment.ErrNotFound):
		return nil, notFoundError("ROSTER_ADJUSTMENT_NOT_FOUND", "permission adjustment not found", err)
	case errors.Is(err, adjustment.ErrAlreadyCompleted):
		return nil, conflictError("ROSTER_ADJUSTMENT_COMPLETED", "permission adjustment already completed", item, err)
	case err != nil:
		return nil, asServiceError(err)
	}
	logWithFields(ctx, logrus.InfoLevel, "roster.adjustment.completed", logrus.Fields{
		"adjustment_id": item.ID,
		"registry_id":   item.RegistryID,
		"by":            userID,
	})
	if w := appendAudit(ctx, s.audit, AuditEntityAdjustment, item.ID.String(), "adjustment.complete", userID, nil, item, nil, now); w != "" {
		return item, partialSuccess([]string{w})
	}
	return item, nil
}
