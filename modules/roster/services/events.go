package services

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/roster/modules/roster/domain/approval"
	"github.com/iota-uz/roster/modules/roster/domain/delta"
	"github.com/iota-uz/roster/modules/roster/domain/snapshot"
	"github.com/iota-uz/roster/pkg/eventbus"
)

// Notifier receives human-readable summaries of completed work. The
// eventbus implementation satisfies it.
type Notifier interface {
	PublishE(args ...any) error
}

type ImportCompletedEvent struct {
	ImportID   string
	Category   snapshot.Category
	ScopeKey   string
	ImportedBy string
	Summary    snapshot.Summary
}

type DeltaResolvedEvent struct {
	Delta    delta.Delta
	Resolver string
	Warnings []string
}

type BulkResolvedEvent struct {
	Count    int
	Resolver string
}

type ApprovalDecidedEvent struct {
	Request    approval.Request
	Transition approval.Transition
	Actor      string
}

type ApprovalCancelledEvent struct {
	Request approval.Request
	Actor   string
}

// notify publishes without ever failing the caller.
func notify(ctx context.Context, n Notifier, event any) {
	if n == nil {
		return
	}
	err := n.PublishE(ctx, event)
	if err == nil || errors.Is(err, eventbus.ErrNoSubscribers) {
		return
	}
	recordSideEffectFailure("notification")
	logWithFields(ctx, logrus.WarnLevel, "roster.notification.failed", logrus.Fields{
		"event": eventName(event),
		"error": err.Error(),
	})
}

func eventName(event any) string {
	switch event.(type) {
	case *ImportCompletedEvent:
		return "import_completed"
	case *DeltaResolvedEvent:
		return "delta_resolved"
	case *BulkResolvedEvent:
		return "bulk_resolved"
	case *ApprovalDecidedEvent:
		return "approval_decided"
	case *ApprovalCancelledEvent:
		return "approval_cancelled"
	default:
		return "unknown"
	}
}
