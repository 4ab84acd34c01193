package roster

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/roster/modules/roster/services"
	"github.com/iota-uz/roster/pkg/application"
	"github.com/iota-uz/roster/pkg/composables"
)

// subscribeEventLog records every domain notification as an info line. It
// also keeps the bus from reporting ErrNoSubscribers for roster events.
func subscribeEventLog(app application.Application) {
	bus := app.EventPublisher()
	logger := app.Logger()
	entry := func(ctx context.Context) *logrus.Entry {
		if e := composables.UseLogger(ctx); e != nil && e.Logger != logrus.StandardLogger() {
			return e
		}
		return logrus.NewEntry(logger)
	}

	bus.Subscribe(func(ctx context.Context, e *services.ImportCompletedEvent) {
		entry(ctx).WithFields(logrus.Fields{
			"import_id":      e.ImportID,
			"category":       e.Category,
			"scope":          e.ScopeKey,
			"imported_by":    e.ImportedBy,
			"entered":        len(e.Summary.Entered),
			"left":           len(e.Summary.Left),
			"deltas":         e.Summary.Deltas,
			"auto_resolved":  e.Summary.AutoResolved,
			"match_failures": e.Summary.MatchFailures,
		}).Info("roster.import.completed")
	})
	bus.Subscribe(func(ctx context.Context, e *services.DeltaResolvedEvent) {
		fields := logrus.Fields{
			"delta_id":    e.Delta.ID,
			"registry_id": e.Delta.RegistryID,
			"movement":    e.Delta.Movement,
			"resolver":    e.Resolver,
		}
		if len(e.Warnings) > 0 {
			fields["warnings"] = e.Warnings
		}
		entry(ctx).WithFields(fields).Info("roster.delta.resolved")
	})
	bus.Subscribe(func(ctx context.Context, e *services.BulkResolvedEvent) {
		entry(ctx).WithFields(logrus.Fields{"count": e.Count, "resolver": e.Resolver}).Info("roster.delta.bulk_resolved")
	})
	bus.Subscribe(func(ctx context.Context, e *services.ApprovalDecidedEvent) {
		entry(ctx).WithFields(logrus.Fields{
			"request_id":  e.Request.ID,
			"registry_id": e.Request.RegistryID,
			"level":       e.Transition.Level,
			"outcome":     e.Transition.Outcome,
			"status":      e.Transition.To,
			"actor":       e.Actor,
		}).Info("roster.approval.decided")
	})
	bus.Subscribe(func(ctx context.Context, e *services.ApprovalCancelledEvent) {
		entry(ctx).WithFields(logrus.Fields{
			"request_id":  e.Request.ID,
			"registry_id": e.Request.RegistryID,
			"actor":       e.Actor,
		}).Info("roster.approval.cancelled")
	})
}
