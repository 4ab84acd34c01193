package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rosterImports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "import",
		Name:      "runs_total",
		Help:      "Total number of roster imports broken down by category and result.",
	}, []string{"category", "result"})

	rosterImportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "roster",
		Subsystem: "import",
		Name:      "duration_seconds",
		Help:      "Roster import wall time broken down by category.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"category"})

	rosterDeltasDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "delta",
		Name:      "detected_total",
		Help:      "Total number of deltas detected broken down by change and movement.",
	}, []string{"change", "movement"})

	rosterRelationsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "delta",
		Name:      "relations_resolved_total",
		Help:      "Total number of delta pairs auto-resolved by relation inference.",
	}, []string{"action"})

	rosterResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "delta",
		Name:      "resolutions_total",
		Help:      "Total number of resolution attempts broken down by action and result.",
	}, []string{"action", "result"})

	rosterSideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "side_effect",
		Name:      "failures_total",
		Help:      "Total number of best-effort side writes that failed.",
	}, []string{"effect"})

	rosterApprovalDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "approval",
		Name:      "decisions_total",
		Help:      "Total number of approval decisions broken down by outcome and result.",
	}, []string{"outcome", "result"})

	rosterMatchFields = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "match",
		Name:      "fields_total",
		Help:      "Total number of structure match attempts broken down by field and result.",
	}, []string{"field", "result"})

	rosterWriteConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Subsystem: "write",
		Name:      "conflicts_total",
		Help:      "Total number of roster write conflicts broken down by kind.",
	}, []string{"kind"})
)

func recordImport(category, result string, seconds float64) {
	rosterImports.WithLabelValues(category, result).Inc()
	if result == "ok" || result == "dry_run" {
		rosterImportDuration.WithLabelValues(category).Observe(seconds)
	}
}

func recordDeltaDetected(change, movement string) {
	rosterDeltasDetected.WithLabelValues(change, movement).Inc()
}

func recordRelationResolved(action string) {
	if action == "" {
		action = "none"
	}
	rosterRelationsResolved.WithLabelValues(action).Inc()
}

func recordResolution(action, result string) {
	if action == "" {
		action = "none"
	}
	rosterResolutions.WithLabelValues(action, result).Inc()
}

func recordSideEffectFailure(effect string) {
	rosterSideEffectFailures.WithLabelValues(effect).Inc()
}

func recordApprovalDecision(outcome, result string) {
	rosterApprovalDecisions.WithLabelValues(outcome, result).Inc()
}

func recordMatchField(field string, matched bool) {
	result := "failed"
	if matched {
		result = "matched"
	}
	rosterMatchFields.WithLabelValues(field, result).Inc()
}

func recordWriteConflict(kind string) {
	if kind == "" {
		kind = "other"
	}
	rosterWriteConflicts.WithLabelValues(kind).Inc()
}
