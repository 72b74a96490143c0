// Package metrics registers the pipeline's Prometheus collectors. All
// collectors live on the default registry and are exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts ingested telemetry events by append outcome:
	// stored, duplicate, conflict.
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crucible", Subsystem: "ingest",
		Name: "events_total", Help: "Telemetry events received, by append outcome.",
	}, []string{"outcome"})

	// TransitionsRecorded counts lifecycle transitions accepted by the
	// recorder, by status.
	TransitionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crucible", Subsystem: "lifecycle",
		Name: "transitions_total", Help: "Lifecycle transitions recorded, by status.",
	}, []string{"status"})

	// ScoringAttempts counts individual calls against the external scorer.
	ScoringAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crucible", Subsystem: "scoring",
		Name: "attempts_total", Help: "Outbound scorer calls attempted.",
	})

	// ScoringOutcomes counts per-session scheduling results: scored,
	// score_failed, abandoned, skipped.
	ScoringOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crucible", Subsystem: "scoring",
		Name: "sessions_total", Help: "Per-session scoring outcomes per cycle.",
	}, []string{"outcome"})

	// SchedulerCycleDuration observes wall time of scoring cycles.
	SchedulerCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "crucible", Subsystem: "scoring",
		Name: "cycle_duration_seconds", Help: "Duration of scoring cycles.",
		Buckets: prometheus.DefBuckets,
	})

	// RetentionRowsDeleted counts rows removed by retention sweeps, by
	// source (events, transitions).
	RetentionRowsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crucible", Subsystem: "retention",
		Name: "rows_deleted_total", Help: "Rows deleted by retention sweeps, by source.",
	}, []string{"source"})

	// RetentionBatchesArchived counts archive batches uploaded before
	// deletion.
	RetentionBatchesArchived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crucible", Subsystem: "retention",
		Name: "batches_archived_total", Help: "Archive batches uploaded by retention sweeps.",
	})
)
