// Package metrics registers the prometheus instruments shared across the
// pipeline. Registration happens at package init; components record through
// the exported collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsStored counts acknowledged writes per tier.
	RecordsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mnemos",
		Name:      "records_stored_total",
		Help:      "Records stored, labeled by tier.",
	}, []string{"tier"})

	// TierMigrations counts tier moves.
	TierMigrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mnemos",
		Name:      "tier_migrations_total",
		Help:      "Records migrated between tiers.",
	}, []string{"from", "to"})

	// IngestDuration observes per-batch ingestion latency.
	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mnemos",
		Name:      "ingest_batch_seconds",
		Help:      "End-to-end batch ingestion duration.",
		Buckets:   prometheus.DefBuckets,
	})

	// SearchQueries counts retrieval queries by whether they were degraded.
	SearchQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mnemos",
		Name:      "search_queries_total",
		Help:      "Retrieval queries, labeled degraded=true when a strategy was unavailable.",
	}, []string{"degraded"})

	// ProfileUpdates counts applied profile actions.
	ProfileUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mnemos",
		Name:      "profile_updates_total",
		Help:      "Profile component updates, labeled by action.",
	}, []string{"action"})

	// WriteOps counts governed write operations by outcome.
	WriteOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mnemos",
		Name:      "write_ops_total",
		Help:      "Governed write operations, labeled by op and outcome.",
	}, []string{"op", "outcome"})

	// AuthzDecisions counts authorization outcomes by risk level.
	AuthzDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mnemos",
		Name:      "authz_decisions_total",
		Help:      "Authorization decisions, labeled by risk and outcome.",
	}, []string{"risk", "outcome"})

	// EnrichFailures counts degraded enrichment stages.
	EnrichFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mnemos",
		Name:      "enrich_failures_total",
		Help:      "Enrichment stage failures.",
	}, []string{"stage"})
)
