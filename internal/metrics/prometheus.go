// Package metrics provides uptime summaries and the Prometheus collectors
// exported by availtrack.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "availtrack"

// Outcome labels for ObservationsTotal.
const (
	OutcomeApplied   = "applied"
	OutcomeUnchanged = "unchanged"
	OutcomeStale     = "stale"
	OutcomeRejected  = "rejected"
)

var (
	// ObservationsTotal counts report observations by how they were handled.
	ObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Observations processed by the merge engine, by outcome.",
		},
		[]string{"outcome"},
	)

	// ReportsTotal counts merged reports by kind.
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Availability reports merged, by kind (monitoring or enablement).",
		},
		[]string{"kind"},
	)

	// TimelineRepairsTotal counts timelines healed before a mutation.
	TimelineRepairsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeline_repairs_total",
			Help:      "Resource timelines found corrupted and repaired during a merge.",
		},
	)

	// PurgedIntervalsTotal counts intervals removed by retention purges.
	PurgedIntervalsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_intervals_total",
			Help:      "Closed intervals deleted by the purge job.",
		},
	)

	// BackfillsTotal counts synthetic DOWN transitions injected for suspect agents.
	BackfillsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfills_total",
			Help:      "Synthetic DOWN observations injected by the liveness sweep.",
		},
	)

	// SuspectAgents is the number of agents found suspect by the latest sweep.
	SuspectAgents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "suspect_agents",
			Help:      "Agents whose heartbeat exceeded the suspect threshold at the last sweep.",
		},
	)

	// MergeDurationSeconds is the latency of merging one report.
	MergeDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_merge_duration_seconds",
			Help:      "Time spent merging one availability report.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
	)

	// WebSocketConnectionsActive is the number of live timeline subscribers.
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of active live timeline WebSocket connections.",
		},
	)
)
