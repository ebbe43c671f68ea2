package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssignmentsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "assignments_total", Help: "Total successful booking assignments"})
	AssignConflicts     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "assignment_conflicts_total", Help: "Assignments aborted by the transactional re-check"})
	AssignNoCandidate   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "assignment_no_candidate_total", Help: "Assignment attempts with no eligible idle vehicle"})
	AssignLatency       = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "fleet_dispatch", Name: "assignment_latency_seconds", Help: "Assignment latency seconds"})
	NotifyFailures      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "notify_failures_total", Help: "Push notification deliveries that failed"})
	RebalanceRunsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "rebalance_runs_total", Help: "Total rebalance runs"})
	SuggestionsApplied  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "rebalance_suggestions_applied_total", Help: "Rebalance suggestions auto-applied to vehicles"})
	VehiclesIdle        = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "fleet_dispatch", Name: "vehicles_idle", Help: "Idle vehicles observed at the last rebalance snapshot"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fleet_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
