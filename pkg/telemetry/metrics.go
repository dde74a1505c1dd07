package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "engageflow"

var (
	// ─── Execution engine ────────────────────────────────────────────────────────

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "outcomes_total",
		Help:      "Execution attempts by action type and outcome (completed, failed, skipped, pending_approval, conflict).",
	}, []string{"action_type", "outcome"})

	ExecutionDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "duration_seconds",
		Help:      "End-to-end execute() time in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"action_type"})

	AdmissionDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "denials_total",
		Help:      "Admission denials by check.",
	}, []string{"check"})

	GenerationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "generator",
		Name:      "failures_total",
		Help:      "Content generation failures by generator.",
	}, []string{"generator"})

	RetriesScheduledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "retries_scheduled_total",
		Help:      "Failed opportunities moved back to Scheduled.",
	}, []string{"action_type"})

	// ─── Worker pool ─────────────────────────────────────────────────────────────

	WorkerInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "inflight",
		Help:      "Opportunities currently being executed by this process.",
	})

	WorkerPolledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "polled_total",
		Help:      "Due opportunities returned by the poller.",
	})

	WorkerOwnerBusyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "owner_busy_total",
		Help:      "Opportunities left Scheduled because another worker held the owner lock.",
	})

	// ─── Sweeper ─────────────────────────────────────────────────────────────────

	SweepTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "transitions_total",
		Help:      "Opportunities moved by the sweeper, by job (expire, requeue, reap).",
	}, []string{"job"})

	// ─── Intake ──────────────────────────────────────────────────────────────────

	IntakeCandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "intake",
		Name:      "candidates_total",
		Help:      "Discovered candidates by result (scheduled, pending, below_threshold, screened_out, duplicate, expired, invalid).",
	}, []string{"result"})

	// ─── Analytics ───────────────────────────────────────────────────────────────

	AnalyticsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analytics",
		Name:      "dropped_total",
		Help:      "Analytics events dropped because the buffer was full or publishing failed.",
	})

	// ─── Operator API ────────────────────────────────────────────────────────────

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Operator API requests by route and status code.",
	}, []string{"route", "code"})

	APIRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Operator API requests rejected by the per-owner rate limiter.",
	})
)
