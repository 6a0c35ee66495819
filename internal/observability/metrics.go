// Package observability provides Prometheus metrics for the optimize
// and reward request pipelines, structured the way
// services/orchestrator/observability/metrics.go structures
// StreamingMetrics: a struct of vector metrics, a package singleton
// built once at startup, exposed on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "htmlai"

// PipelineMetrics holds every metric the orchestrator and its stages
// emit. Initialize once via NewPipelineMetrics() at startup.
type PipelineMetrics struct {
	// RequestsTotal counts orchestrator requests by route and outcome.
	// Labels: route (optimize, reward), status (ok, degraded, error)
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures end-to-end handler latency.
	// Labels: route
	RequestDurationSeconds *prometheus.HistogramVec

	// SelectionsTotal counts bandit selections by slot and reason.
	// Labels: slot (A, B), reason (exploit, explore)
	SelectionsTotal *prometheus.CounterVec

	// RewardsTotal counts reward applications by slot.
	// Labels: slot
	RewardsTotal *prometheus.CounterVec

	// RegenerationsTotal counts regeneration attempts by outcome.
	// Labels: outcome (success, failure, timeout, coalesced)
	RegenerationsTotal *prometheus.CounterVec

	// GuardrailOutcomesTotal counts guardrail verdicts by reason.
	// Labels: verdict (approve, reject), reason
	GuardrailOutcomesTotal *prometheus.CounterVec

	// EventsIngestedTotal counts accepted and dropped events.
	// Labels: outcome (accepted, throttled, dropped, quota_exceeded)
	EventsIngestedTotal *prometheus.CounterVec

	// QueueDepth is registered for the Event Ingestor's write queue
	// depth; nothing sets it, so it stays at 0.
	QueueDepth prometheus.Gauge
}

// NewPipelineMetrics registers and returns a fresh PipelineMetrics
// against the default Prometheus registry. Call exactly once per
// process, at startup, so /metrics exposes one copy of each series.
func NewPipelineMetrics() *PipelineMetrics {
	return newPipelineMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewPipelineMetricsForTest returns a PipelineMetrics registered
// against a private registry, so test packages can construct a fresh
// instance per test case without colliding on the default registry's
// duplicate-collector panic.
func NewPipelineMetricsForTest() *PipelineMetrics {
	return newPipelineMetrics(promauto.With(prometheus.NewRegistry()))
}

func newPipelineMetrics(f promauto.Factory) *PipelineMetrics {
	return &PipelineMetrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Orchestrator requests by route and outcome.",
		}, []string{"route", "status"}),

		RequestDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Orchestrator request latency by route.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route"}),

		SelectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Bandit slot selections by slot and reason.",
		}, []string{"slot", "reason"}),

		RewardsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_total",
			Help:      "Reward applications by slot.",
		}, []string{"slot"}),

		RegenerationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regenerations_total",
			Help:      "Regeneration attempts by outcome.",
		}, []string{"outcome"}),

		GuardrailOutcomesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_outcomes_total",
			Help:      "Guardrail verdicts by verdict and reason.",
		}, []string{"verdict", "reason"}),

		EventsIngestedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Ingested events by outcome.",
		}, []string{"outcome"}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_queue_depth",
			Help:      "Current depth of the event ingestor's write queue.",
		}),
	}
}
