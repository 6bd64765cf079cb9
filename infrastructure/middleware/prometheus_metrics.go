// Package middleware provides cross-cutting concerns for the audit service:
// Prometheus export of operational metrics and OpenTelemetry tracing of
// quota checks.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

// scoreBuckets cover the 0-100 audit score range in steps of ten.
var scoreBuckets = prometheus.LinearBuckets(0, 10, 11)

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// Metrics emitted by the audit orchestrator, the quota gate and the LLM
// middleware chain are routed to dedicated vectors; any other name falls back
// to a generic vector keyed by the metric name.
type PrometheusMetrics struct {
	auditDuration     *prometheus.HistogramVec
	auditsGenerated   *prometheus.CounterVec
	auditsCorrected   *prometheus.CounterVec
	auditScore        *prometheus.HistogramVec
	sideEffectFailure *prometheus.CounterVec

	reasoningDuration *prometheus.HistogramVec
	reasoningErrors   *prometheus.CounterVec

	quotaDecisions *prometheus.CounterVec

	llmLatency       *prometheus.HistogramVec
	llmRequests      *prometheus.CounterVec
	llmTokens        *prometheus.CounterVec
	circuitState     *prometheus.GaugeVec
	circuitRejection *prometheus.CounterVec
	circuitFailures  *prometheus.CounterVec

	// Generic fallbacks.
	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
	valueHistogram   *prometheus.HistogramVec
}

// NewPrometheusMetrics registers all collectors on reg. A nil registerer
// uses the global default registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	llmLabels := []string{"provider", "model", "status"}

	return &PrometheusMetrics{
		auditDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_generate_duration_seconds",
				Help:    "Time spent generating or returning an interaction audit.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "outcome"},
		),
		auditsGenerated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audits_generated_total",
				Help: "Audit generation requests by interaction kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		auditsCorrected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audits_corrected_total",
				Help: "Audits rewritten from corrected verdicts.",
			},
			[]string{"kind"},
		),
		auditScore: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_score",
				Help:    "Distribution of persisted audit scores.",
				Buckets: scoreBuckets,
			},
			[]string{"kind", "failure"},
		),
		sideEffectFailure: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_side_effect_failures_total",
				Help: "Post-persistence steps that failed without failing the audit.",
			},
			[]string{"effect"},
		),

		reasoningDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reasoning_evaluate_duration_seconds",
				Help:    "Latency of reasoning service evaluations.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"kind", "model"},
		),
		reasoningErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reasoning_errors_total",
				Help: "Failed reasoning evaluations by error kind.",
			},
			[]string{"kind", "model", "error_kind"},
		),

		quotaDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quota_decisions_total",
				Help: "Quota gate decisions by status and enforcement mode.",
			},
			[]string{"status", "mode", "allowed", "failed_open"},
		),

		llmLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_latency_seconds",
				Help:    "Latency of individual provider requests.",
				Buckets: prometheus.DefBuckets,
			},
			llmLabels,
		),
		llmRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Provider requests by status.",
			},
			llmLabels,
		),
		llmTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Tokens consumed by provider requests.",
			},
			append(append([]string{}, llmLabels...), "token_type"),
		),
		circuitState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llm_circuit_state",
				Help: "Circuit breaker state: 0 closed, 1 open, 2 half open.",
			},
			[]string{"provider"},
		),
		circuitRejection: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_circuit_rejections_total",
				Help: "Requests rejected by an open circuit.",
			},
			[]string{"provider"},
		),
		circuitFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_circuit_failures_total",
				Help: "Failures observed by the circuit breaker.",
			},
			[]string{"provider"},
		),

		operationLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_operation_duration_seconds",
				Help:    "Latency of operations without a dedicated histogram.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_operations_total",
				Help: "Counters without a dedicated vector.",
			},
			[]string{"metric"},
		),
		systemGauges: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "audit_system_state",
				Help: "Gauges without a dedicated vector.",
			},
			[]string{"metric"},
		),
		valueHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_observed_values",
				Help:    "Histogram samples without a dedicated vector.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	secs := duration.Seconds()
	switch operation {
	case "audit_generate":
		pm.auditDuration.WithLabelValues(labels["kind"], labels["outcome"]).Observe(secs)
	case "reasoning_evaluate":
		pm.reasoningDuration.WithLabelValues(labels["kind"], labels["model"]).Observe(secs)
	default:
		pm.operationLatency.WithLabelValues(operation).Observe(secs)
	}
}

// RecordCounter implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case "audits_generated_total":
		pm.auditsGenerated.WithLabelValues(labels["kind"], labels["outcome"]).Add(value)
	case "audits_corrected_total":
		pm.auditsCorrected.WithLabelValues(labels["kind"]).Add(value)
	case "audit_side_effect_failures_total":
		pm.sideEffectFailure.WithLabelValues(labels["effect"]).Add(value)
	case "reasoning_errors_total":
		pm.reasoningErrors.WithLabelValues(labels["kind"], labels["model"], labelOr(labels, "error_kind", "unknown")).Add(value)
	case "quota_decisions_total":
		pm.quotaDecisions.WithLabelValues(
			labels["status"],
			labelOr(labels, "mode", "none"),
			labels["allowed"],
			labels["failed_open"],
		).Add(value)
	case "llm_requests_total":
		pm.llmRequests.WithLabelValues(labels["provider"], labels["model"], labels["status"]).Add(value)
	case "llm_tokens_total":
		pm.llmTokens.WithLabelValues(labels["provider"], labels["model"], labels["status"], labels["token_type"]).Add(value)
	case "llm_circuit_rejections_total":
		pm.circuitRejection.WithLabelValues(labels["provider"]).Add(value)
	case "llm_circuit_failures_total":
		pm.circuitFailures.WithLabelValues(labels["provider"]).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	switch metric {
	case "llm_circuit_state":
		pm.circuitState.WithLabelValues(labels["provider"]).Set(value)
	default:
		pm.systemGauges.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case "audit_score":
		pm.auditScore.WithLabelValues(labels["kind"], labels["failure"]).Observe(value)
	case "llm_latency_seconds":
		pm.llmLatency.WithLabelValues(labels["provider"], labels["model"], labels["status"]).Observe(value)
	default:
		pm.valueHistogram.WithLabelValues(metric).Observe(value)
	}
}

func labelOr(labels map[string]string, key, fallback string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return fallback
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
