package middleware

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

func newTestMetrics(t *testing.T) (*PrometheusMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusMetrics(reg), reg
}

func TestNewPrometheusMetrics(t *testing.T) {
	pm, reg := newTestMetrics(t)
	require.NotNil(t, pm)

	var _ ports.MetricsCollector = pm

	// A second collector on the same registry must collide.
	assert.Panics(t, func() { NewPrometheusMetrics(reg) })

	// Independent registries do not.
	assert.NotPanics(t, func() { NewPrometheusMetrics(prometheus.NewRegistry()) })
}

func TestPrometheusMetrics_RecordCounter(t *testing.T) {
	tests := []struct {
		name   string
		metric string
		labels map[string]string
		value  float64
		read   func(pm *PrometheusMetrics) prometheus.Collector
	}{
		{
			name:   "audits generated",
			metric: "audits_generated_total",
			labels: map[string]string{"kind": "call", "outcome": "created"},
			value:  1,
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.auditsGenerated.WithLabelValues("call", "created")
			},
		},
		{
			name:   "corrections",
			metric: "audits_corrected_total",
			labels: map[string]string{"kind": "chat"},
			value:  2,
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.auditsCorrected.WithLabelValues("chat")
			},
		},
		{
			name:   "side effect failures",
			metric: "audit_side_effect_failures_total",
			labels: map[string]string{"effect": "notify"},
			value:  1,
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.sideEffectFailure.WithLabelValues("notify")
			},
		},
		{
			name:   "reasoning error without kind",
			metric: "reasoning_errors_total",
			labels: map[string]string{"kind": "call", "model": "gpt-4o-mini"},
			value:  1,
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.reasoningErrors.WithLabelValues("call", "gpt-4o-mini", "unknown")
			},
		},
		{
			name:   "quota decision without mode",
			metric: "quota_decisions_total",
			labels: map[string]string{"status": "ok", "allowed": "true", "failed_open": "false"},
			value:  1,
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.quotaDecisions.WithLabelValues("ok", "none", "true", "false")
			},
		},
		{
			name:   "llm tokens",
			metric: "llm_tokens_total",
			labels: map[string]string{"provider": "openai", "model": "gpt-4o-mini", "status": "success", "token_type": "input"},
			value:  1200,
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.llmTokens.WithLabelValues("openai", "gpt-4o-mini", "success", "input")
			},
		},
		{
			name:   "circuit rejections",
			metric: "llm_circuit_rejections_total",
			labels: map[string]string{"provider": "anthropic"},
			value:  1,
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.circuitRejection.WithLabelValues("anthropic")
			},
		},
		{
			name:   "unknown metric falls back",
			metric: "something_else_total",
			value:  3,
			read: func(pm *PrometheusMetrics) prometheus.Collector {
				return pm.operationCounter.WithLabelValues("something_else_total")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm, _ := newTestMetrics(t)
			pm.RecordCounter(tt.metric, tt.value, tt.labels)
			assert.Equal(t, tt.value, testutil.ToFloat64(tt.read(pm)))
		})
	}
}

func TestPrometheusMetrics_RecordGauge(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordGauge("llm_circuit_state", 1, map[string]string{"provider": "openai"})
	pm.RecordGauge("llm_circuit_state", 0, map[string]string{"provider": "openai"})
	pm.RecordGauge("open_connections", 4, nil)

	assert.Equal(t, 0.0, testutil.ToFloat64(pm.circuitState.WithLabelValues("openai")))
	assert.Equal(t, 4.0, testutil.ToFloat64(pm.systemGauges.WithLabelValues("open_connections")))
}

func TestPrometheusMetrics_Histograms(t *testing.T) {
	pm, reg := newTestMetrics(t)

	pm.RecordLatency("audit_generate", 150*time.Millisecond, map[string]string{"kind": "call", "outcome": "created"})
	pm.RecordLatency("reasoning_evaluate", 2*time.Second, map[string]string{"kind": "call", "model": "gpt-4o-mini"})
	pm.RecordLatency("storage_insert", time.Millisecond, nil)
	pm.RecordHistogram("audit_score", 85, map[string]string{"kind": "call", "failure": "false"})
	pm.RecordHistogram("audit_score", 40, map[string]string{"kind": "call", "failure": "true"})
	pm.RecordHistogram("llm_latency_seconds", 0.8, map[string]string{"provider": "openai", "model": "m", "status": "success"})

	assert.Equal(t, 1, testutil.CollectAndCount(pm.auditDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.reasoningDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.operationLatency))
	assert.Equal(t, 2, testutil.CollectAndCount(pm.auditScore))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.llmLatency))

	expected := `
# HELP audit_score Distribution of persisted audit scores.
# TYPE audit_score histogram
audit_score_bucket{failure="false",kind="call",le="0"} 0
audit_score_bucket{failure="false",kind="call",le="10"} 0
audit_score_bucket{failure="false",kind="call",le="20"} 0
audit_score_bucket{failure="false",kind="call",le="30"} 0
audit_score_bucket{failure="false",kind="call",le="40"} 0
audit_score_bucket{failure="false",kind="call",le="50"} 0
audit_score_bucket{failure="false",kind="call",le="60"} 0
audit_score_bucket{failure="false",kind="call",le="70"} 0
audit_score_bucket{failure="false",kind="call",le="80"} 0
audit_score_bucket{failure="false",kind="call",le="90"} 1
audit_score_bucket{failure="false",kind="call",le="100"} 1
audit_score_bucket{failure="false",kind="call",le="+Inf"} 1
audit_score_sum{failure="false",kind="call"} 85
audit_score_count{failure="false",kind="call"} 1
audit_score_bucket{failure="true",kind="call",le="0"} 0
audit_score_bucket{failure="true",kind="call",le="10"} 0
audit_score_bucket{failure="true",kind="call",le="20"} 0
audit_score_bucket{failure="true",kind="call",le="30"} 0
audit_score_bucket{failure="true",kind="call",le="40"} 1
audit_score_bucket{failure="true",kind="call",le="50"} 1
audit_score_bucket{failure="true",kind="call",le="60"} 1
audit_score_bucket{failure="true",kind="call",le="70"} 1
audit_score_bucket{failure="true",kind="call",le="80"} 1
audit_score_bucket{failure="true",kind="call",le="90"} 1
audit_score_bucket{failure="true",kind="call",le="100"} 1
audit_score_bucket{failure="true",kind="call",le="+Inf"} 1
audit_score_sum{failure="true",kind="call"} 40
audit_score_count{failure="true",kind="call"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "audit_score"))
}
