package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLLMClient implements LLMClient interface
type mockLLMClient struct{ model string }

func (m *mockLLMClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	out, _, _, err := m.CompleteWithUsage(ctx, prompt, options)
	return out, err
}

func (m *mockLLMClient) CompleteWithUsage(_ context.Context, prompt string, _ map[string]any) (string, int, int, error) {
	return `{"answers":[]}`, len(prompt) / 4, 3, nil
}

func (m *mockLLMClient) EstimateTokens(text string) (int, error) { return len(text) / 4, nil }

func (m *mockLLMClient) GetModel() string { return m.model }

func TestLLMClientInterface(t *testing.T) {
	var client LLMClient = &mockLLMClient{model: "gpt-4o-mini"}

	out, in, outTokens, err := client.CompleteWithUsage(context.Background(), "evaluate this transcript", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"answers":[]}`, out)
	assert.Equal(t, 6, in)
	assert.Equal(t, 3, outTokens)
	assert.Equal(t, "gpt-4o-mini", client.GetModel())
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsCollector = NoopMetrics{}

	assert.NotPanics(t, func() {
		m.RecordLatency("reasoning", time.Second, nil)
		m.RecordCounter("audits_total", 1, map[string]string{"kind": "call"})
		m.RecordGauge("quota_usage_pct", 42, nil)
		m.RecordHistogram("audit_score", 80, nil)
	})
}
