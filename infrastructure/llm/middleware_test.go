package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

// captureCollector records every metric call keyed by metric name.
type captureCollector struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string]int
	labels     map[string][]map[string]string
}

func newCaptureCollector() *captureCollector {
	return &captureCollector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]int),
		labels:     make(map[string][]map[string]string),
	}
}

func (c *captureCollector) RecordLatency(op string, d time.Duration, labels map[string]string) {
	c.RecordHistogram(op, d.Seconds(), labels)
}

func (c *captureCollector) RecordCounter(metric string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[metric] += value
	c.labels[metric] = append(c.labels[metric], labels)
}

func (c *captureCollector) RecordGauge(metric string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[metric] = value
}

func (c *captureCollector) RecordHistogram(metric string, _ float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.histograms[metric]++
	c.labels[metric] = append(c.labels[metric], labels)
}

var _ ports.MetricsCollector = (*captureCollector)(nil)

func TestRetryMiddleware(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		mock := NewMockCoreLLM()
		wrapped := RetryMiddleware(3, time.Millisecond, 10*time.Millisecond)(mock)

		_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, mock.GetCallCount())
	})

	t.Run("retries transient errors until success", func(t *testing.T) {
		mock := NewMockCoreLLM()
		mock.FailUntilAttempt = 2
		wrapped := RetryMiddleware(3, time.Millisecond, 10*time.Millisecond)(mock)

		out, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
		require.NoError(t, err)
		assert.Equal(t, `{"answers":[]}`, out)
		assert.Equal(t, 3, mock.GetCallCount())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		mock := NewMockCoreLLM()
		mock.Error = NewProviderError("mock", ErrorTypeRateLimit, 429, "slow down", nil)
		wrapped := RetryMiddleware(2, time.Millisecond, 10*time.Millisecond)(mock)

		_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "request failed after 3 attempts")
		assert.True(t, errors.Is(err, ports.ErrRateLimited), "classification must survive wrapping")
		assert.Equal(t, 3, mock.GetCallCount())
	})

	t.Run("does not retry fatal errors", func(t *testing.T) {
		for _, errType := range []ErrorType{ErrorTypeAuthentication, ErrorTypeNotFound, ErrorTypePayloadTooLarge, ErrorTypeBadRequest} {
			mock := NewMockCoreLLM()
			mock.Error = NewProviderError("mock", errType, 0, "", nil)
			wrapped := RetryMiddleware(3, time.Millisecond, 10*time.Millisecond)(mock)

			_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
			require.Error(t, err)
			assert.Same(t, mock.Error, err, "fatal errors are returned unwrapped")
			assert.Equal(t, 1, mock.GetCallCount(), "type %s must not be retried", errType)
		}
	})

	t.Run("does not retry open circuit", func(t *testing.T) {
		mock := NewMockCoreLLM()
		mock.Error = ErrCircuitOpen
		wrapped := RetryMiddleware(3, time.Millisecond, 10*time.Millisecond)(mock)

		_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, 1, mock.GetCallCount())
	})

	t.Run("delay is capped", func(t *testing.T) {
		r := &retryLLM{baseDelay: 100 * time.Millisecond, maxDelay: 300 * time.Millisecond}
		for attempt := range 10 {
			assert.LessOrEqual(t, r.calculateDelay(attempt), 300*time.Millisecond)
		}
		assert.GreaterOrEqual(t, r.calculateDelay(0), 75*time.Millisecond)
	})
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Run("fast request passes", func(t *testing.T) {
		mock := NewMockCoreLLM()
		wrapped := TimeoutMiddleware(time.Second)(mock)

		_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
		require.NoError(t, err)

		deadline, ok := mock.LastContext.Deadline()
		require.True(t, ok, "wrapped call must carry a deadline")
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)
	})

	t.Run("slow request becomes timeout", func(t *testing.T) {
		mock := NewMockCoreLLM()
		mock.ResponseDelay = time.Second
		wrapped := TimeoutMiddleware(20 * time.Millisecond)(mock)

		_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
		require.Error(t, err)
		assert.True(t, IsTimeout(err))
		assert.True(t, errors.Is(err, ports.ErrTimeout))
	})

	t.Run("plain context error is classified", func(t *testing.T) {
		mock := &plainErrLLM{MockCoreLLM: NewMockCoreLLM()}
		wrapped := TimeoutMiddleware(10 * time.Millisecond)(mock)

		_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
		assert.True(t, errors.Is(err, ports.ErrTimeout))
	})
}

// plainErrLLM blocks until the context ends and returns the bare context error.
type plainErrLLM struct{ *MockCoreLLM }

func (p *plainErrLLM) DoRequest(ctx context.Context, _ string, _ map[string]any) (string, int, int, error) {
	<-ctx.Done()
	return "", 0, 0, ctx.Err()
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("burst passes immediately", func(t *testing.T) {
		mock := NewMockCoreLLM()
		wrapped := RateLimitMiddleware(rate.Limit(1), 2)(mock)

		for range 2 {
			_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
			require.NoError(t, err)
		}
		assert.Equal(t, 2, mock.GetCallCount())
	})

	t.Run("wait beyond deadline is a timeout", func(t *testing.T) {
		mock := NewMockCoreLLM()
		wrapped := RateLimitMiddleware(rate.Every(time.Hour), 1)(mock)

		_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, _, _, err = wrapped.DoRequest(ctx, "p", nil)
		require.Error(t, err)
		assert.True(t, IsTimeout(err))
		assert.Equal(t, 1, mock.GetCallCount(), "request must not reach the provider")
	})
}

func TestCircuitBreakerMiddleware(t *testing.T) {
	t.Run("opens after consecutive transient failures", func(t *testing.T) {
		mock := NewMockCoreLLM()
		mock.Error = NewProviderError("mock", ErrorTypeServerError, 503, "down", nil)
		collector := newCaptureCollector()
		wrapped := CircuitBreakerMiddleware(2, time.Hour, CollectorCircuitMetrics{Collector: collector, Provider: "mock"})(mock)

		for range 2 {
			_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
			require.Error(t, err)
		}

		_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.ErrorIs(t, err, ports.ErrServiceUnavailable)
		assert.Equal(t, 2, mock.GetCallCount(), "open circuit must not call the provider")

		assert.Equal(t, 2.0, collector.counters["llm_circuit_failures_total"])
		assert.Equal(t, 1.0, collector.counters["llm_circuit_rejections_total"])
		assert.Equal(t, float64(StateOpen), collector.gauges["llm_circuit_state"])
	})

	t.Run("caller errors do not open the circuit", func(t *testing.T) {
		mock := NewMockCoreLLM()
		mock.Error = NewProviderError("mock", ErrorTypePayloadTooLarge, 413, "too long", nil)
		wrapped := CircuitBreakerMiddleware(1, time.Hour, nil)(mock)

		for range 3 {
			_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
			assert.True(t, errors.Is(err, ports.ErrPayloadTooLarge))
		}
		assert.Equal(t, 3, mock.GetCallCount())
	})

	t.Run("half open probe closes the circuit", func(t *testing.T) {
		cb := NewCircuitBreaker(1, 10*time.Millisecond)
		fail := func() error { return NewProviderError("mock", ErrorTypeNetwork, 0, "", nil) }

		require.Error(t, cb.Call(fail, IsRetryable))
		assert.Equal(t, StateOpen, cb.GetState())

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, cb.Call(func() error { return nil }, IsRetryable))
		assert.Equal(t, StateClosed, cb.GetState())
	})
}

func TestMetricsMiddleware(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock := NewMockCoreLLM()
		collector := newCaptureCollector()
		wrapped := MetricsMiddleware("openai", collector)(mock)

		_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
		require.NoError(t, err)

		assert.Equal(t, 1, collector.histograms["llm_latency_seconds"])
		assert.Equal(t, 1.0, collector.counters["llm_requests_total"])
		assert.Equal(t, 30.0, collector.counters["llm_tokens_total"])

		labels := collector.labels["llm_requests_total"][0]
		assert.Equal(t, map[string]string{"provider": "openai", "model": "test-model", "status": "success"}, labels)
		assert.Equal(t, "input", collector.labels["llm_tokens_total"][0]["token_type"])
		assert.Equal(t, "output", collector.labels["llm_tokens_total"][1]["token_type"])
	})

	t.Run("failure status uses error type", func(t *testing.T) {
		mock := NewMockCoreLLM()
		mock.Error = NewProviderError("mock", ErrorTypeAuthentication, 401, "", nil)
		collector := newCaptureCollector()
		wrapped := MetricsMiddleware("anthropic", collector)(mock)

		_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
		require.Error(t, err)

		assert.Equal(t, "authentication", collector.labels["llm_requests_total"][0]["status"])
		assert.Zero(t, collector.counters["llm_tokens_total"])
	})

	t.Run("nil collector", func(t *testing.T) {
		wrapped := MetricsMiddleware("openai", nil)(NewMockCoreLLM())
		_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
		assert.NoError(t, err)
	})
}

// recordingTracer records span names and hands out no-op spans.
type recordingTracer struct {
	noop.Tracer
	mu    sync.Mutex
	names []string
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	return r.Tracer.Start(ctx, name, opts...)
}

func TestTracingMiddleware(t *testing.T) {
	tracer := &recordingTracer{}
	mock := NewMockCoreLLM()
	wrapped := TracingMiddlewareWithTracer("openai", tracer)(mock)

	_, _, _, err := wrapped.DoRequest(context.Background(), "p", nil)
	require.NoError(t, err)

	mock.Error = NewProviderError("mock", ErrorTypeTimeout, 0, "", nil)
	_, _, _, err = wrapped.DoRequest(context.Background(), "p", nil)
	require.Error(t, err)

	assert.Equal(t, []string{"llm.request", "llm.request"}, tracer.names)
	assert.Equal(t, "test-model", wrapped.GetModel())

	wrapped.SetModel("gpt-4o")
	assert.Equal(t, "gpt-4o", mock.GetModel())

	assert.NotPanics(t, func() { TracingMiddleware("openai")(mock) })
}
