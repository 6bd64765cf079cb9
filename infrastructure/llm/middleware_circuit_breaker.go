package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

// ErrCircuitOpen is returned while the breaker rejects requests. It matches
// ports.ErrServiceUnavailable.
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", ports.ErrServiceUnavailable)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed lets requests through and counts consecutive failures.
	StateClosed CircuitBreakerState = iota
	// StateOpen rejects requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets one probe request through.
	StateHalfOpen
)

// String returns the state name used in logs and metric labels.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerMetrics receives breaker events.
type CircuitBreakerMetrics interface {
	RecordState(state CircuitBreakerState)
	RecordTrip()
	RecordSuccess()
	RecordFailure()
}

// CircuitBreaker opens after maxFailures consecutive counted failures and
// probes again after cooldownDuration.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitBreakerState
	failureCount     int
	maxFailures      int
	cooldownDuration time.Duration
	lastFailure      time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(maxFailures int, cooldownDuration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		maxFailures:      maxFailures,
		cooldownDuration: cooldownDuration,
	}
}

// Call runs fn unless the circuit is open. Only errors for which counts
// returns true move the breaker toward open; caller mistakes such as an
// oversized prompt say nothing about the provider's health.
func (cb *CircuitBreaker) Call(fn func() error, counts func(error) bool) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) < cb.cooldownDuration {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !counts(err) {
		cb.failureCount = 0
		cb.state = StateClosed
		return err
	}

	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
		cb.state = StateOpen
	}
	return err
}

// GetState returns the current circuit breaker state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

type circuitBreakedLLM struct {
	next    CoreLLM
	cb      *CircuitBreaker
	metrics CircuitBreakerMetrics
}

// CircuitBreakerMiddleware creates middleware that fails fast while the
// reasoning provider is unhealthy. metrics may be nil.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration, metrics CircuitBreakerMetrics) Middleware {
	cb := NewCircuitBreaker(maxFailures, cooldown)

	return func(next CoreLLM) CoreLLM {
		return &circuitBreakedLLM{
			next:    next,
			cb:      cb,
			metrics: metrics,
		}
	}
}

// DoRequest executes the request through the circuit breaker.
func (c *circuitBreakedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	var response string
	var tokensIn, tokensOut int

	err := c.cb.Call(func() error {
		var err error
		response, tokensIn, tokensOut, err = c.next.DoRequest(ctx, prompt, opts)
		return err
	}, IsRetryable)

	if c.metrics != nil {
		switch err {
		case nil:
			c.metrics.RecordSuccess()
		case ErrCircuitOpen:
			c.metrics.RecordTrip()
		default:
			c.metrics.RecordFailure()
		}
		c.metrics.RecordState(c.cb.GetState())
	}

	return response, tokensIn, tokensOut, err
}

// GetModel returns the model name from the wrapped implementation.
func (c *circuitBreakedLLM) GetModel() string { return c.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (c *circuitBreakedLLM) SetModel(m string) { c.next.SetModel(m) }

// CollectorCircuitMetrics forwards breaker events to a MetricsCollector.
type CollectorCircuitMetrics struct {
	Collector ports.MetricsCollector
	Provider  string
}

func (m CollectorCircuitMetrics) labels() map[string]string {
	return map[string]string{"provider": m.Provider}
}

// RecordState exports the state as a gauge (0 closed, 1 open, 2 half open).
func (m CollectorCircuitMetrics) RecordState(state CircuitBreakerState) {
	m.Collector.RecordGauge("llm_circuit_state", float64(state), m.labels())
}

// RecordTrip counts a request rejected by an open circuit.
func (m CollectorCircuitMetrics) RecordTrip() {
	m.Collector.RecordCounter("llm_circuit_rejections_total", 1, m.labels())
}

// RecordSuccess is a no-op; successes are already counted by MetricsMiddleware.
func (m CollectorCircuitMetrics) RecordSuccess() {}

// RecordFailure counts a failure observed by the breaker.
func (m CollectorCircuitMetrics) RecordFailure() {
	m.Collector.RecordCounter("llm_circuit_failures_total", 1, m.labels())
}
