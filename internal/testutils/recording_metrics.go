package testutils

import (
	"sync"
	"time"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

// MetricSample is one recorded measurement.
type MetricSample struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// RecordingMetrics is a ports.MetricsCollector that keeps every sample.
type RecordingMetrics struct {
	mu         sync.Mutex
	counters   []MetricSample
	gauges     []MetricSample
	histograms []MetricSample
	latencies  []MetricSample
}

var _ ports.MetricsCollector = (*RecordingMetrics)(nil)

func (m *RecordingMetrics) RecordLatency(op string, d time.Duration, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, MetricSample{Name: op, Value: d.Seconds(), Labels: labels})
}

func (m *RecordingMetrics) RecordCounter(name string, v float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, MetricSample{Name: name, Value: v, Labels: labels})
}

func (m *RecordingMetrics) RecordGauge(name string, v float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges = append(m.gauges, MetricSample{Name: name, Value: v, Labels: labels})
}

func (m *RecordingMetrics) RecordHistogram(name string, v float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, MetricSample{Name: name, Value: v, Labels: labels})
}

// Counters returns counter samples named name.
func (m *RecordingMetrics) Counters(name string) []MetricSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterSamples(m.counters, name)
}

// Histograms returns histogram samples named name.
func (m *RecordingMetrics) Histograms(name string) []MetricSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterSamples(m.histograms, name)
}

// Latencies returns latency samples for op.
func (m *RecordingMetrics) Latencies(op string) []MetricSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterSamples(m.latencies, op)
}

func filterSamples(samples []MetricSample, name string) []MetricSample {
	var out []MetricSample
	for _, s := range samples {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}
