// Package metrics exposes otter's Prometheus instrumentation and the
// HTTP endpoint serving it alongside a data source health probe.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds otter's collectors. Create one per process.
type Metrics struct {
	MessagesTotal *prometheus.CounterVec
	StepsTotal    *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	LLMCallsTotal *prometheus.CounterVec
	ArchiveRuns   prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the collectors on a fresh registry so tests never collide
// on the global default.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otter_messages_total",
			Help: "User messages handled, labeled by outcome.",
		}, []string{"outcome"}),
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otter_capability_steps_total",
			Help: "Capability step executions, labeled by capability and outcome.",
		}, []string{"capability", "outcome"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "otter_capability_step_duration_seconds",
			Help:    "Capability step wall time in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"capability"}),
		LLMCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otter_llm_calls_total",
			Help: "LLM completion calls, labeled by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ArchiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "otter_archive_runs",
			Help: "Runs visible in the Badger archive at last scan.",
		}),
		registry: reg,
	}
}

// Registry returns the underlying Prometheus registry for serving.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordMessage counts one handled user message.
func (m *Metrics) RecordMessage(outcome string) {
	m.MessagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveLLMCall counts one LLM completion call. Matches llm.CallObserver.
func (m *Metrics) ObserveLLMCall(provider, outcome string) {
	if provider == "" {
		provider = "unknown"
	}
	m.LLMCallsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveStep implements agent.StepObserver.
func (m *Metrics) ObserveStep(capability, outcome string, duration time.Duration) {
	m.StepsTotal.WithLabelValues(capability, outcome).Inc()
	m.StepDuration.WithLabelValues(capability).Observe(duration.Seconds())
}
