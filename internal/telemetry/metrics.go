package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the tutor runtime.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	sandboxVerdicts  *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	sessionsEvicted  prometheus.Counter
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutor",
			Name:      "requests_total",
			Help:      "Query requests by outcome.",
		}, []string{"status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tutor",
			Name:      "request_duration_seconds",
			Help:      "End-to-end query latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"status"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutor",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "status"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tutor",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"tool"}),
		sandboxVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutor",
			Name:      "sandbox_verdicts_total",
			Help:      "Sandbox execution outcomes by verdict kind.",
		}, []string{"verdict"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutor",
			Name:      "llm_tokens_total",
			Help:      "LLM tokens consumed by direction.",
		}, []string{"direction"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tutor",
			Name:      "sessions_active",
			Help:      "Currently live sessions.",
		}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutor",
			Name:      "sessions_evicted_total",
			Help:      "Sessions removed by the idle sweep.",
		}),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.toolCallsTotal,
		m.toolCallDuration,
		m.sandboxVerdicts,
		m.tokensTotal,
		m.sessionsActive,
		m.sessionsEvicted,
	)
	return m
}

// RecordRequest records a completed query request.
func (m *Metrics) RecordRequest(status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(status).Inc()
	m.requestDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordToolCall records a tool invocation.
func (m *Metrics) RecordToolCall(tool, status string, duration time.Duration) {
	m.toolCallsTotal.WithLabelValues(tool, status).Inc()
	m.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordVerdict records a sandbox execution verdict.
func (m *Metrics) RecordVerdict(verdict string) {
	m.sandboxVerdicts.WithLabelValues(verdict).Inc()
}

// RecordTokens records LLM token consumption.
func (m *Metrics) RecordTokens(input, output int) {
	m.tokensTotal.WithLabelValues("input").Add(float64(input))
	m.tokensTotal.WithLabelValues("output").Add(float64(output))
}

// SetActiveSessions updates the live session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.sessionsActive.Set(float64(n))
}

// RecordEvictions adds to the eviction counter.
func (m *Metrics) RecordEvictions(n int) {
	m.sessionsEvicted.Add(float64(n))
}

// Handler returns an HTTP handler serving the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
