package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mjytdlp"

// Call outcomes recorded in calls_total.
const (
	OutcomeOk        = "ok"
	OutcomeToolError = "tool_error"
	OutcomeError     = "error"
)

// Metrics owns its registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive *prometheus.GaugeVec
	sessionsSwept  prometheus.Counter
	calls          *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	sseMessages    prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open sessions by transport mode",
		}, []string{"mode"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Sessions removed for inactivity",
		}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "JSON-RPC requests handled by method and outcome",
		}, []string{"method", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool execution time",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"tool"}),
		sseMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sse_messages_total",
			Help:      "Messages written to SSE streams",
		}),
	}

	m.registry.MustRegister(
		m.sessionsActive,
		m.sessionsSwept,
		m.calls,
		m.toolDuration,
		m.sseMessages,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The methods below accept a nil receiver so callers can run without metrics.

func (m *Metrics) SessionOpened(mode string) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(mode).Inc()
}

func (m *Metrics) SessionClosed(mode, reason string) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(mode).Dec()
	if reason == "expired" {
		m.sessionsSwept.Inc()
	}
}

func (m *Metrics) Call(method, outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) ToolDuration(tool string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) SSEMessage() {
	if m == nil {
		return
	}
	m.sseMessages.Inc()
}
