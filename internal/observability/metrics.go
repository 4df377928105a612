package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	ConnectAttempts *prometheus.CounterVec
	SessionEvents   *prometheus.CounterVec
	Responses       *prometheus.CounterVec
	ToolCalls       *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	PersistBacklog  prometheus.Gauge
	WSMessages      *prometheus.CounterVec
	BargeIns        prometheus.Counter
	SearchLatency   prometheus.Histogram
	RevealLag       prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of connected realtime sessions.",
		}),
		ConnectAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Realtime connect attempts by outcome.",
		}, []string{"outcome"}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		Responses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Rendered assistant responses by final status.",
		}, []string{"status"}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Function calls by function name and outcome.",
		}, []string{"function", "outcome"}),
		PersistFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Persistence operations that exhausted their retries, by operation.",
		}, []string{"op"}),
		PersistBacklog: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persist_failed_operations",
			Help:      "Persistence operations parked for replay.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Browser WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		BargeIns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Assistant playback interrupted by user speech.",
		}),
		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_latency_ms",
			Help:      "Knowledge search latency in milliseconds.",
			Buckets:   []float64{50, 100, 200, 400, 800, 1600, 3200, 6400},
		}),
		RevealLag: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reveal_lag_ms",
			Help:      "Time between transcript completion and reveal completion in milliseconds.",
			Buckets:   []float64{0, 100, 250, 500, 1000, 2000, 4000, 8000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) IncSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) IncConnect(outcome string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncResponse(status string) {
	if m == nil {
		return
	}
	m.Responses.WithLabelValues(status).Inc()
}

func (m *Metrics) IncToolCall(function, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(function, outcome).Inc()
	m.stages.ObserveIndicator("tool_" + outcome)
}

func (m *Metrics) IncPersistFailure(op string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) SetPersistBacklog(n int) {
	if m == nil {
		return
	}
	m.PersistBacklog.Set(float64(n))
}

func (m *Metrics) IncWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) IncBargeIn() {
	if m == nil {
		return
	}
	m.BargeIns.Inc()
	m.stages.ObserveIndicator("barge_in")
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) ObserveSearchLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.SearchLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe("search", float64(d.Milliseconds()))
}

func (m *Metrics) ObserveRevealLag(d time.Duration) {
	if m == nil {
		return
	}
	m.RevealLag.Observe(float64(d.Milliseconds()))
	m.stages.Observe("reveal_lag", float64(d.Milliseconds()))
}

// ObserveStage records a latency sample in the rolling stage window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

// StageSnapshot summarizes the rolling stage window for the perf endpoint.
func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
