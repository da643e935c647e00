package mcp

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects client-side protocol metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	reconnectAttempts prometheus.Counter
	reconnectFailures prometheus.Counter
	heartbeatFailures prometheus.Counter
	malformed         prometheus.Counter
	pending           prometheus.Gauge
	state             prometheus.Gauge
}

// NewMetrics creates the client metrics and registers them with reg. A nil
// reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "devmonitor",
				Subsystem: "mcp",
				Name:      "requests_total",
				Help:      "Requests sent to the evaluation server by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "devmonitor",
				Subsystem: "mcp",
				Name:      "request_duration_seconds",
				Help:      "Time from send to correlated reply",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"type"},
		),
		reconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "devmonitor",
			Subsystem: "mcp",
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts",
		}),
		reconnectFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "devmonitor",
			Subsystem: "mcp",
			Name:      "reconnect_exhausted_total",
			Help:      "Times the reconnect policy gave up",
		}),
		heartbeatFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "devmonitor",
			Subsystem: "mcp",
			Name:      "heartbeat_failures_total",
			Help:      "Connections declared dead by the heartbeat monitor",
		}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "devmonitor",
			Subsystem: "mcp",
			Name:      "malformed_messages_total",
			Help:      "Inbound frames dropped as malformed",
		}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "devmonitor",
			Subsystem: "mcp",
			Name:      "pending_requests",
			Help:      "Requests awaiting a correlated reply",
		}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "devmonitor",
			Subsystem: "mcp",
			Name:      "connection_state",
			Help:      "Current connection state (0=disconnected 1=connecting 2=connected 3=reconnecting)",
		}),
	}
}

func (m *Metrics) observeRequest(msgType MessageType, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(msgType), outcomeOf(err)).Inc()
	if err == nil {
		m.requestDuration.WithLabelValues(string(msgType)).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) setState(s ConnectionState) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) reconnectExhausted() {
	if m == nil {
		return
	}
	m.reconnectFailures.Inc()
}

func (m *Metrics) heartbeatFailed() {
	if m == nil {
		return
	}
	m.heartbeatFailures.Inc()
}

func (m *Metrics) malformedMessage() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrServer):
		return "server_error"
	case errors.Is(err, ErrDisposed):
		return "disposed"
	case errors.Is(err, ErrConnectionFailed):
		return "connection_failed"
	default:
		return "error"
	}
}
