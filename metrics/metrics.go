// Package metrics holds the Prometheus collectors of the game server and the
// small admin HTTP surface that exposes them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every collector name.
const Namespace = "gemcarry"

// Protocol error reasons used as label values.
const (
	ReasonOverflow  = "accumulation_overflow"
	ReasonFrame     = "bad_frame"
	ReasonDecode    = "decode"
	ReasonWrite     = "write"
	ReasonHandshake = "handshake"
)

// Metrics groups the server collectors. A nil *Metrics is valid and records
// nothing, so components can run with metrics disabled.
type Metrics struct {
	connected        prometheus.Gauge
	accepted         prometheus.Counter
	rejected         prometheus.Counter
	poolInUse        prometheus.Gauge
	messages         *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	gameSessions     prometheus.Gauge
	bytesReceived    prometheus.Counter
	bytesSent        prometheus.Counter
	protocolErrors   *prometheus.CounterVec
}

// New registers the server collectors with reg.
//
// Parameters:
//   - reg: Registerer to attach the collectors to; prometheus.DefaultRegisterer when nil
//
// Returns:
//   - The Metrics handle; registering twice on the same registry panics
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connected_sockets",
			Help:      "Number of currently connected client sockets",
		}),

		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "accepted_total",
			Help:      "Total number of connections that were given an I/O context",
		}),

		rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rejected_total",
			Help:      "Total number of connections closed because the I/O context pool was empty",
		}),

		poolInUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pool_in_use",
			Help:      "Number of I/O contexts currently held by connections",
		}),

		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_total",
			Help:      "Total number of inbound messages dispatched, by message type",
		}, []string{"type"}),

		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in message handlers, by message type",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"type"}),

		gameSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "game_sessions",
			Help:      "Number of game sessions tracked by the registry",
		}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes read from client sockets",
		}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to client sockets",
		}),

		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "protocol_errors_total",
			Help:      "Total number of connections closed for a protocol error, by reason",
		}, []string{"reason"}),
	}
}

// ConnectionOpened records a connection that obtained an I/O context.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}

	m.accepted.Inc()
	m.connected.Inc()
}

// ConnectionClosed records the teardown of an opened connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}

	m.connected.Dec()
}

// ConnectionRejected records a socket closed on pool exhaustion.
func (m *Metrics) ConnectionRejected() {
	if m == nil {
		return
	}

	m.rejected.Inc()
}

// SetPoolInUse publishes the number of acquired I/O contexts.
func (m *Metrics) SetPoolInUse(n int) {
	if m == nil {
		return
	}

	m.poolInUse.Set(float64(n))
}

// MessageDispatched counts one handled message and observes its handler time.
func (m *Metrics) MessageDispatched(msgType string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.messages.WithLabelValues(msgType).Inc()
	m.dispatchDuration.WithLabelValues(msgType).Observe(elapsed.Seconds())
}

// SetGameSessions publishes the number of registered game sessions.
func (m *Metrics) SetGameSessions(n int) {
	if m == nil {
		return
	}

	m.gameSessions.Set(float64(n))
}

// BytesReceived adds n to the inbound byte counter.
func (m *Metrics) BytesReceived(n int) {
	if m == nil || n <= 0 {
		return
	}

	m.bytesReceived.Add(float64(n))
}

// BytesSent adds n to the outbound byte counter.
func (m *Metrics) BytesSent(n int) {
	if m == nil || n <= 0 {
		return
	}

	m.bytesSent.Add(float64(n))
}

// ProtocolError counts a connection dropped for reason.
func (m *Metrics) ProtocolError(reason string) {
	if m == nil {
		return
	}

	m.protocolErrors.WithLabelValues(reason).Inc()
}
