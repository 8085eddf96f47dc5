package prometheus

import (
	"github.com/marmos91/dittochat/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// clientMetrics is the Prometheus implementation of metrics.ClientMetrics.
type clientMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	pendingConnections  prometheus.Gauge
	handshakes          *prometheus.CounterVec
	handOffs            prometheus.Counter
	sessions            prometheus.Gauge
}

// NewClientMetrics creates a Prometheus-backed ClientMetrics.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewClientMetrics() metrics.ClientMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopClientMetrics()
	}

	reg := metrics.GetRegistry()

	return &clientMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittochat_connections_accepted_total",
				Help: "Total number of client sockets accepted",
			},
		),
		connectionsRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittochat_connections_rejected_total",
				Help: "Total number of client sockets refused before the handshake",
			},
			[]string{"reason"},
		),
		pendingConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittochat_pending_connections",
				Help: "Current number of sockets that have not completed the handshake",
			},
		),
		handshakes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittochat_handshake_messages_total",
				Help: "Handshake messages handled by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		handOffs: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittochat_handoffs_total",
				Help: "Total number of authenticated sockets delivered to a session",
			},
		),
		sessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittochat_sessions",
				Help: "Current number of live user sessions",
			},
		),
	}
}

func (m *clientMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *clientMetrics) RecordConnectionRejected(reason string) {
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

func (m *clientMetrics) SetPendingConnections(count int) {
	m.pendingConnections.Set(float64(count))
}

func (m *clientMetrics) RecordHandshake(kind, outcome string) {
	m.handshakes.WithLabelValues(kind, outcome).Inc()
}

func (m *clientMetrics) RecordHandOff() {
	m.handOffs.Inc()
}

func (m *clientMetrics) SetSessions(count int) {
	m.sessions.Set(float64(count))
}
