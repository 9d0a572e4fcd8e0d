package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Routing outcomes reported by the metrics below.
const (
	OutcomeDelivered = "delivered"
	OutcomeQueued    = "queued"
	OutcomeBroadcast = "broadcast"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
)

// Metrics aggregates the relay's Prometheus collectors. A nil *Metrics is
// valid and turns every observation into a no-op, which keeps tests and the
// collaborators free of registry plumbing.
type Metrics struct {
	Connections prometheus.Gauge

	MessagesRouted   *prometheus.CounterVec // kind: private|room|system, outcome
	SignalsForwarded *prometheus.CounterVec // kind: offer|answer|ice|accept|reject|hangup, outcome
	PendingEnqueued  prometheus.Counter
	PendingDrained   prometheus.Counter
	StoreFailures    *prometheus.CounterVec // store: archive|cache|pending|directory
}

// NewMetrics registers the relay collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "courier_connections",
			Help: "Live websocket connections.",
		}),
		MessagesRouted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_messages_routed_total",
			Help: "Messages routed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		SignalsForwarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_signals_forwarded_total",
			Help: "Call-signaling messages forwarded, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		PendingEnqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "courier_pending_enqueued_total",
			Help: "Messages queued for offline identities.",
		}),
		PendingDrained: f.NewCounter(prometheus.CounterOpts{
			Name: "courier_pending_drained_total",
			Help: "Queued messages delivered on reconnect.",
		}),
		StoreFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_store_failures_total",
			Help: "External store call failures, by store.",
		}, []string{"store"}),
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) routed(kind, outcome string) {
	if m != nil {
		m.MessagesRouted.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) signaled(kind, outcome string) {
	if m != nil {
		m.SignalsForwarded.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) pendingEnqueued() {
	if m != nil {
		m.PendingEnqueued.Inc()
	}
}

func (m *Metrics) pendingDrained(n int) {
	if m != nil && n > 0 {
		m.PendingDrained.Add(float64(n))
	}
}

func (m *Metrics) storeFailed(store string) {
	if m != nil {
		m.StoreFailures.WithLabelValues(store).Inc()
	}
}
