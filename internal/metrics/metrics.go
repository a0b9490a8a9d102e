package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nodewatch"

// Metrics groups the client collectors on a private registry so several
// instances can live in one process. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	transitions  *prometheus.CounterVec
	reconnects   prometheus.Counter
	frames       *prometheus.CounterVec
	auth         *prometheus.CounterVec
	pending      prometheus.Gauge
	requests     *prometheus.CounterVec
	nodes        *prometheus.GaugeVec
	remoteTokens prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Connection state transitions by target state.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after abnormal closes.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "WebSocket frames by direction and type.",
		}, []string{"direction", "type"}),
		auth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_total",
			Help:      "Authentication outcomes by method and result.",
		}, []string{"method", "result"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Correlated requests awaiting a reply.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Correlated requests by outcome.",
		}, []string{"outcome"}),
		nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes",
			Help:      "Nodes in the latest snapshot by status.",
		}, []string{"status"}),
		remoteTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remote_auth_tokens",
			Help:      "Live per-node remote authorization tokens.",
		}),
	}
	m.Registry.MustRegister(
		m.transitions, m.reconnects, m.frames, m.auth,
		m.pending, m.requests, m.nodes, m.remoteTokens,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) Frame(direction, frameType string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(direction, frameType).Inc()
}

func (m *Metrics) Auth(method, result string) {
	if m == nil {
		return
	}
	m.auth.WithLabelValues(method, result).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) Request(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetNodes(active, offline, pending int) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues("active").Set(float64(active))
	m.nodes.WithLabelValues("offline").Set(float64(offline))
	m.nodes.WithLabelValues("pending").Set(float64(pending))
}

func (m *Metrics) SetRemoteTokens(n int) {
	if m == nil {
		return
	}
	m.remoteTokens.Set(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
