// Package metrics holds the prometheus collectors of the ACSE daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oktetlabs/test-environment-sub007/internal/arena"
)

// Metrics is one set of collectors bound to a registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec
	AuthFailures   *prometheus.CounterVec
	Informs        *prometheus.CounterVec
	RPCsSent       *prometheus.CounterVec
	RPCResults     *prometheus.CounterVec
	FileBytes      prometheus.Counter
	EPCRequests    *prometheus.CounterVec
	EventsDropped  prometheus.Counter
	ConnRequests   *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the arena
// gauge, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "acse",
			Name:      "sessions_active",
			Help:      "Number of open CWMP sessions.",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acse",
			Name:      "sessions_total",
			Help:      "Accepted CWMP connections, by ACS.",
		}, []string{"acs"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acse",
			Name:      "auth_challenges_total",
			Help:      "401 challenges sent, by ACS.",
		}, []string{"acs"}),
		Informs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acse",
			Name:      "informs_total",
			Help:      "Informs accepted, by ACS.",
		}, []string{"acs"}),
		RPCsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acse",
			Name:      "rpcs_sent_total",
			Help:      "RPCs sent to CPEs, by kind.",
		}, []string{"kind"}),
		RPCResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acse",
			Name:      "rpc_results_total",
			Help:      "RPC outcomes, by result (response or fault).",
		}, []string{"result"}),
		FileBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acse",
			Name:      "file_bytes_total",
			Help:      "Bytes of file bodies streamed to CPEs.",
		}),
		EPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acse",
			Name:      "epc_requests_total",
			Help:      "EPC requests handled, by kind and status.",
		}, []string{"kind", "status"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acse",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the forwarding queue was full.",
		}),
		ConnRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acse",
			Name:      "connection_requests_total",
			Help:      "Connection Requests issued, by final state.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.SessionsActive, m.SessionsTotal, m.AuthFailures, m.Informs,
		m.RPCsSent, m.RPCResults, m.FileBytes, m.EPCRequests,
		m.EventsDropped, m.ConnRequests,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "acse",
			Name:      "arena_live_bytes",
			Help:      "Bytes held by arenas not yet freed.",
		}, func() float64 { return float64(arena.LiveBytes()) }),
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened(acs string) {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.WithLabelValues(acs).Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) AuthChallenge(acs string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(acs).Inc()
}

func (m *Metrics) Inform(acs string) {
	if m == nil {
		return
	}
	m.Informs.WithLabelValues(acs).Inc()
}

func (m *Metrics) RPCSent(kind string) {
	if m == nil {
		return
	}
	m.RPCsSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) RPCResult(result string) {
	if m == nil {
		return
	}
	m.RPCResults.WithLabelValues(result).Inc()
}

func (m *Metrics) FileSent(n int) {
	if m == nil {
		return
	}
	m.FileBytes.Add(float64(n))
}

func (m *Metrics) EPCRequest(kind, status string) {
	if m == nil {
		return
	}
	m.EPCRequests.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) ConnRequest(state string) {
	if m == nil {
		return
	}
	m.ConnRequests.WithLabelValues(state).Inc()
}
