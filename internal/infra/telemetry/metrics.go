package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's prometheus collectors. A fresh set is built
// per engine so tests can run multiple engines without duplicate
// registration panics.
type Metrics struct {
	registry *prometheus.Registry

	ProcessUp       *prometheus.GaugeVec
	ProcessRestarts *prometheus.CounterVec
	RPCRequests     *prometheus.CounterVec
	RPCDuration     *prometheus.HistogramVec
	RegistryReloads *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ProcessUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "langd_process_up",
			Help: "Whether the managed server process for a language is running.",
		}, []string{"language"}),
		ProcessRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "langd_process_restarts_total",
			Help: "Automatic restarts performed per language.",
		}, []string{"language"}),
		RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "langd_rpc_requests_total",
			Help: "RPC requests issued per language and outcome.",
		}, []string{"language", "method", "outcome"}),
		RPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "langd_rpc_duration_seconds",
			Help:    "RPC round-trip latency per language.",
			Buckets: prometheus.DefBuckets,
		}, []string{"language", "method"}),
		RegistryReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "langd_registry_reloads_total",
			Help: "Configuration reload attempts by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.ProcessUp,
		m.ProcessRestarts,
		m.RPCRequests,
		m.RPCDuration,
		m.RegistryReloads,
	)
	return m
}

// Handler serves the collectors over HTTP for the serve command's metrics
// listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
