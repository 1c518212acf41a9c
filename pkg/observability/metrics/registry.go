// Package metrics exposes Prometheus collectors for the client runtime.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns a Prometheus registry preloaded with the client collectors
// and Go runtime metrics.
type Registry struct {
	registry *prometheus.Registry
}

// NewRegistry creates a registry with the client collectors registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(clientRequestsTotal)
	reg.MustRegister(clientRequestDuration)
	reg.MustRegister(clientRetriesTotal)
	reg.MustRegister(backpressureSignalsTotal)
	reg.MustRegister(backpressurePermits)
	reg.MustRegister(backpressureConsecutiveSignals)
	reg.MustRegister(tokenFetchTotal)

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Registry{
		registry: reg,
	}
}

// Register registers an additional collector, such as the jobs worker collectors.
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registry.Register(collector)
}

// MustRegister registers collectors and panics on error.
func (r *Registry) MustRegister(collectors ...prometheus.Collector) {
	r.registry.MustRegister(collectors...)
}

// Handler exposes the registry in Prometheus text or OpenMetrics format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Gatherer returns the underlying prometheus.Gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
