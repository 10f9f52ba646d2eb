// Package metric manages Prometheus metrics registration for the stream client.
//
// A Registry wraps a private prometheus.Registry so independent client
// instances never collide on metric names, and tracks ownership so a client
// can unregister its collectors on teardown.
package metric

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elementalcollision/graphmemory-stream/errors"
)

// Registry manages the registration and lifecycle of metrics
type Registry struct {
	prometheusRegistry *prometheus.Registry
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewRegistry creates a new metrics registry with Go runtime collectors
func NewRegistry() *Registry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &Registry{
		prometheusRegistry: prometheusRegistry,
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Handler returns an HTTP handler serving the registry in Prometheus format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// register adds a collector under "owner.name", rejecting duplicates.
func (r *Registry) register(owner, name string, c prometheus.Collector, method string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", owner, name)

	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for %s", name, owner),
			"Registry", method, "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "Registry", method,
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "Registry", method, "register collector with prometheus")
	}

	r.registeredMetrics[key] = c
	return nil
}

// RegisterCounter registers a counter metric for an owner
func (r *Registry) RegisterCounter(owner, name string, counter prometheus.Counter) error {
	return r.register(owner, name, counter, "RegisterCounter")
}

// RegisterGauge registers a gauge metric for an owner
func (r *Registry) RegisterGauge(owner, name string, gauge prometheus.Gauge) error {
	return r.register(owner, name, gauge, "RegisterGauge")
}

// RegisterHistogram registers a histogram metric for an owner
func (r *Registry) RegisterHistogram(owner, name string, histogram prometheus.Histogram) error {
	return r.register(owner, name, histogram, "RegisterHistogram")
}

// RegisterCounterVec registers a counter vector metric for an owner
func (r *Registry) RegisterCounterVec(owner, name string, counterVec *prometheus.CounterVec) error {
	return r.register(owner, name, counterVec, "RegisterCounterVec")
}

// RegisterGaugeVec registers a gauge vector metric for an owner
func (r *Registry) RegisterGaugeVec(owner, name string, gaugeVec *prometheus.GaugeVec) error {
	return r.register(owner, name, gaugeVec, "RegisterGaugeVec")
}

// RegisterHistogramVec registers a histogram vector metric for an owner
func (r *Registry) RegisterHistogramVec(owner, name string, histogramVec *prometheus.HistogramVec) error {
	return r.register(owner, name, histogramVec, "RegisterHistogramVec")
}

// Unregister removes a metric registered under "owner.name".
// Returns true if the metric was found and removed.
func (r *Registry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", owner, name)
	c, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	delete(r.registeredMetrics, key)
	return r.prometheusRegistry.Unregister(c)
}

// UnregisterOwner removes all metrics registered by the given owner.
// Returns the number of metrics removed.
func (r *Registry) UnregisterOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := owner + "."
	removed := 0
	for key, c := range r.registeredMetrics {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(r.registeredMetrics, key)
			if r.prometheusRegistry.Unregister(c) {
				removed++
			}
		}
	}
	return removed
}
