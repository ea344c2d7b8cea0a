// Package metrics exposes the live-state core's Prometheus metrics.
//
// A Collector owns its own registry rather than the global default, so
// tests and embedded uses do not collide. It implements store.Recorder and
// manager.Recorder.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graylive"

// Collector holds the registry and every metric the core reports.
type Collector struct {
	registry *prometheus.Registry

	published   prometheus.Counter
	dropped     prometheus.Counter
	subscribers prometheus.Gauge
	connected   *prometheus.GaugeVec
	retries     *prometheus.CounterVec
	writeErrors *prometheus.CounterVec
}

// New creates a Collector with the Go and process collectors registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "signals_published_total",
			Help:      "Signals published to the store.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "signals_dropped_total",
			Help:      "Signal deliveries dropped because a subscriber queue was full.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "subscribers",
			Help:      "Active store subscriptions.",
		}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "connected",
			Help:      "1 when the adapter is connected and streaming.",
		}, []string{"adapter", "type"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "retries_total",
			Help:      "Reconnect attempts scheduled per adapter.",
		}, []string{"adapter"}),
		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "write_errors_total",
			Help:      "Signal writes that failed, per recorder.",
		}, []string{"recorder"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.published,
		c.dropped,
		c.subscribers,
		c.connected,
		c.retries,
		c.writeErrors,
	)
	return c
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SignalPublished implements store.Recorder.
func (c *Collector) SignalPublished() { c.published.Inc() }

// SignalDropped implements store.Recorder.
func (c *Collector) SignalDropped() { c.dropped.Inc() }

// SubscribersChanged implements store.Recorder.
func (c *Collector) SubscribersChanged(n int) { c.subscribers.Set(float64(n)) }

// AdapterConnected implements manager.Recorder.
func (c *Collector) AdapterConnected(name, adapterType string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	c.connected.WithLabelValues(name, adapterType).Set(v)
}

// AdapterRetry implements manager.Recorder.
func (c *Collector) AdapterRetry(name string) {
	c.retries.WithLabelValues(name).Inc()
}

// WriteFailed counts a failed recorder write.
func (c *Collector) WriteFailed(recorder string) {
	c.writeErrors.WithLabelValues(recorder).Inc()
}
