// Package metrics exposes Gray Logic Logger telemetry in Prometheus format.
//
// Metrics implements engine.Recorder, so the executor and the event
// scheduler report into it directly. Every Metrics owns its registry; two
// instances never collide and tests need no global state.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graylogger"

// Metrics holds the logger's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	cycles             prometheus.Counter
	cycleDuration      prometheus.Histogram
	sourceFailures     *prometheus.CounterVec
	outputFailures     *prometheus.CounterVec
	conversionFailures *prometheus.CounterVec
	eventsDropped      prometheus.Counter
	queueLength        prometheus.Gauge
	wsClients          prometheus.Gauge
}

// New creates a Metrics with a fresh registry, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Read-log cycles completed.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete read-log cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Source reads that failed, by source.",
		}, []string{"source"}),
		outputFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_failures_total",
			Help:      "Output writes that failed, by output.",
		}, []string{"output"}),
		conversionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_failures_total",
			Help:      "Values that could not be converted to their target type, by output.",
		}, []string{"output"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Trigger events rejected because the queue was full.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_length",
			Help:      "Trigger events waiting for the worker.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected live-view WebSocket clients.",
		}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.sourceFailures,
		m.outputFailures,
		m.conversionFailures,
		m.eventsDropped,
		m.queueLength,
		m.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry backing this Metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler serving the registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}

// CycleCompleted records one finished cycle and its duration.
func (m *Metrics) CycleCompleted(d time.Duration) {
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// SourceFailed counts a failed read of the named source.
func (m *Metrics) SourceFailed(source string) {
	m.sourceFailures.WithLabelValues(source).Inc()
}

// OutputFailed counts a failed write to the named output.
func (m *Metrics) OutputFailed(output string) {
	m.outputFailures.WithLabelValues(output).Inc()
}

// ConversionFailed counts a failed conversion for the named output.
func (m *Metrics) ConversionFailed(output string) {
	m.conversionFailures.WithLabelValues(output).Inc()
}

// EventDropped counts a trigger rejected under backpressure.
func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
}

// QueueLength sets the current event queue depth.
func (m *Metrics) QueueLength(n int) {
	m.queueLength.Set(float64(n))
}

// WebSocketClients sets the number of connected live-view clients.
func (m *Metrics) WebSocketClients(n int) {
	m.wsClients.Set(float64(n))
}
