package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coursework"

// Metrics holds the collectors of the service on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	cascadeDeletes  *prometheus.CounterVec
	cascadeDuration *prometheus.HistogramVec
	cascadeRows     *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
	eventBytes      prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	healthStatus *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		cascadeDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_deletes_total",
			Help:      "Cascading deletes by root kind and outcome.",
		}, []string{"root", "outcome"}),
		cascadeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cascade_delete_duration_seconds",
			Help:      "Duration of cascading delete transactions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"root"}),
		cascadeRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_rows_deleted_total",
			Help:      "Rows removed by cascading deletes per collection.",
		}, []string{"collection"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Result events by type and outcome.",
		}, []string{"event_type", "outcome"}),
		eventBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_payload_bytes",
			Help:      "Serialized result event sizes.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		healthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependency_up",
			Help:      "1 when the last probe of a dependency succeeded.",
		}, []string{"dependency"}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cascadeDeletes,
		m.cascadeDuration,
		m.cascadeRows,
		m.eventsPublished,
		m.eventBytes,
		m.httpRequests,
		m.httpDuration,
		m.healthStatus,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// A nil *Metrics is valid and records nothing.

func (m *Metrics) ObserveCascade(root, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cascadeDeletes.WithLabelValues(root, outcome).Inc()
	m.cascadeDuration.WithLabelValues(root).Observe(elapsed.Seconds())
}

func (m *Metrics) AddCascadeRows(collection string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cascadeRows.WithLabelValues(collection).Add(float64(n))
}

func (m *Metrics) ObservePublish(eventType, outcome string, size int) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType, outcome).Inc()
	if size > 0 {
		m.eventBytes.Observe(float64(size))
	}
}

func (m *Metrics) ObserveHTTP(route, method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, status).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (m *Metrics) SetDependencyUp(dependency string, up bool) {
	if m == nil {
		return
	}
	value := 0.0
	if up {
		value = 1
	}
	m.healthStatus.WithLabelValues(dependency).Set(value)
}
