// Package metrics registers the prometheus collectors of the request engine.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation in tests and tools.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gamereq"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	catalogRequests  *prometheus.CounterVec
	catalogLatency   *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	limiterRejected  prometheus.Counter
	importItems      *prometheus.CounterVec
	importDuration   prometheus.Histogram
	requestsCreated  *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	casConflicts     prometheus.Counter
	notifyEvents     *prometheus.CounterVec
	notifyQueueDepth prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auto := promauto.With(reg)

	return &Metrics{
		registry: reg,

		catalogRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "upstream_requests_total",
			Help:      "Upstream catalog calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		catalogLatency: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "upstream_duration_seconds",
			Help:      "Latency of upstream catalog calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"op"}),
		cacheLookups: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "cache_lookups_total",
			Help:      "Catalog cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		limiterRejected: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "rate_limited_total",
			Help:      "Catalog calls refused because the rate budget was exhausted.",
		}),
		importItems: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "items_total",
			Help:      "Imported names by outcome (imported or failure reason class).",
		}, []string{"outcome"}),
		importDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of import batches.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		requestsCreated: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "created_total",
			Help:      "Requests created by source and initial status.",
		}, []string{"source", "status"}),
		transitions: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "transitions_total",
			Help:      "Applied status transitions.",
		}, []string{"from", "to"}),
		casConflicts: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "transition_conflicts_total",
			Help:      "Transitions that lost a concurrent update.",
		}),
		notifyEvents: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "Notification events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		notifyQueueDepth: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "queue_depth",
			Help:      "Events waiting for delivery.",
		}),
		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CatalogRequest records one upstream catalog call.
func (m *Metrics) CatalogRequest(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.catalogRequests.WithLabelValues(op, outcome).Inc()
	m.catalogLatency.WithLabelValues(op).Observe(d.Seconds())
}

// CacheLookup records a hit or miss on a cache tier.
func (m *Metrics) CacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(tier, result).Inc()
}

// CatalogRateLimited counts a call refused by the shared limiter.
func (m *Metrics) CatalogRateLimited() {
	if m == nil {
		return
	}
	m.limiterRejected.Inc()
}

// ImportItem records the outcome of one imported name.
func (m *Metrics) ImportItem(outcome string) {
	if m == nil {
		return
	}
	m.importItems.WithLabelValues(outcome).Inc()
}

// ImportBatch records the duration of a finished batch.
func (m *Metrics) ImportBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.importDuration.Observe(d.Seconds())
}

// RequestCreated records a newly created request.
func (m *Metrics) RequestCreated(source, status string) {
	if m == nil {
		return
	}
	m.requestsCreated.WithLabelValues(source, status).Inc()
}

// Transition records an applied status change.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// TransitionConflict records a lost compare-and-set.
func (m *Metrics) TransitionConflict() {
	if m == nil {
		return
	}
	m.casConflicts.Inc()
}

// NotifyEvent records a notification outcome: sent, failed, dropped or filtered.
func (m *Metrics) NotifyEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.notifyEvents.WithLabelValues(kind, outcome).Inc()
}

// NotifyQueueDepth sets the current queue length.
func (m *Metrics) NotifyQueueDepth(n int) {
	if m == nil {
		return
	}
	m.notifyQueueDepth.Set(float64(n))
}

// HTTPRequest records one served HTTP request.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
