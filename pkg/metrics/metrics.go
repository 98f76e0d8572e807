// Package metrics collects Prometheus metrics for the API server.
//
// All record methods are nil-safe: a nil *Metrics disables collection
// with zero overhead, so callers never branch on whether metrics are
// enabled.
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

// Metrics holds the process metric instruments.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	eventsPublished prometheus.Counter
	wsClients       prometheus.Gauge
}

// New creates the registry and instruments. Returns nil when disabled.
func New(enabled bool) *Metrics {
	if !enabled {
		return nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,
		httpRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "apistore_http_requests_total",
				Help: "Completed HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apistore_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		eventsPublished: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "apistore_events_published_total",
				Help: "Events published on the event bus",
			},
		),
		wsClients: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "apistore_ws_clients",
				Help: "Currently connected WebSocket clients",
			},
		),
	}
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one completed HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordEvent counts one published event.
func (m *Metrics) RecordEvent() {
	if m == nil {
		return
	}
	m.eventsPublished.Inc()
}

// WsConnected tracks a new WebSocket client.
func (m *Metrics) WsConnected() {
	if m == nil {
		return
	}
	m.wsClients.Inc()
}

// WsDisconnected tracks a departed WebSocket client.
func (m *Metrics) WsDisconnected() {
	if m == nil {
		return
	}
	m.wsClients.Dec()
}
