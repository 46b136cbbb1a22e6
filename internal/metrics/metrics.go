// Package metrics provides Prometheus metrics for the workspace engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	AuthFailuresTotal   *prometheus.CounterVec
	RoomConnections     prometheus.Gauge
	BroadcastsTotal     *prometheus.CounterVec
	FileTreeWritesTotal *prometheus.CounterVec
	SandboxTransitions  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devsync_http_requests_total",
				Help: "Total HTTP requests by route and status.",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devsync_http_request_duration_seconds",
				Help:    "HTTP request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devsync_auth_failures_total",
				Help: "Session gate rejections by error code.",
			},
			[]string{"code"},
		),
		RoomConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "devsync_room_connections",
				Help: "Currently connected room participants.",
			},
		),
		BroadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devsync_broadcasts_total",
				Help: "Messages fanned out by the bus, by event name.",
			},
			[]string{"event"},
		),
		FileTreeWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devsync_filetree_writes_total",
				Help: "File tree mutations by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		SandboxTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devsync_sandbox_transitions_total",
				Help: "Sandbox run session state transitions.",
			},
			[]string{"status"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.AuthFailuresTotal)
	reg.MustRegister(m.RoomConnections)
	reg.MustRegister(m.BroadcastsTotal)
	reg.MustRegister(m.FileTreeWritesTotal)
	reg.MustRegister(m.SandboxTransitions)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments the request counter.
func (m *Metrics) RecordRequest(route, status string) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
}

// RecordAuthFailure increments the gate rejection counter.
func (m *Metrics) RecordAuthFailure(code string) {
	m.AuthFailuresTotal.WithLabelValues(code).Inc()
}

// RecordBroadcast increments the bus fan-out counter.
func (m *Metrics) RecordBroadcast(event string) {
	m.BroadcastsTotal.WithLabelValues(event).Inc()
}

// RecordFileTreeWrite increments the file tree mutation counter.
func (m *Metrics) RecordFileTreeWrite(op, outcome string) {
	m.FileTreeWritesTotal.WithLabelValues(op, outcome).Inc()
}

// RecordSandboxTransition increments the run session transition counter.
func (m *Metrics) RecordSandboxTransition(status string) {
	m.SandboxTransitions.WithLabelValues(status).Inc()
}
