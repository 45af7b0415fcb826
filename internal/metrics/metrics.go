// Package metrics holds the prometheus collectors for the API and the
// session and content pipelines. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	sessionsStarted     *prometheus.CounterVec
	sessionMutations    *prometheus.CounterVec
	contentVersions     *prometheus.CounterVec
	compensations       *prometheus.CounterVec
	lockWaitSeconds     *prometheus.HistogramVec
	realtimeConnections prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method"},
		),
		sessionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_started_total",
				Help: "Start calls by result (created or resumed)",
			},
			[]string{"result"},
		),
		sessionMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_mutations_total",
				Help: "Session mutations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		contentVersions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "content_versions_total",
				Help: "Add-content calls by result (created or unchanged)",
			},
			[]string{"result"},
		),
		compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txn_compensations_total",
				Help: "Compensating actions run during rollback",
			},
			[]string{"step", "result"},
		),
		lockWaitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lock_wait_seconds",
				Help:    "Time spent waiting for a named lock",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"scope", "result"},
		),
		realtimeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "realtime_connections",
				Help: "Open websocket connections",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDurationSeconds,
		m.sessionsStarted,
		m.sessionMutations,
		m.contentVersions,
		m.compensations,
		m.lockWaitSeconds,
		m.realtimeConnections,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route, method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, method, status).Inc()
	m.httpRequestDurationSeconds.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (m *Metrics) SessionStarted(resumed bool) {
	if m == nil {
		return
	}
	result := "created"
	if resumed {
		result = "resumed"
	}
	m.sessionsStarted.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionMutation(operation, outcome string) {
	if m == nil {
		return
	}
	m.sessionMutations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ContentAdded(created bool) {
	if m == nil {
		return
	}
	result := "unchanged"
	if created {
		result = "created"
	}
	m.contentVersions.WithLabelValues(result).Inc()
}

// Compensation matches the txn observer signature.
func (m *Metrics) Compensation(step string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.compensations.WithLabelValues(step, result).Inc()
}

func (m *Metrics) LockWait(scope string, acquired bool, waited time.Duration) {
	if m == nil {
		return
	}
	result := "acquired"
	if !acquired {
		result = "failed"
	}
	m.lockWaitSeconds.WithLabelValues(scope, result).Observe(waited.Seconds())
}

func (m *Metrics) RealtimeConnected(delta int) {
	if m == nil {
		return
	}
	m.realtimeConnections.Add(float64(delta))
}
