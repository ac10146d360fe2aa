// Package metrics exposes the engine's counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mcdev12/capturezone/go/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements eventlog.MetricsCollector, driver.MetricsCollector and
// gateway.BroadcastCounter. A nil *Metrics records nothing.
type Metrics struct {
	appends     *prometheus.CounterVec
	ticks       *prometheus.CounterVec
	loopErrors  *prometheus.CounterVec
	activeLoops *prometheus.GaugeVec
	broadcasts  *prometheus.CounterVec
	httpTotal   *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capturezone_history_appends_total",
			Help: "History events appended, by event kind.",
		}, []string{"kind"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capturezone_driver_ticks_total",
			Help: "Timer loop ticks processed, by loop type.",
		}, []string{"loop"}),
		loopErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capturezone_driver_loop_errors_total",
			Help: "Timer loop ticks that failed and were skipped, by loop type.",
		}, []string{"loop"}),
		activeLoops: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "capturezone_driver_active_loops",
			Help: "Timer loops currently running, by loop type.",
		}, []string{"loop"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capturezone_broadcasts_total",
			Help: "Client pushes, by channel.",
		}, []string{"channel"}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capturezone_http_requests_total",
			Help: "HTTP requests processed, by route and status.",
		}, []string{"route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capturezone_http_request_duration_seconds",
			Help:    "HTTP request durations, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.appends,
		m.ticks,
		m.loopErrors,
		m.activeLoops,
		m.broadcasts,
		m.httpTotal,
		m.httpLatency,
	)
	return m
}

func (m *Metrics) RecordAppend(kind models.EventKind) {
	if m == nil {
		return
	}
	m.appends.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) RecordTick(loop string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(loop).Inc()
}

func (m *Metrics) RecordLoopError(loop string) {
	if m == nil {
		return
	}
	m.loopErrors.WithLabelValues(loop).Inc()
}

func (m *Metrics) SetActiveLoops(loop string, n int) {
	if m == nil {
		return
	}
	m.activeLoops.WithLabelValues(loop).Set(float64(n))
}

func (m *Metrics) RecordBroadcast(channel models.Channel) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(string(channel)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests to next under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
