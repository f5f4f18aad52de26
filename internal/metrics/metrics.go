// Package metrics exposes pipeline and HTTP metrics on a private Prometheus
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/doorgraph/internal/core"
)

const namespace = "doorgraph"

// Metrics holds every collector of the service.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	eventsLoaded  prometheus.Counter
	rowsSkipped   prometheus.Counter
	warningsTotal *prometheus.CounterVec
	lastRunDoors  prometheus.Gauge
	lastRunLayers prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	rateLimited  *prometheus.CounterVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome and error code.",
		}, []string{"outcome", "code"}),

		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Pipeline run duration.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),

		eventsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_loaded_total",
			Help:      "Events loaded by successful runs.",
		}),

		rowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Rows dropped by the loader.",
		}),

		warningsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Run warnings by kind.",
		}, []string{"kind"}),

		lastRunDoors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_doors",
			Help:      "Doors in the graph of the most recent successful run.",
		}),

		lastRunLayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_layers",
			Help:      "Onion layers of the most recent successful run.",
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status class.",
		}, []string{"method", "route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.eventsLoaded,
		m.rowsSkipped,
		m.warningsTotal,
		m.lastRunDoors,
		m.lastRunLayers,
		m.httpRequests,
		m.httpDuration,
		m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRun records one finished pipeline run.
func (m *Metrics) ObserveRun(res *core.RunResult, elapsed time.Duration) {
	outcome, code := "success", ""
	switch {
	case res.Superseded:
		outcome = "superseded"
	case !res.Success:
		outcome = "failure"
	}
	if len(res.Errors) > 0 {
		code = res.Errors[0].Code
	}

	m.runsTotal.WithLabelValues(outcome, code).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	m.rowsSkipped.Add(float64(res.Skipped))
	for _, w := range res.Warnings {
		m.warningsTotal.WithLabelValues(string(w.Kind)).Inc()
	}

	if !res.Success || res.Superseded {
		return
	}
	m.eventsLoaded.Add(float64(res.Events))
	m.lastRunDoors.Set(float64(res.Doors))
	if res.Graph != nil {
		m.lastRunLayers.Set(float64(res.Graph.MaxLayer + 1))
	}
}

// RecordRequest records one HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordRateLimited counts a request refused by the rate limiter.
func (m *Metrics) RecordRateLimited(route string) {
	m.rateLimited.WithLabelValues(route).Inc()
}

// RegisterRunLimiter exports the run limiter state as gauges read on scrape.
func (m *Metrics) RegisterRunLimiter(status func() core.RunLimiterStatus) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Pipeline runs holding a slot.",
		}, func() float64 { return float64(status().Active) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_slots_available",
			Help:      "Free pipeline run slots.",
		}, func() float64 { return float64(status().Available) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_refused_total",
			Help:      "Runs refused because no slot freed up in time.",
		}, func() float64 { return float64(status().Refused) }),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return strconv.Itoa(status)
	}
}
