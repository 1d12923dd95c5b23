package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the edge agent.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter

	syncCyclesTotal   prometheus.Counter
	syncFailuresTotal prometheus.Counter
	lastSyncTimestamp prometheus.Gauge

	workerStartsTotal   prometheus.Counter
	workerStopsTotal    prometheus.Counter
	workerRestartsTotal prometheus.Counter
	launchFailuresTotal prometheus.Counter
	runningWorkers      prometheus.Gauge

	cacheHitsTotal          prometheus.Counter
	cacheMissesTotal        prometheus.Counter
	resolutionFailuresTotal prometheus.Counter
	cacheEntries            prometheus.Gauge
}

// New creates and registers Prometheus metrics for the agent.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		syncCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_sync_cycles_total",
			Help: "Total number of reconciliation cycles run",
		}),
		syncFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_sync_failures_total",
			Help: "Total number of cycles whose desired-state fetch failed",
		}),
		lastSyncTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_last_sync_timestamp_seconds",
			Help: "Unix time of the last successfully applied desired state",
		}),
		workerStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_worker_starts_total",
			Help: "Total number of worker processes spawned",
		}),
		workerStopsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_worker_stops_total",
			Help: "Total number of worker registrations removed",
		}),
		workerRestartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_worker_restarts_total",
			Help: "Total number of crashed workers restarted by the liveness sweep",
		}),
		launchFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_launch_failures_total",
			Help: "Total number of worker processes that failed to spawn",
		}),
		runningWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_running_workers",
			Help: "Number of live worker processes",
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_resolution_cache_hits_total",
			Help: "Total number of source resolutions served from cache",
		}),
		cacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_resolution_cache_misses_total",
			Help: "Total number of source resolutions that invoked the resolver",
		}),
		resolutionFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_resolution_failures_total",
			Help: "Total number of failed resolver invocations",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_resolution_cache_entries",
			Help: "Number of cached source resolutions",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.syncCyclesTotal,
		m.syncFailuresTotal,
		m.lastSyncTimestamp,
		m.workerStartsTotal,
		m.workerStopsTotal,
		m.workerRestartsTotal,
		m.launchFailuresTotal,
		m.runningWorkers,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.resolutionFailuresTotal,
		m.cacheEntries,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// ObserveCycle records one reconciliation cycle. fetchErr is the cycle's
// fetch error, if any; syncedAt is the last successful sync time.
func (m *Metrics) ObserveCycle(fetchErr error, syncedAt time.Time) {
	if m == nil {
		return
	}
	m.syncCyclesTotal.Inc()
	if fetchErr != nil {
		m.syncFailuresTotal.Inc()
	}
	if !syncedAt.IsZero() {
		m.lastSyncTimestamp.Set(float64(syncedAt.UnixNano()) / float64(time.Second))
	}
}

func (m *Metrics) IncWorkerStarts() {
	if m == nil {
		return
	}
	m.workerStartsTotal.Inc()
}

func (m *Metrics) IncWorkerStops() {
	if m == nil {
		return
	}
	m.workerStopsTotal.Inc()
}

func (m *Metrics) IncWorkerRestarts() {
	if m == nil {
		return
	}
	m.workerRestartsTotal.Inc()
}

func (m *Metrics) IncLaunchFailures() {
	if m == nil {
		return
	}
	m.launchFailuresTotal.Inc()
}

// SetRunningWorkers sets the live workers gauge.
func (m *Metrics) SetRunningWorkers(n int) {
	if m == nil {
		return
	}
	m.runningWorkers.Set(float64(n))
}

func (m *Metrics) IncCacheHits() {
	if m == nil {
		return
	}
	m.cacheHitsTotal.Inc()
}

func (m *Metrics) IncCacheMisses() {
	if m == nil {
		return
	}
	m.cacheMissesTotal.Inc()
}

func (m *Metrics) IncResolutionFailures() {
	if m == nil {
		return
	}
	m.resolutionFailuresTotal.Inc()
}

// SetCacheEntries sets the cached resolutions gauge.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. running workers).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
