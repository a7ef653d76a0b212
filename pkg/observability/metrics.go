package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// ETL metrics
	ETLRunsTotal    *prometheus.CounterVec
	ETLRunDuration  prometheus.Histogram
	ETLRecordsTotal *prometheus.CounterVec
	ETLBatchesTotal *prometheus.CounterVec
	ETLRetriesTotal prometheus.Counter

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec

	// Search metrics
	SearchRequestsTotal   *prometheus.CounterVec
	SearchDegradedTotal   prometheus.Counter
	SearchRejectedTotal   prometheus.Counter
	SearchResultsReturned prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilities_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilities_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ETLRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilities_etl_runs_total",
				Help: "Total number of ETL pipeline runs by outcome",
			},
			[]string{"mode", "outcome"},
		),
		ETLRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "facilities_etl_run_duration_seconds",
				Help:    "ETL pipeline run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		ETLRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilities_etl_records_total",
				Help: "Total number of records processed by stage",
			},
			[]string{"stage"},
		),
		ETLBatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilities_etl_batches_total",
				Help: "Total number of ETL batches by outcome",
			},
			[]string{"outcome"},
		),
		ETLRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "facilities_etl_retries_total",
				Help: "Total number of upstream fetch retries",
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilities_cache_hits_total",
				Help: "Total number of cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilities_cache_misses_total",
				Help: "Total number of cache misses by tier",
			},
			[]string{"tier"},
		),
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilities_store_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilities_store_operation_duration_seconds",
				Help:    "Store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilities_store_errors_total",
				Help: "Total number of store operation errors",
			},
			[]string{"operation"},
		),
		SearchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilities_search_requests_total",
				Help: "Total number of search requests by source",
			},
			[]string{"source"},
		),
		SearchDegradedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "facilities_search_degraded_total",
				Help: "Total number of search responses served from the static fallback set",
			},
		),
		SearchRejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "facilities_search_rejected_total",
				Help: "Total number of search requests rejected by admission control",
			},
		),
		SearchResultsReturned: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "facilities_search_results_returned",
				Help:    "Number of facilities returned per search response",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200},
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ETLRunsTotal,
		m.ETLRunDuration,
		m.ETLRecordsTotal,
		m.ETLBatchesTotal,
		m.ETLRetriesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.StoreErrorsTotal,
		m.SearchRequestsTotal,
		m.SearchDegradedTotal,
		m.SearchRejectedTotal,
		m.SearchResultsReturned,
	)

	return m
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// InstrumentHandler wraps an HTTP handler with request count and duration metrics
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
