// Package metrics defines the Prometheus metrics exported by the DataLens
// API and the chi middleware that records HTTP metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datalens_build_info",
			Help: "Build information of the DataLens API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datalens_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datalens_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "datalens_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Ingestion metrics
	IngestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datalens_ingestions_total",
			Help: "Total number of file ingestions",
		},
		[]string{"status"}, // "success", "parse_error", "store_error"
	)

	IngestionRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datalens_ingestion_rows_total",
			Help: "Total number of rows persisted by ingestion",
		},
	)

	IngestionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datalens_ingestion_duration_seconds",
			Help:    "Duration of file ingestions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
	)

	// Aggregation metrics
	AggregationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datalens_aggregations_total",
			Help: "Total number of aggregation queries",
		},
		[]string{"status"}, // "success", "invalid", "error"
	)

	AggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datalens_aggregation_duration_seconds",
			Help:    "Duration of aggregation queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
	)

	AggregationCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datalens_aggregation_cache_total",
			Help: "Aggregation cache lookups by outcome",
		},
		[]string{"outcome"}, // "hit", "miss"
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordIngestion records metrics for one completed ingestion attempt.
func RecordIngestion(status string, rows int, duration time.Duration) {
	IngestionsTotal.WithLabelValues(status).Inc()
	if rows > 0 {
		IngestionRowsTotal.Add(float64(rows))
	}
	IngestionDuration.Observe(duration.Seconds())
}

// RecordAggregation records metrics for one aggregation query.
func RecordAggregation(status string, duration time.Duration) {
	AggregationsTotal.WithLabelValues(status).Inc()
	AggregationDuration.Observe(duration.Seconds())
}

// RecordCacheLookup records an aggregation cache hit or miss.
func RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	AggregationCacheTotal.WithLabelValues(outcome).Inc()
}
