// Package metrics holds the Prometheus collectors for the catalog service.
// They register on the default registry, which /metrics exposes.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_http_active_requests",
			Help: "Current number of in-flight HTTP requests",
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	// Domain
	RatingUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_ratings_upserts_total",
			Help: "Rating submissions by outcome (created, updated, rejected)",
		},
		[]string{"outcome"},
	)

	MoviesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_movies_created_total",
			Help: "Total number of movies created",
		},
	)

	MoviesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_movies_deleted_total",
			Help: "Total number of movies deleted",
		},
	)

	// Aggregate cache
	AggregateCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_aggregate_cache_lookups_total",
			Help: "Rating aggregate cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)
)

// Rating upsert outcomes.
const (
	OutcomeCreated  = "created"
	OutcomeUpdated  = "updated"
	OutcomeRejected = "rejected"
)

// RecordHTTPRequest records one finished request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRatingUpsert records the outcome of one rating submission.
func RecordRatingUpsert(outcome string) {
	RatingUpserts.WithLabelValues(outcome).Inc()
}

// RecordCacheLookup records a cache hit, miss or error.
func RecordCacheLookup(result string) {
	AggregateCacheLookups.WithLabelValues(result).Inc()
}
