// Package obsmetrics exposes Prometheus metrics for the cache, invalidation
// engine, write barrier, and lineage writer.
package obsmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster cache metrics (§4.B)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annocache_cache_hits_total",
			Help: "Total number of cache hits by namespace",
		},
		[]string{"namespace"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annocache_cache_misses_total",
			Help: "Total number of cache misses by namespace",
		},
		[]string{"namespace"},
	)

	CacheSetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "annocache_cache_sets_total",
			Help: "Total number of cache entries written cluster-wide",
		},
	)

	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annocache_cache_evictions_total",
			Help: "Total number of cache evictions by reason (lru, ttl, invalidation)",
		},
		[]string{"reason"},
	)

	CacheInvalidationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "annocache_cache_invalidations_total",
			Help: "Total number of keys evicted by the invalidation engine",
		},
	)

	CacheLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "annocache_cache_length",
			Help: "Current number of entries held by a worker's cache",
		},
		[]string{"worker"},
	)

	CacheBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "annocache_cache_bytes",
			Help: "Current number of bytes held by a worker's cache",
		},
		[]string{"worker"},
	)

	// Invalidation engine / write barrier metrics (§4.C, §4.D)
	InvalidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "annocache_invalidation_duration_seconds",
			Help:    "Time taken to select and evict matching cache keys for one mutation",
			Buckets: prometheus.DefBuckets,
		},
	)

	BarrierTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "annocache_barrier_timeouts_total",
			Help: "Total number of write responses flushed after the invalidation timeout elapsed",
		},
	)

	// HTTP layer metrics (§6)
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annocache_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annocache_api_request_duration_seconds",
			Help:    "API request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Lineage writer metrics (§4.E)
	VersionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annocache_versions_created_total",
			Help: "Total number of new versions written by operation (create, update, patch, set, unset)",
		},
		[]string{"operation"},
	)

	OverwritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "annocache_overwrites_total",
			Help: "Total number of successful in-place overwrites",
		},
	)

	OverwriteConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "annocache_overwrite_conflicts_total",
			Help: "Total number of overwrite attempts rejected on optimistic-lock mismatch",
		},
	)

	DeletesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "annocache_deletes_total",
			Help: "Total number of tombstones written",
		},
	)
)

func init() {
	prometheus.MustRegister(
		CacheHitsTotal,
		CacheMissesTotal,
		CacheSetsTotal,
		CacheEvictionsTotal,
		CacheInvalidationsTotal,
		CacheLength,
		CacheBytes,
		InvalidationDuration,
		BarrierTimeoutsTotal,
		APIRequestsTotal,
		APIRequestDuration,
		VersionsCreatedTotal,
		OverwritesTotal,
		OverwriteConflictsTotal,
		DeletesTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for histogram observations.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records elapsed time on histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records elapsed time on a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
