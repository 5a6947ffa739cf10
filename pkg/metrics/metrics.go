package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics
	CacheEntriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opscore_cache_entries_total",
			Help: "Total number of live cache entries by shard",
		},
		[]string{"shard"},
	)

	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opscore_cache_hits_total",
			Help: "Total number of cache get hits",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opscore_cache_misses_total",
			Help: "Total number of cache get misses",
		},
	)

	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscore_cache_evictions_total",
			Help: "Total number of cache entries evicted, by reason",
		},
		[]string{"reason"},
	)

	CacheSetDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opscore_cache_set_duration_seconds",
			Help:    "Time taken to complete a cache set in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// WAL metrics
	WALAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscore_wal_appends_total",
			Help: "Total number of WAL appends by operation",
		},
		[]string{"operation"},
	)

	WALAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opscore_wal_append_duration_seconds",
			Help:    "Time taken for a WAL append (including fsync) in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALSegmentsRotatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opscore_wal_segments_rotated_total",
			Help: "Total number of WAL segment rotations",
		},
	)

	WALReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opscore_wal_replay_duration_seconds",
			Help:    "Time taken to replay the WAL at startup in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALIntegrityFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opscore_wal_integrity_failures_total",
			Help: "Total number of WAL records skipped for checksum or parse failures",
		},
	)

	// Transaction metrics
	TransactionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "opscore_transactions_active",
			Help: "Number of currently active transactions",
		},
	)

	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscore_transactions_total",
			Help: "Total number of transactions by terminal status",
		},
		[]string{"status"},
	)

	// Feedback / review metrics
	FeedbackRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opscore_feedback_records_total",
			Help: "Total number of feedback records recorded",
		},
	)

	ReviewQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "opscore_review_queue_depth",
			Help: "Number of pending review items",
		},
	)

	ReviewsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscore_reviews_enqueued_total",
			Help: "Total number of review items enqueued by reason",
		},
		[]string{"reason"},
	)

	// Audit metrics
	AuditTripletsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscore_audit_triplets_total",
			Help: "Total number of triplets produced by the audit pipeline by source",
		},
		[]string{"source"},
	)

	// Knowledge graph metrics
	KGRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opscore_kg_refresh_duration_seconds",
			Help:    "Time taken to refresh the in-memory knowledge graph in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	KGSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opscore_kg_sync_duration_seconds",
			Help:    "Time taken for a delta-sync cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	KGSyncChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opscore_kg_sync_changes_total",
			Help: "Total number of sync changes observed by change type",
		},
		[]string{"change_type"},
	)
)

func init() {
	prometheus.MustRegister(CacheEntriesTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheEvictionsTotal)
	prometheus.MustRegister(CacheSetDuration)

	prometheus.MustRegister(WALAppendsTotal)
	prometheus.MustRegister(WALAppendDuration)
	prometheus.MustRegister(WALSegmentsRotatedTotal)
	prometheus.MustRegister(WALReplayDuration)
	prometheus.MustRegister(WALIntegrityFailuresTotal)

	prometheus.MustRegister(TransactionsActive)
	prometheus.MustRegister(TransactionsTotal)

	prometheus.MustRegister(FeedbackRecordsTotal)
	prometheus.MustRegister(ReviewQueueDepth)
	prometheus.MustRegister(ReviewsEnqueuedTotal)

	prometheus.MustRegister(AuditTripletsTotal)

	prometheus.MustRegister(KGRefreshDuration)
	prometheus.MustRegister(KGSyncDuration)
	prometheus.MustRegister(KGSyncChangesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
