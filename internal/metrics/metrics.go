package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winlog_events_total",
			Help: "Total number of events received",
		},
		[]string{"action", "status"},
	)

	EventBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "winlog_event_bytes_total",
			Help: "Total bytes of event data received",
		},
	)

	// Correlation metrics
	AutoClosedSessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "winlog_sessions_autoclosed_total",
			Help: "Total number of stale sessions closed by a new connect",
		},
	)

	OrphanDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "winlog_orphan_disconnects_total",
			Help: "Total number of disconnects that matched no open session",
		},
	)

	CorrelationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "winlog_correlation_duration_seconds",
			Help:    "Duration of session correlation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Storage metrics
	StorageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "winlog_storage_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StorageErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "winlog_storage_errors_total",
			Help: "Total number of storage errors",
		},
	)

	// Locking metrics
	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "winlog_lock_wait_duration_seconds",
			Help:    "Time spent waiting for a per-session-key lock",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"mode"},
	)

	LockErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winlog_lock_errors_total",
			Help: "Total number of failed lock acquisitions",
		},
		[]string{"mode"},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "winlog_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
	)

	// Notification metrics
	NotificationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winlog_notification_errors_total",
			Help: "Total number of failed lifecycle notifications",
		},
		[]string{"subject"},
	)
)
