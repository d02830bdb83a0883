// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "extraction_tasks_submitted_total",
			Help: "Total number of extraction tasks accepted for execution",
		},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_tasks_completed_total",
			Help: "Total number of extraction tasks that reached SUCCESS",
		},
		[]string{"provider"},
	)

	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_tasks_failed_total",
			Help: "Total number of extraction tasks that reached FAILURE",
		},
		[]string{"provider", "error_code"},
	)

	TasksRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "extraction_tasks_revoked_total",
			Help: "Total number of extraction tasks cancelled before completion",
		},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "extraction_task_duration_seconds",
			Help: "Duration of extraction task processing in seconds",
		},
		[]string{"provider"},
	)

	TasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "extraction_tasks_active",
			Help: "Number of extraction tasks currently executing",
		},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_cache_hits_total",
			Help: "Total number of result cache hits",
		},
		[]string{"backend"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_cache_misses_total",
			Help: "Total number of result cache misses",
		},
		[]string{"backend"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	DownloadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "document_download_bytes",
			Help:    "Size of downloaded documents in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)
)
