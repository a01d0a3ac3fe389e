package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksEnqueuedTotal counts tasks appended to the queue.
	TasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewiq_tasks_enqueued_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"task_type"},
	)

	// TasksProcessedTotal counts finished task attempts by outcome.
	TasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewiq_tasks_processed_total",
			Help: "Total number of task attempts processed by the worker",
		},
		[]string{"task_type", "status"}, // completed or failed
	)

	// TasksExhaustedTotal counts tasks that failed with no retries left.
	TasksExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewiq_tasks_exhausted_total",
			Help: "Total number of tasks left failed after exhausting retries",
		},
		[]string{"task_type"},
	)

	// TasksOrphanedTotal counts processing tasks recovered by the orphan sweep.
	TasksOrphanedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reviewiq_tasks_orphaned_total",
			Help: "Total number of stale processing tasks failed by the orphan sweep",
		},
	)

	TaskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reviewiq_task_duration_seconds",
			Help:    "Histogram of task handler duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"task_type"},
	)

	// ScrapePagesTotal counts listing pages visited by scraper sessions.
	ScrapePagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reviewiq_scrape_pages_total",
			Help: "Total number of listing pages collected",
		},
	)

	// ScrapeRecordsTotal counts candidate records by outcome (kept or dropped).
	ScrapeRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewiq_scrape_records_total",
			Help: "Total number of review records seen by scraper sessions",
		},
		[]string{"outcome"},
	)

	// LocationLookupsTotal counts reviewer location resolutions by source.
	LocationLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewiq_location_lookups_total",
			Help: "Reviewer location lookups by source (inline, cache, profile, default)",
		},
		[]string{"source"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewiq_notifications_total",
			Help: "Report notifications by backend and status",
		},
		[]string{"backend", "status"},
	)
)
