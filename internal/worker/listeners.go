package worker

import (
	"context"
	"log/slog"

	"github.com/kalambet/reviewiq/internal/metrics"
	"github.com/kalambet/reviewiq/internal/storage"
)

// RecordMetrics counts task outcomes.
func RecordMetrics(_ context.Context, ev Event) {
	metrics.TasksProcessedTotal.WithLabelValues(ev.Type, string(ev.Status)).Inc()
	if ev.Status == storage.TaskFailed && ev.Terminal {
		metrics.TasksExhaustedTotal.WithLabelValues(ev.Type).Inc()
	}
}

// LogExhausted logs an operator-facing error line when a task fails for the
// last time.
func LogExhausted(logger *slog.Logger) Listener {
	return func(_ context.Context, ev Event) {
		if ev.Status != storage.TaskFailed || !ev.Terminal {
			return
		}
		logger.Error("task exhausted retries, manual intervention required",
			"task_id", ev.TaskID, "type", ev.Type, "retry_count", ev.RetryCount, "error", ev.Error)
	}
}
