package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kalambet/reviewiq/internal/metrics"
	"github.com/kalambet/reviewiq/internal/queue"
	"github.com/kalambet/reviewiq/internal/storage"
)

var tracer = otel.Tracer("reviewiq/worker")

// DefaultPollInterval is how long the worker waits on an empty queue before
// looking again when no enqueue wakes it.
const DefaultPollInterval = 5 * time.Second

// TaskQueue abstracts the queue operations the worker drives.
type TaskQueue interface {
	DequeueNextPending() (*storage.Task, error)
	MarkProcessing(id int64) error
	MarkCompleted(id int64, result string) error
	MarkFailed(id int64, errMsg string) (int, error)
	Requeue(id int64) (bool, error)
	Stale(cutoff time.Time) ([]storage.Task, error)
	Wait(ctx context.Context, d time.Duration) bool
}

// Handler executes one task and returns its result string.
type Handler interface {
	Handle(ctx context.Context, task storage.Task) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task storage.Task) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, task storage.Task) (string, error) {
	return f(ctx, task)
}

// Event describes the outcome of one task attempt.
type Event struct {
	TaskID     int64
	Type       string
	Status     storage.TaskStatus
	Result     string
	Error      string
	RetryCount int
	// Terminal is true when the task will not run again.
	Terminal bool
}

// Listener receives an Event after every task attempt.
type Listener func(ctx context.Context, ev Event)

type Options struct {
	PollInterval time.Duration
	// OrphanTimeout is how long a task may stay in processing before the
	// sweep fails it. Zero disables the sweep.
	OrphanTimeout time.Duration
}

// Worker is the single consumer of the task queue.
type Worker struct {
	queue         TaskQueue
	handlers      map[string]Handler
	listeners     []Listener
	poll          time.Duration
	orphanTimeout time.Duration
	lastSweep     time.Time
	now           func() time.Time
	logger        *slog.Logger
}

// New creates a Worker. If opts.PollInterval is <= 0 it defaults to
// DefaultPollInterval.
func New(q TaskQueue, opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Worker{
		queue:         q,
		handlers:      make(map[string]Handler),
		poll:          opts.PollInterval,
		orphanTimeout: opts.OrphanTimeout,
		now:           time.Now,
		logger:        slog.Default(),
	}
}

// Handle registers h for tasks of taskType.
func (w *Worker) Handle(taskType string, h Handler) {
	w.handlers[taskType] = h
}

// Subscribe adds a listener. Listeners run synchronously on the worker
// goroutine after the queue has been updated.
func (w *Worker) Subscribe(l Listener) {
	w.listeners = append(w.listeners, l)
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "poll_interval", w.poll, "orphan_timeout", w.orphanTimeout)
	defer w.logger.Info("worker stopped")

	w.sweepOrphans(ctx)
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		w.queue.Wait(ctx, w.poll)
		if w.orphanTimeout > 0 && w.now().Sub(w.lastSweep) >= w.orphanTimeout {
			w.sweepOrphans(ctx)
		}
	}
}

// RunOnce takes the oldest pending task and runs it to a terminal state.
// Returns true if a task was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.queue.DequeueNextPending()
	if err != nil {
		return false, fmt.Errorf("dequeueing task: %w", err)
	}
	if task == nil {
		return false, nil
	}

	if err := w.queue.MarkProcessing(task.ID); err != nil {
		return false, fmt.Errorf("marking task %d processing: %w", task.ID, err)
	}
	task.Status = storage.TaskProcessing

	ctx, span := tracer.Start(ctx, "worker.task")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", strconv.FormatInt(task.ID, 10)),
		attribute.String("task.type", task.Type),
		attribute.Int("task.retry_count", task.RetryCount),
	)

	log := w.logger.With("task_id", task.ID, "type", task.Type)
	log.Info("task started", "retry_count", task.RetryCount)

	start := time.Now()
	result, herr := w.execute(ctx, *task)
	metrics.TaskDurationSeconds.WithLabelValues(task.Type).Observe(time.Since(start).Seconds())

	if herr == nil {
		if err := w.queue.MarkCompleted(task.ID, result); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "marking completed")
			return true, fmt.Errorf("marking task %d completed: %w", task.ID, err)
		}
		log.Info("task completed", "duration", time.Since(start).Round(time.Millisecond))
		w.emit(ctx, Event{
			TaskID:     task.ID,
			Type:       task.Type,
			Status:     storage.TaskCompleted,
			Result:     result,
			RetryCount: task.RetryCount,
			Terminal:   true,
		})
		return true, nil
	}

	span.RecordError(herr)
	span.SetStatus(codes.Error, herr.Error())
	if err := w.fail(ctx, *task, FormatError(herr)); err != nil {
		return true, err
	}
	return true, nil
}

// execute runs the handler on its own goroutine and waits for it. Panics are
// returned as *PanicError.
func (w *Worker) execute(ctx context.Context, task storage.Task) (string, error) {
	h, ok := w.handlers[task.Type]
	if !ok {
		return "", fmt.Errorf("%w: %s", queue.ErrUnknownTaskType, task.Type)
	}

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
		}()
		result, err := h.Handle(ctx, task)
		done <- outcome{result: result, err: err}
	}()

	out := <-done
	return out.result, out.err
}

// fail records errMsg and requeues the task when it has retries left.
func (w *Worker) fail(ctx context.Context, task storage.Task, errMsg string) error {
	retries, err := w.queue.MarkFailed(task.ID, errMsg)
	if err != nil {
		return fmt.Errorf("marking task %d failed: %w", task.ID, err)
	}

	terminal := retries >= storage.MaxTaskRetries
	w.logger.Warn("task failed", "task_id", task.ID, "type", task.Type,
		"retry_count", retries, "terminal", terminal, "error", errMsg)

	if !terminal {
		if _, err := w.queue.Requeue(task.ID); err != nil {
			return fmt.Errorf("requeueing task %d: %w", task.ID, err)
		}
	}

	w.emit(ctx, Event{
		TaskID:     task.ID,
		Type:       task.Type,
		Status:     storage.TaskFailed,
		Error:      errMsg,
		RetryCount: retries,
		Terminal:   terminal,
	})
	return nil
}

// sweepOrphans fails tasks left in processing longer than the orphan timeout,
// typically by a process that crashed mid-task.
func (w *Worker) sweepOrphans(ctx context.Context) {
	if w.orphanTimeout <= 0 {
		return
	}
	w.lastSweep = w.now()

	stale, err := w.queue.Stale(w.lastSweep.Add(-w.orphanTimeout))
	if err != nil {
		w.logger.Error("orphan sweep failed", "error", err)
		return
	}
	for _, task := range stale {
		var age time.Duration
		if task.StartedAt != nil {
			age = w.lastSweep.Sub(*task.StartedAt).Round(time.Second)
		}
		metrics.TasksOrphanedTotal.Inc()
		msg := FormatError(&OrphanedError{StartedFor: age.String()})
		if err := w.fail(ctx, task, msg); err != nil {
			w.logger.Error("failing orphaned task", "task_id", task.ID, "error", err)
		}
	}
}

func (w *Worker) emit(ctx context.Context, ev Event) {
	for _, l := range w.listeners {
		l(ctx, ev)
	}
}
