package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/reviewiq/internal/metrics"
	"github.com/kalambet/reviewiq/internal/storage"
)

// TypeScrapeAndReport is the only task type: scrape a listing, publish a
// report and notify the customer.
const TypeScrapeAndReport = "scrape-and-report"

// ErrUnknownTaskType is returned for task types with no registered meaning.
var ErrUnknownTaskType = errors.New("unknown task type")

var knownTypes = map[string]bool{
	TypeScrapeAndReport: true,
}

// Store is the repository the queue persists tasks in.
type Store interface {
	EnqueueTask(taskType, payloadJSON string) (int64, error)
	NextPendingTask() (*storage.Task, error)
	GetTask(id int64) (storage.Task, error)
	MarkTaskProcessing(id int64) error
	MarkTaskCompleted(id int64, result string) error
	MarkTaskFailed(id int64, errMsg string) (int, error)
	RequeueTask(id int64) (bool, error)
	StaleProcessingTasks(cutoff time.Time) ([]storage.Task, error)
}

// ScrapePayload is the payload of a scrape-and-report task.
type ScrapePayload struct {
	OrderID        string `json:"order_id"`
	Email          string `json:"email"`
	URL            string `json:"url"`
	RestaurantName string `json:"restaurant_name"`
}

func (p ScrapePayload) Validate() error {
	switch {
	case p.OrderID == "":
		return errors.New("order_id is required")
	case p.URL == "":
		return errors.New("url is required")
	case p.Email == "":
		return errors.New("email is required")
	}
	return nil
}

// DecodeScrapePayload parses and validates a task payload.
func DecodeScrapePayload(payloadJSON string) (ScrapePayload, error) {
	var p ScrapePayload
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return ScrapePayload{}, fmt.Errorf("parsing payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return ScrapePayload{}, fmt.Errorf("invalid payload: %w", err)
	}
	return p, nil
}

// Queue is a durable FIFO of tasks. Enqueue and Requeue wake a consumer
// blocked in Wait.
type Queue struct {
	store Store
	wake  chan struct{}
}

func New(store Store) *Queue {
	return &Queue{
		store: store,
		wake:  make(chan struct{}, 1),
	}
}

// Enqueue appends a pending task with payload encoded as JSON.
func (q *Queue) Enqueue(taskType string, payload any) (int64, error) {
	if !knownTypes[taskType] {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding payload: %w", err)
	}
	id, err := q.store.EnqueueTask(taskType, string(data))
	if err != nil {
		return 0, fmt.Errorf("enqueueing %s task: %w", taskType, err)
	}
	metrics.TasksEnqueuedTotal.WithLabelValues(taskType).Inc()
	q.signal()
	return id, nil
}

// EnqueueScrape validates p and enqueues a scrape-and-report task.
func (q *Queue) EnqueueScrape(p ScrapePayload) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, fmt.Errorf("invalid payload: %w", err)
	}
	return q.Enqueue(TypeScrapeAndReport, p)
}

// DequeueNextPending returns the oldest pending task without changing its
// status, or nil when the queue is empty.
func (q *Queue) DequeueNextPending() (*storage.Task, error) {
	return q.store.NextPendingTask()
}

func (q *Queue) Get(id int64) (storage.Task, error) {
	return q.store.GetTask(id)
}

func (q *Queue) MarkProcessing(id int64) error {
	return q.store.MarkTaskProcessing(id)
}

func (q *Queue) MarkCompleted(id int64, result string) error {
	return q.store.MarkTaskCompleted(id, result)
}

// MarkFailed records errMsg and returns the incremented retry count.
func (q *Queue) MarkFailed(id int64, errMsg string) (int, error) {
	return q.store.MarkTaskFailed(id, errMsg)
}

// Requeue resets a failed task to pending when it has retries left.
func (q *Queue) Requeue(id int64) (bool, error) {
	ok, err := q.store.RequeueTask(id)
	if ok {
		q.signal()
	}
	return ok, err
}

// Stale returns processing tasks that started before cutoff.
func (q *Queue) Stale(cutoff time.Time) ([]storage.Task, error) {
	return q.store.StaleProcessingTasks(cutoff)
}

// Wait blocks until a task is enqueued, d elapses, or ctx is done. It
// reports whether it was woken by an enqueue.
func (q *Queue) Wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-q.wake:
		return true
	case <-timer.C:
		return false
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
