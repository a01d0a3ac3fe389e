package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/reviewiq/internal/queue"
	"github.com/kalambet/reviewiq/internal/storage"
)

func openTestQueue(t *testing.T) (*queue.Queue, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return queue.New(s), s
}

func enqueueTestTask(t *testing.T, q *queue.Queue) int64 {
	t.Helper()
	id, err := q.EnqueueScrape(queue.ScrapePayload{
		OrderID: "a1b2c3d4",
		Email:   "owner@example.com",
		URL:     "https://example.com/restaurant",
	})
	if err != nil {
		t.Fatalf("EnqueueScrape: %v", err)
	}
	return id
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) listen(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type kindError struct{}

func (kindError) Error() string { return "navigation timed out" }
func (kindError) Kind() string  { return "SessionError" }

func TestWorker_CompletesTask(t *testing.T) {
	q, store := openTestQueue(t)
	id := enqueueTestTask(t, q)

	rec := &eventRecorder{}
	w := New(q, Options{})
	w.Subscribe(rec.listen)
	w.Handle(queue.TypeScrapeAndReport, HandlerFunc(func(_ context.Context, task storage.Task) (string, error) {
		if task.Status != storage.TaskProcessing {
			t.Errorf("handler saw status %q, want processing", task.Status)
		}
		return `{"report_id":"r1"}`, nil
	}))

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	task, _ := store.GetTask(id)
	if task.Status != storage.TaskCompleted {
		t.Errorf("got status %q, want completed", task.Status)
	}
	if task.Result != `{"report_id":"r1"}` {
		t.Errorf("got result %q", task.Result)
	}

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if ev := events[0]; ev.Status != storage.TaskCompleted || !ev.Terminal || ev.TaskID != id {
		t.Errorf("got event %+v", ev)
	}
}

func TestWorker_EmptyQueue(t *testing.T) {
	q, _ := openTestQueue(t)
	w := New(q, Options{})

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true on an empty queue")
	}
}

func TestWorker_FailTwiceThenSucceed(t *testing.T) {
	q, store := openTestQueue(t)
	id := enqueueTestTask(t, q)

	var calls atomic.Int32
	w := New(q, Options{})
	w.Handle(queue.TypeScrapeAndReport, HandlerFunc(func(context.Context, storage.Task) (string, error) {
		n := calls.Add(1)
		if n <= 2 {
			return "", fmt.Errorf("transient error %d", n)
		}
		return "ok", nil
	}))

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		if _, err := w.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
		task, _ := store.GetTask(id)
		if task.Status != storage.TaskPending {
			t.Fatalf("after attempt %d: got status %q, want pending", i, task.Status)
		}
		if task.RetryCount != i {
			t.Fatalf("after attempt %d: got retry_count %d, want %d", i, task.RetryCount, i)
		}
		want := fmt.Sprintf("Error: transient error %d", i)
		if task.Error != want {
			t.Errorf("after attempt %d: got error %q, want %q", i, task.Error, want)
		}
	}

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce 3: %v", err)
	}
	task, _ := store.GetTask(id)
	if task.Status != storage.TaskCompleted {
		t.Errorf("got status %q, want completed", task.Status)
	}
	if task.RetryCount != 2 {
		t.Errorf("got retry_count %d, want 2", task.RetryCount)
	}
	if task.Result != "ok" || task.Error != "" {
		t.Errorf("got result %q error %q, want result only", task.Result, task.Error)
	}
}

func TestWorker_ExhaustsRetries(t *testing.T) {
	q, store := openTestQueue(t)
	id := enqueueTestTask(t, q)

	rec := &eventRecorder{}
	w := New(q, Options{})
	w.Subscribe(rec.listen)
	w.Handle(queue.TypeScrapeAndReport, HandlerFunc(func(context.Context, storage.Task) (string, error) {
		return "", kindError{}
	}))

	ctx := context.Background()
	for i := 0; i < storage.MaxTaskRetries; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil || !didWork {
			t.Fatalf("RunOnce %d: didWork=%v err=%v", i, didWork, err)
		}
	}

	didWork, _ := w.RunOnce(ctx)
	if didWork {
		t.Error("exhausted task was dequeued again")
	}

	task, _ := store.GetTask(id)
	if task.Status != storage.TaskFailed {
		t.Errorf("got status %q, want failed", task.Status)
	}
	if task.RetryCount != storage.MaxTaskRetries {
		t.Errorf("got retry_count %d, want %d", task.RetryCount, storage.MaxTaskRetries)
	}
	if task.Error != "SessionError: navigation timed out" {
		t.Errorf("got error %q", task.Error)
	}

	events := rec.all()
	if len(events) != storage.MaxTaskRetries {
		t.Fatalf("got %d events, want %d", len(events), storage.MaxTaskRetries)
	}
	for i, ev := range events {
		wantTerminal := i == len(events)-1
		if ev.Terminal != wantTerminal {
			t.Errorf("event %d: got terminal=%v, want %v", i, ev.Terminal, wantTerminal)
		}
		if ev.RetryCount != i+1 {
			t.Errorf("event %d: got retry_count %d, want %d", i, ev.RetryCount, i+1)
		}
	}
}

func TestWorker_RecoversPanic(t *testing.T) {
	q, store := openTestQueue(t)
	id := enqueueTestTask(t, q)

	w := New(q, Options{})
	w.Handle(queue.TypeScrapeAndReport, HandlerFunc(func(context.Context, storage.Task) (string, error) {
		panic("nil page")
	}))

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	task, _ := store.GetTask(id)
	if task.Error != "PanicError: handler panicked: nil page" {
		t.Errorf("got error %q", task.Error)
	}
	if task.RetryCount != 1 || task.Status != storage.TaskPending {
		t.Errorf("got status %q retry_count %d, want pending 1", task.Status, task.RetryCount)
	}
}

func TestWorker_UnknownTaskType(t *testing.T) {
	q, store := openTestQueue(t)
	id, err := store.EnqueueTask("mystery", "{}")
	if err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}

	w := New(q, Options{})
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	task, _ := store.GetTask(id)
	if !strings.HasPrefix(task.Error, "Error: unknown task type") {
		t.Errorf("got error %q", task.Error)
	}
}

func TestWorker_OrphanSweep(t *testing.T) {
	q, store := openTestQueue(t)
	id := enqueueTestTask(t, q)
	if err := q.MarkProcessing(id); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	w := New(q, Options{OrphanTimeout: 30 * time.Minute})
	w.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	w.sweepOrphans(context.Background())

	task, _ := store.GetTask(id)
	if task.Status != storage.TaskPending {
		t.Errorf("got status %q, want pending", task.Status)
	}
	if task.RetryCount != 1 {
		t.Errorf("got retry_count %d, want 1", task.RetryCount)
	}
	if !strings.HasPrefix(task.Error, "OrphanedError: ") {
		t.Errorf("got error %q", task.Error)
	}
}

func TestWorker_OrphanSweepIgnoresFreshTasks(t *testing.T) {
	q, store := openTestQueue(t)
	id := enqueueTestTask(t, q)
	q.MarkProcessing(id)

	w := New(q, Options{OrphanTimeout: 30 * time.Minute})
	w.sweepOrphans(context.Background())

	task, _ := store.GetTask(id)
	if task.Status != storage.TaskProcessing {
		t.Errorf("got status %q, want processing", task.Status)
	}
}

func TestWorker_RunWakesOnEnqueue(t *testing.T) {
	q, store := openTestQueue(t)

	processed := make(chan int64, 1)
	w := New(q, Options{PollInterval: time.Hour})
	w.Handle(queue.TypeScrapeAndReport, HandlerFunc(func(_ context.Context, task storage.Task) (string, error) {
		processed <- task.ID
		return "ok", nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	time.Sleep(20 * time.Millisecond)
	id := enqueueTestTask(t, q)

	select {
	case got := <-processed:
		if got != id {
			t.Errorf("processed task %d, want %d", got, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task not processed; worker did not wake on enqueue")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	task, _ := store.GetTask(id)
	if task.Status != storage.TaskCompleted {
		t.Errorf("got status %q, want completed", task.Status)
	}
}

func TestFormatError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.New("boom"), "Error: boom"},
		{kindError{}, "SessionError: navigation timed out"},
		{fmt.Errorf("scraping: %w", kindError{}), "SessionError: scraping: navigation timed out"},
		{&PanicError{Value: 42}, "PanicError: handler panicked: 42"},
	}
	for _, tt := range tests {
		if got := FormatError(tt.err); got != tt.want {
			t.Errorf("FormatError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestLogExhausted(t *testing.T) {
	var buf bytes.Buffer
	l := LogExhausted(slog.New(slog.NewTextHandler(&buf, nil)))

	l(context.Background(), Event{TaskID: 1, Status: storage.TaskFailed, RetryCount: 1})
	if buf.Len() != 0 {
		t.Errorf("logged for a retryable failure: %s", buf.String())
	}

	l(context.Background(), Event{TaskID: 2, Status: storage.TaskFailed, RetryCount: 3, Terminal: true, Error: "Error: x"})
	if !strings.Contains(buf.String(), "task_id=2") {
		t.Errorf("expected exhausted log line, got %q", buf.String())
	}
}
