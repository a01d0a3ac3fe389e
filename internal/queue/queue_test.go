package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/reviewiq/internal/storage"
)

func openTestQueue(t *testing.T) (*Queue, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func testPayload() ScrapePayload {
	return ScrapePayload{
		OrderID:        "a1b2c3d4",
		Email:          "owner@example.com",
		URL:            "https://www.tripadvisor.com/Restaurant_Review-g1-d2",
		RestaurantName: "Konoba",
	}
}

func TestEnqueueScrape_RoundTripsPayload(t *testing.T) {
	q, _ := openTestQueue(t)

	id, err := q.EnqueueScrape(testPayload())
	if err != nil {
		t.Fatalf("EnqueueScrape: %v", err)
	}

	task, err := q.DequeueNextPending()
	if err != nil {
		t.Fatalf("DequeueNextPending: %v", err)
	}
	if task == nil || task.ID != id {
		t.Fatalf("got %v, want task %d", task, id)
	}
	if task.Type != TypeScrapeAndReport {
		t.Errorf("got type %q, want %q", task.Type, TypeScrapeAndReport)
	}

	p, err := DecodeScrapePayload(task.PayloadJSON)
	if err != nil {
		t.Fatalf("DecodeScrapePayload: %v", err)
	}
	if p != testPayload() {
		t.Errorf("got %+v, want %+v", p, testPayload())
	}
}

func TestEnqueue_UnknownType(t *testing.T) {
	q, _ := openTestQueue(t)

	_, err := q.Enqueue("send-invoice", map[string]string{})
	if !errors.Is(err, ErrUnknownTaskType) {
		t.Errorf("got %v, want ErrUnknownTaskType", err)
	}
}

func TestEnqueueScrape_Validates(t *testing.T) {
	q, _ := openTestQueue(t)

	p := testPayload()
	p.URL = ""
	if _, err := q.EnqueueScrape(p); err == nil {
		t.Error("expected error for missing url")
	}
}

func TestDecodeScrapePayload_Invalid(t *testing.T) {
	if _, err := DecodeScrapePayload("{not json"); err == nil {
		t.Error("expected error for malformed json")
	}
	if _, err := DecodeScrapePayload(`{"url":"x"}`); err == nil {
		t.Error("expected error for missing order_id")
	}
}

func TestWait_WokenByEnqueue(t *testing.T) {
	q, _ := openTestQueue(t)

	done := make(chan bool, 1)
	go func() {
		done <- q.Wait(context.Background(), 10*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := q.EnqueueScrape(testPayload()); err != nil {
		t.Fatalf("EnqueueScrape: %v", err)
	}

	select {
	case woken := <-done:
		if !woken {
			t.Error("Wait returned false, want woken by enqueue")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after enqueue")
	}
}

func TestWait_TimesOut(t *testing.T) {
	q, _ := openTestQueue(t)

	start := time.Now()
	if q.Wait(context.Background(), 30*time.Millisecond) {
		t.Error("Wait returned true with nothing enqueued")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Wait returned after %v, want >= 30ms", elapsed)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	q, _ := openTestQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if q.Wait(ctx, 10*time.Second) {
		t.Error("Wait returned true on cancelled context")
	}
}

func TestRequeue_SignalsWaiter(t *testing.T) {
	q, _ := openTestQueue(t)

	id, _ := q.EnqueueScrape(testPayload())
	// Drain the enqueue signal.
	q.Wait(context.Background(), time.Millisecond)

	q.MarkProcessing(id)
	if _, err := q.MarkFailed(id, "Error: boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	ok, err := q.Requeue(id)
	if err != nil || !ok {
		t.Fatalf("Requeue: ok=%v err=%v", ok, err)
	}
	if !q.Wait(context.Background(), time.Second) {
		t.Error("expected Requeue to wake the waiter")
	}
}
