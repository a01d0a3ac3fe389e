package storage

import (
	"errors"
	"testing"
	"time"
)

func TestCreateAndGetOrder(t *testing.T) {
	s := openTestStore(t)

	o, err := s.CreateOrder(Order{
		ID:             "a1b2c3d4",
		Email:          "owner@example.com",
		RestaurantURL:  "https://www.tripadvisor.com/Restaurant_Review-x",
		RestaurantName: "Konoba",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.Status != OrderPending {
		t.Errorf("got status %q, want pending", o.Status)
	}
	if o.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}

	got, err := s.GetOrder("a1b2c3d4")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Email != "owner@example.com" || got.RestaurantName != "Konoba" {
		t.Errorf("got %+v", got)
	}
	if got.ReportID != "" || got.ExpiresAt != nil {
		t.Errorf("expected no report on a fresh order, got %+v", got)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetOrder("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestCompleteOrder(t *testing.T) {
	s := openTestStore(t)
	s.CreateOrder(Order{ID: "o1", Email: "a@b.c", RestaurantURL: "u"})

	expires := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	if err := s.CompleteOrder("o1", "r1", "https://reviewiq.hr/r/r1", expires); err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}

	o, _ := s.GetOrder("o1")
	if o.Status != OrderCompleted {
		t.Errorf("got status %q, want completed", o.Status)
	}
	if o.ReportID != "r1" || o.ReportURL != "https://reviewiq.hr/r/r1" {
		t.Errorf("got report %q %q", o.ReportID, o.ReportURL)
	}
	if o.ExpiresAt == nil || !o.ExpiresAt.Equal(expires) {
		t.Errorf("got expires_at %v, want %v", o.ExpiresAt, expires)
	}

	// A completed order keeps its status.
	if err := s.UpdateOrderStatus("o1", OrderFailed); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	o, _ = s.GetOrder("o1")
	if o.Status != OrderCompleted {
		t.Errorf("got status %q after late failure, want completed", o.Status)
	}
}

func TestUpdateOrderStatus_NotFound(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpdateOrderStatus("missing", OrderProcessing); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if err := s.CompleteOrder("missing", "r", "u", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestListOrders(t *testing.T) {
	s := openTestStore(t)
	advance := fixedClock(s, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	s.CreateOrder(Order{ID: "o1", Email: "a@b.c", RestaurantURL: "u"})
	advance(time.Minute)
	s.CreateOrder(Order{ID: "o2", Email: "a@b.c", RestaurantURL: "u"})
	s.UpdateOrderStatus("o2", OrderProcessing)

	all, err := s.ListOrders("")
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(all) != 2 || all[0].ID != "o2" {
		t.Errorf("got %v, want o2 first", all)
	}

	processing, _ := s.ListOrders(OrderProcessing)
	if len(processing) != 1 || processing[0].ID != "o2" {
		t.Errorf("got %v, want only o2", processing)
	}
}
