package storage

import (
	"errors"
	"testing"
	"time"
)

func TestUpsertReport_KeepsIdentity(t *testing.T) {
	s := openTestStore(t)
	advance := fixedClock(s, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	s.CreateOrder(Order{ID: "o1", Email: "a@b.c", RestaurantURL: "u"})

	expires := time.Date(2024, 7, 30, 0, 0, 0, 0, time.UTC)
	first, err := s.UpsertReport(Report{
		ID:               "rep000000001",
		OrderID:          "o1",
		RestaurantName:   "Konoba",
		TotalReviews:     10,
		DistinctOrigins:  3,
		MeanRating:       4.5,
		PositiveFraction: 0.85,
		DatasetPath:      "/tmp/o1/reviews.csv",
		ExpiresAt:        expires,
	})
	if err != nil {
		t.Fatalf("UpsertReport: %v", err)
	}
	if first.PositiveComputed {
		t.Error("expected positive_computed false")
	}
	if _, err := s.IncrementReportViews(first.ID); err != nil {
		t.Fatalf("IncrementReportViews: %v", err)
	}

	advance(time.Hour)
	second, err := s.UpsertReport(Report{
		ID:              "different000",
		OrderID:         "o1",
		RestaurantName:  "Konoba",
		TotalReviews:    12,
		DistinctOrigins: 4,
		MeanRating:      4.0,
		ExpiresAt:       expires.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("second UpsertReport: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("got id %q, want %q", second.ID, first.ID)
	}
	if !second.ExpiresAt.Equal(expires) {
		t.Errorf("got expires_at %v, want %v", second.ExpiresAt, expires)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("updated_at not advanced: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}
	if second.TotalReviews != 12 || second.DistinctOrigins != 4 {
		t.Errorf("figures not replaced: %+v", second)
	}
	if second.ViewCount != 1 {
		t.Errorf("got view_count %d, want 1", second.ViewCount)
	}
}

func TestGetReport_NotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetReport("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetReport: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetReportByOrder("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetReportByOrder: got %v, want ErrNotFound", err)
	}
	if _, err := s.IncrementReportViews("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("IncrementReportViews: got %v, want ErrNotFound", err)
	}
}
