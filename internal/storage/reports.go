package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

const reportColumns = `id, order_id, restaurant_name, total_reviews, distinct_origins, mean_rating,
	positive_fraction, positive_computed, dataset_path, created_at, updated_at, expires_at, view_count`

func scanReport(row rowScanner) (Report, error) {
	var r Report
	var computed int
	var createdAt, updatedAt, expiresAt string
	if err := row.Scan(&r.ID, &r.OrderID, &r.RestaurantName, &r.TotalReviews, &r.DistinctOrigins,
		&r.MeanRating, &r.PositiveFraction, &computed, &r.DatasetPath,
		&createdAt, &updatedAt, &expiresAt, &r.ViewCount); err != nil {
		return Report{}, err
	}
	r.PositiveComputed = computed != 0

	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return Report{}, fmt.Errorf("parsing created_at for report %s: %w", r.ID, err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Report{}, fmt.Errorf("parsing updated_at for report %s: %w", r.ID, err)
	}
	if r.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return Report{}, fmt.Errorf("parsing expires_at for report %s: %w", r.ID, err)
	}
	return r, nil
}

// UpsertReport stores the report for r.OrderID. When the order already has a
// report, its id, created_at, expires_at and view_count are kept and the
// figures are replaced. The stored row is returned.
func (s *Store) UpsertReport(r Report) (Report, error) {
	ts := s.timestamp()
	computed := 0
	if r.PositiveComputed {
		computed = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO reports (id, order_id, restaurant_name, total_reviews, distinct_origins, mean_rating,
			positive_fraction, positive_computed, dataset_path, created_at, updated_at, expires_at, view_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(order_id) DO UPDATE SET
			restaurant_name = excluded.restaurant_name,
			total_reviews = excluded.total_reviews,
			distinct_origins = excluded.distinct_origins,
			mean_rating = excluded.mean_rating,
			positive_fraction = excluded.positive_fraction,
			positive_computed = excluded.positive_computed,
			dataset_path = excluded.dataset_path,
			updated_at = excluded.updated_at`,
		r.ID, r.OrderID, r.RestaurantName, r.TotalReviews, r.DistinctOrigins, r.MeanRating,
		r.PositiveFraction, computed, r.DatasetPath, ts, ts, formatTime(r.ExpiresAt),
	)
	if err != nil {
		return Report{}, fmt.Errorf("upserting report for order %s: %w", r.OrderID, err)
	}
	return s.GetReportByOrder(r.OrderID)
}

func (s *Store) GetReport(id string) (Report, error) {
	r, err := scanReport(s.db.QueryRow(`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, ErrNotFound
	}
	return r, err
}

func (s *Store) GetReportByOrder(orderID string) (Report, error) {
	r, err := scanReport(s.db.QueryRow(`SELECT `+reportColumns+` FROM reports WHERE order_id = ?`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, ErrNotFound
	}
	return r, err
}

// IncrementReportViews bumps the view counter and returns the new value.
func (s *Store) IncrementReportViews(id string) (int, error) {
	var n int
	err := s.db.QueryRow(`UPDATE reports SET view_count = view_count + 1 WHERE id = ? RETURNING view_count`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return n, err
}
