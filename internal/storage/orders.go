package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const orderColumns = `id, email, restaurant_url, restaurant_name, status, report_id, report_url, expires_at, created_at, updated_at`

func scanOrder(row rowScanner) (Order, error) {
	var o Order
	var reportID, reportURL, expiresAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&o.ID, &o.Email, &o.RestaurantURL, &o.RestaurantName, &o.Status,
		&reportID, &reportURL, &expiresAt, &createdAt, &updatedAt); err != nil {
		return Order{}, err
	}

	var err error
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return Order{}, fmt.Errorf("parsing created_at for order %s: %w", o.ID, err)
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Order{}, fmt.Errorf("parsing updated_at for order %s: %w", o.ID, err)
	}
	if o.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return Order{}, fmt.Errorf("parsing expires_at for order %s: %w", o.ID, err)
	}
	o.ReportID = reportID.String
	o.ReportURL = reportURL.String
	return o, nil
}

// CreateOrder inserts an order. An empty status defaults to pending.
// CreatedAt and UpdatedAt are set by the store.
func (s *Store) CreateOrder(o Order) (Order, error) {
	if o.Status == "" {
		o.Status = OrderPending
	}
	ts := s.timestamp()
	if _, err := s.db.Exec(`
		INSERT INTO orders (id, email, restaurant_url, restaurant_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Email, o.RestaurantURL, o.RestaurantName, o.Status, ts, ts,
	); err != nil {
		return Order{}, fmt.Errorf("inserting order %s: %w", o.ID, err)
	}
	return s.GetOrder(o.ID)
}

func (s *Store) GetOrder(id string) (Order, error) {
	o, err := scanOrder(s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// ListOrders returns orders newest first. An empty status lists every order.
func (s *Store) ListOrders(status OrderStatus) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateOrderStatus sets the order status. A completed order never moves back.
func (s *Store) UpdateOrderStatus(id string, status OrderStatus) error {
	res, err := s.db.Exec(`UPDATE orders SET status = ?, updated_at = ?
		WHERE id = ? AND status != 'completed'`, status, s.timestamp(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetOrder(id); err != nil {
			return err
		}
	}
	return nil
}

// CompleteOrder attaches the published report and marks the order completed.
func (s *Store) CompleteOrder(id, reportID, reportURL string, expiresAt time.Time) error {
	res, err := s.db.Exec(`UPDATE orders
		SET status = 'completed', report_id = ?, report_url = ?, expires_at = ?, updated_at = ?
		WHERE id = ?`, reportID, reportURL, formatTime(expiresAt), s.timestamp(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
