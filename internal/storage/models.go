package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a task status change is not allowed
// from the task's current status.
var ErrInvalidTransition = errors.New("invalid task status transition")

// MaxTaskRetries caps retry_count. A failed task at the cap is terminal.
const MaxTaskRetries = 3

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether s is completed or failed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

type Task struct {
	ID          int64      `json:"id"`
	Type        string     `json:"type"`
	PayloadJSON string     `json:"payload"`
	Status      TaskStatus `json:"status"`
	RetryCount  int        `json:"retry_count"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Exhausted reports whether the task has failed with no retries left.
func (t Task) Exhausted() bool {
	return t.Status == TaskFailed && t.RetryCount >= MaxTaskRetries
}

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderFailed     OrderStatus = "failed"
)

type Order struct {
	ID             string      `json:"id"`
	Email          string      `json:"email"`
	RestaurantURL  string      `json:"restaurant_url"`
	RestaurantName string      `json:"restaurant_name"`
	Status         OrderStatus `json:"status"`
	ReportID       string      `json:"report_id,omitempty"`
	ReportURL      string      `json:"report_url,omitempty"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Report is the persisted form of a report summary. There is at most one
// report per order.
type Report struct {
	ID               string    `json:"id"`
	OrderID          string    `json:"order_id"`
	RestaurantName   string    `json:"restaurant_name"`
	TotalReviews     int       `json:"total_reviews"`
	DistinctOrigins  int       `json:"distinct_origin_count"`
	MeanRating       float64   `json:"mean_rating"`
	PositiveFraction float64   `json:"positive_fraction"`
	PositiveComputed bool      `json:"positive_fraction_computed"`
	DatasetPath      string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	ViewCount        int       `json:"view_count"`
}
