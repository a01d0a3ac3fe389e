// Package notify delivers report-ready emails to customers and new-order
// notices to the operator.
package notify

import (
	"context"
	"fmt"

	"github.com/kalambet/reviewiq/internal/metrics"
)

// Delivery is a finished report to announce to a customer.
type Delivery struct {
	To             string
	RestaurantName string
	ReportURL      string
	DatasetURL     string
}

// OrderNotice tells the operator about a newly accepted order.
type OrderNotice struct {
	OrderID       string
	Email         string
	RestaurantURL string
}

type Notifier interface {
	ReportReady(ctx context.Context, d Delivery) error
	// OrderReceived is best effort; backends without an operator address
	// return nil.
	OrderReceived(ctx context.Context, n OrderNotice) error
}

// DeliveryError is a failed send. It fails the task that triggered it.
type DeliveryError struct {
	Backend string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Backend, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Kind() string { return "DeliveryError" }

func observe(backend string, err error) error {
	status := "sent"
	if err != nil {
		status = "failed"
		err = &DeliveryError{Backend: backend, Err: err}
	}
	metrics.NotificationsTotal.WithLabelValues(backend, status).Inc()
	return err
}
