package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/reviewiq/internal/notify"
	"github.com/kalambet/reviewiq/internal/queue"
	"github.com/kalambet/reviewiq/internal/storage"
	"github.com/kalambet/reviewiq/internal/worker"
)

// OrderRequest is a customer's request for a report.
type OrderRequest struct {
	Email          string `json:"email"`
	URL            string `json:"restaurant_url"`
	RestaurantName string `json:"restaurant_name"`
}

// Validate checks the address and that URL is an absolute http(s) URL.
func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("invalid email %q", r.Email)
	}
	if strings.TrimSpace(r.URL) == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid url %q", r.URL)
	}
	return nil
}

// OrderCreator is the order persistence intake needs.
type OrderCreator interface {
	CreateOrder(o storage.Order) (storage.Order, error)
	UpdateOrderStatus(id string, status storage.OrderStatus) error
}

// Intake turns order requests into orders and queued tasks.
type Intake struct {
	orders   OrderCreator
	queue    *queue.Queue
	notifier notify.Notifier
	newID    func() string
	logger   *slog.Logger
}

func NewIntake(orders OrderCreator, q *queue.Queue, notifier notify.Notifier) *Intake {
	return &Intake{
		orders:   orders,
		queue:    q,
		notifier: notifier,
		newID:    NewOrderID,
		logger:   slog.Default(),
	}
}

// NewOrderID returns an 8-character order identifier.
func NewOrderID() string {
	return uuid.NewString()[:8]
}

// EnqueueOrder creates a processing order for req and queues its
// scrape-and-report task. If the task cannot be queued the order is marked
// failed. The operator notice is best effort.
func (in *Intake) EnqueueOrder(ctx context.Context, req OrderRequest) (storage.Order, int64, error) {
	if err := req.Validate(); err != nil {
		return storage.Order{}, 0, err
	}
	name := RestaurantName(queue.ScrapePayload{URL: req.URL, RestaurantName: req.RestaurantName})

	order, err := in.orders.CreateOrder(storage.Order{
		ID:             in.newID(),
		Email:          req.Email,
		RestaurantURL:  req.URL,
		RestaurantName: name,
		Status:         storage.OrderProcessing,
	})
	if err != nil {
		return storage.Order{}, 0, fmt.Errorf("creating order: %w", err)
	}

	taskID, err := in.queue.EnqueueScrape(queue.ScrapePayload{
		OrderID:        order.ID,
		Email:          order.Email,
		URL:            order.RestaurantURL,
		RestaurantName: name,
	})
	if err != nil {
		// No task will ever finish this order.
		if ferr := in.orders.UpdateOrderStatus(order.ID, storage.OrderFailed); ferr != nil {
			in.logger.Error("failing unqueued order", "order_id", order.ID, "error", ferr)
		}
		return storage.Order{}, 0, fmt.Errorf("queueing order %s: %w", order.ID, err)
	}
	in.logger.Info("order queued", "order_id", order.ID, "task_id", taskID)

	if err := in.notifier.OrderReceived(ctx, notify.OrderNotice{
		OrderID:       order.ID,
		Email:         order.Email,
		RestaurantURL: order.RestaurantURL,
	}); err != nil {
		in.logger.Warn("order notice failed", "order_id", order.ID, "error", err)
	}
	return order, taskID, nil
}

// TaskSource looks tasks up by id.
type TaskSource interface {
	Get(id int64) (storage.Task, error)
}

// FailOrders marks the order of a terminally failed scrape task as failed.
func FailOrders(orders OrderStore, tasks TaskSource) worker.Listener {
	logger := slog.Default()
	return func(_ context.Context, ev worker.Event) {
		if ev.Status != storage.TaskFailed || !ev.Terminal || ev.Type != queue.TypeScrapeAndReport {
			return
		}
		task, err := tasks.Get(ev.TaskID)
		if err != nil {
			logger.Error("loading failed task", "task_id", ev.TaskID, "error", err)
			return
		}
		p, err := queue.DecodeScrapePayload(task.PayloadJSON)
		if err != nil {
			return
		}
		// A published order keeps its report even when delivery kept failing.
		if o, err := orders.GetOrder(p.OrderID); err == nil && o.Status == storage.OrderCompleted {
			return
		}
		if err := orders.UpdateOrderStatus(p.OrderID, storage.OrderFailed); err != nil {
			logger.Error("marking order failed", "order_id", p.OrderID, "error", err)
			return
		}
		logger.Warn("order failed", "order_id", p.OrderID, "task_id", ev.TaskID, "error", ev.Error)
	}
}
