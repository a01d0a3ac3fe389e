package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/reviewiq/internal/pipeline"
	"github.com/kalambet/reviewiq/internal/queue"
	"github.com/kalambet/reviewiq/internal/storage"
)

func handleListOrders(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := storage.OrderStatus(r.URL.Query().Get("status"))
		switch status {
		case "", storage.OrderPending, storage.OrderProcessing, storage.OrderCompleted, storage.OrderFailed:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown order status %q", status)
			return
		}
		orders, err := deps.Store.ListOrders(status)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list orders: %v", err)
			return
		}
		if orders == nil {
			orders = []storage.Order{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders": orders, "count": len(orders)})
	}
}

func handleListTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := storage.TaskStatus(r.URL.Query().Get("status"))
		switch status {
		case "", storage.TaskPending, storage.TaskProcessing, storage.TaskCompleted, storage.TaskFailed:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown task status %q", status)
			return
		}
		limit := parseIntParam(r, "limit", 50, 500)

		tasks, err := deps.Store.ListTasks(status, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list tasks: %v", err)
			return
		}
		if tasks == nil {
			tasks = []storage.Task{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
	}
}

// taskFromPath resolves {id} and writes 400 or 404 when it cannot.
func taskFromPath(deps Deps, w http.ResponseWriter, r *http.Request) (storage.Task, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid task id %q", chi.URLParam(r, "id"))
		return storage.Task{}, false
	}
	task, err := deps.Queue.Get(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "task %d not found", id)
		return storage.Task{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get task: %v", err)
		return storage.Task{}, false
	}
	return task, true
}

func handleGetTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, ok := taskFromPath(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

// handleRetryTask re-submits an exhausted task's payload as a fresh task.
// The failed task stays as it is for the record.
func handleRetryTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, ok := taskFromPath(deps, w, r)
		if !ok {
			return
		}
		if !task.Exhausted() {
			httpError(w, http.StatusConflict, "conflict", "task %d is %s with %d retries, only exhausted tasks can be retried",
				task.ID, task.Status, task.RetryCount)
			return
		}

		newID, err := deps.Queue.Enqueue(task.Type, json.RawMessage(task.PayloadJSON))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue retry: %v", err)
			return
		}
		if task.Type == queue.TypeScrapeAndReport {
			if p, err := queue.DecodeScrapePayload(task.PayloadJSON); err == nil {
				if err := deps.Store.UpdateOrderStatus(p.OrderID, storage.OrderProcessing); err != nil && !errors.Is(err, storage.ErrNotFound) {
					httpError(w, http.StatusInternalServerError, "api_error", "failed to reopen order: %v", err)
					return
				}
			}
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":     "queued",
			"task_id":    newID,
			"retried_id": task.ID,
		})
	}
}

// handleRegenerate rebuilds a report from the stored dataset, or queues a
// fresh scrape when the order has none.
func handleRegenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := chi.URLParam(r, "id")
		summary, err := deps.Reports.Regenerate(r.Context(), orderID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "order not found")
			return
		case errors.Is(err, pipeline.ErrNoDataset):
			order, err := deps.Store.GetOrder(orderID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to get order: %v", err)
				return
			}
			taskID, err := deps.Queue.EnqueueScrape(queue.ScrapePayload{
				OrderID:        order.ID,
				Email:          order.Email,
				URL:            order.RestaurantURL,
				RestaurantName: order.RestaurantName,
			})
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to queue scrape: %v", err)
				return
			}
			if err := deps.Store.UpdateOrderStatus(order.ID, storage.OrderProcessing); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to reopen order: %v", err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]any{
				"status":   "queued",
				"order_id": order.ID,
				"task_id":  taskID,
			})
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to regenerate report: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "regenerated",
			"order_id": orderID,
			"report":   summary,
		})
	}
}
