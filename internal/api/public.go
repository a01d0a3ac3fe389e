package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/reviewiq/internal/pipeline"
	"github.com/kalambet/reviewiq/internal/queue"
	"github.com/kalambet/reviewiq/internal/report"
	"github.com/kalambet/reviewiq/internal/storage"
)

const Version = "1.0.0"

// Regenerator rebuilds a report from its stored dataset.
type Regenerator interface {
	Regenerate(ctx context.Context, orderID string) (report.Summary, error)
}

type Deps struct {
	Store          *storage.Store
	Queue          *queue.Queue
	Intake         *pipeline.Intake
	Reports        Regenerator
	AdminToken     string
	StartScrapeRPS float64
	// Now defaults to time.Now; report expiry is checked against it.
	Now func() time.Time
}

// NewHandler returns the public API, the admin API under /admin and the
// prometheus exposition under /metrics.
func NewHandler(deps Deps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := chi.NewRouter()

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.With(RateLimit(deps.StartScrapeRPS, 3)).Post("/start-scrape", handleStartScrape(deps))
	r.Get("/order/{id}", handleGetOrder(deps))
	r.Get("/r/{id}", handleGetReport(deps))
	r.Get("/r/{id}/reviews.csv", handleReportDataset(deps))

	r.Route("/admin", func(r chi.Router) {
		r.Use(BearerAuth(deps.AdminToken))
		r.Get("/orders", handleListOrders(deps))
		r.Post("/orders/{id}/regenerate", handleRegenerate(deps))
		r.Get("/tasks", handleListTasks(deps))
		r.Get("/tasks/{id}", handleGetTask(deps))
		r.Post("/tasks/{id}/retry", handleRetryTask(deps))
	})

	return r
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "ReviewIQ API",
		"version": Version,
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type startScrapeResponse struct {
	OrderID string `json:"order_id"`
	TaskID  int64  `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func handleStartScrape(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req pipeline.OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := req.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		order, taskID, err := deps.Intake.EnqueueOrder(r.Context(), req)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue order: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, startScrapeResponse{
			OrderID: order.ID,
			TaskID:  taskID,
			Status:  "queued",
			Message: fmt.Sprintf("Scraping started. Check /order/%s for status.", order.ID),
		})
	}
}

type orderStatusResponse struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	ReportURL string     `json:"report_url,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func handleGetOrder(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := deps.Store.GetOrder(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "order not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get order: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, orderStatusResponse{
			ID:        order.ID,
			Status:    string(order.Status),
			ReportURL: order.ReportURL,
			ExpiresAt: order.ExpiresAt,
		})
	}
}

// liveReport loads a report and writes 404 or 410 when it cannot be shown.
func liveReport(deps Deps, w http.ResponseWriter, id string) (storage.Report, bool) {
	rep, err := deps.Store.GetReport(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "report not found")
		return storage.Report{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get report: %v", err)
		return storage.Report{}, false
	}
	if deps.Now().After(rep.ExpiresAt) {
		httpError(w, http.StatusGone, "expired", "report has expired")
		return storage.Report{}, false
	}
	return rep, true
}

func handleGetReport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, ok := liveReport(deps, w, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		views, err := deps.Store.IncrementReportViews(rep.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count view: %v", err)
			return
		}
		rep.ViewCount = views
		writeJSON(w, http.StatusOK, rep)
	}
}

func handleReportDataset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, ok := liveReport(deps, w, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		f, err := os.Open(rep.DatasetPath)
		if errors.Is(err, os.ErrNotExist) || rep.DatasetPath == "" {
			httpError(w, http.StatusNotFound, "not_found", "dataset not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to open dataset: %v", err)
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="reviews-%s.csv"`, rep.OrderID))
		io.Copy(w, f)
	}
}
