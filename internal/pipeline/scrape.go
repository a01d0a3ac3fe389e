// Package pipeline implements the scrape-and-report task: scrape a listing,
// export the dataset, publish the report and tell the customer.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kalambet/reviewiq/internal/notify"
	"github.com/kalambet/reviewiq/internal/queue"
	"github.com/kalambet/reviewiq/internal/report"
	"github.com/kalambet/reviewiq/internal/review"
	"github.com/kalambet/reviewiq/internal/scraper"
	"github.com/kalambet/reviewiq/internal/storage"
)

var tracer = otel.Tracer("reviewiq/pipeline")

// ErrNoDataset is returned by Regenerate when the order has no stored
// dataset to rebuild from.
var ErrNoDataset = errors.New("no stored dataset")

// OrderStore is the order persistence the pipeline updates.
type OrderStore interface {
	GetOrder(id string) (storage.Order, error)
	UpdateOrderStatus(id string, status storage.OrderStatus) error
	CompleteOrder(id, reportID, reportURL string, expiresAt time.Time) error
}

// BrowserOpener starts a browser for one scrape. The returned func releases
// it.
type BrowserOpener func(ctx context.Context) (scraper.Browser, func(), error)

type Config struct {
	DataDir string
	// BaseURL is the public origin report links are built on.
	BaseURL string
	Scraper scraper.Options
}

// Result is the JSON stored as the task result.
type Result struct {
	OrderID      string `json:"order_id"`
	ReportID     string `json:"report_id"`
	ReportURL    string `json:"report_url"`
	TotalReviews int    `json:"total_reviews"`
	Pages        int    `json:"pages"`
	Outcome      string `json:"outcome"`
}

// ScrapeAndReport handles queue.TypeScrapeAndReport tasks.
type ScrapeAndReport struct {
	orders    OrderStore
	assembler *report.Assembler
	notifier  notify.Notifier
	open      BrowserOpener
	cfg       Config
	logger    *slog.Logger
}

func NewScrapeAndReport(orders OrderStore, assembler *report.Assembler, notifier notify.Notifier, open BrowserOpener, cfg Config) *ScrapeAndReport {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ScrapeAndReport{
		orders:    orders,
		assembler: assembler,
		notifier:  notifier,
		open:      open,
		cfg:       cfg,
		logger:    slog.Default(),
	}
}

// DatasetPath is where the CSV export for orderID lives.
func DatasetPath(dataDir, orderID string) string {
	return filepath.Join(dataDir, "reports", orderID, "reviews.csv")
}

// ReportURL is the public link for reportID.
func ReportURL(baseURL, reportID string) string {
	return strings.TrimRight(baseURL, "/") + "/r/" + reportID
}

func (h *ScrapeAndReport) Handle(ctx context.Context, task storage.Task) (string, error) {
	p, err := queue.DecodeScrapePayload(task.PayloadJSON)
	if err != nil {
		return "", err
	}
	ctx, span := tracer.Start(ctx, "pipeline.scrape_and_report")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("task_id", task.ID),
		attribute.String("order_id", p.OrderID),
	)

	res, err := h.run(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	out, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(out), nil
}

func (h *ScrapeAndReport) run(ctx context.Context, p queue.ScrapePayload) (Result, error) {
	log := h.logger.With("order_id", p.OrderID)

	if err := h.orders.UpdateOrderStatus(p.OrderID, storage.OrderProcessing); err != nil {
		return Result{}, fmt.Errorf("marking order %s processing: %w", p.OrderID, err)
	}

	browser, release, err := h.open(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("starting browser: %w", err)
	}
	defer release()

	session := scraper.NewSession(browser, h.cfg.Scraper)
	records, err := session.Run(ctx, p.URL)
	if err != nil {
		return Result{}, err
	}
	log.Info("scrape complete", "collected", len(records), "pages", session.Pages(), "outcome", session.Outcome())

	name := RestaurantName(p)
	path := DatasetPath(h.cfg.DataDir, p.OrderID)
	if err := review.WriteCSVFile(path, records); err != nil {
		return Result{}, fmt.Errorf("exporting dataset: %w", err)
	}

	sum, err := h.publish(ctx, p.OrderID, name, path, records)
	if err != nil {
		return Result{}, err
	}
	reportURL := ReportURL(h.cfg.BaseURL, sum.ReportID)

	if err := h.notifier.ReportReady(ctx, notify.Delivery{
		To:             p.Email,
		RestaurantName: name,
		ReportURL:      reportURL,
		DatasetURL:     reportURL + "/reviews.csv",
	}); err != nil {
		return Result{}, err
	}

	return Result{
		OrderID:      p.OrderID,
		ReportID:     sum.ReportID,
		ReportURL:    reportURL,
		TotalReviews: sum.TotalReviews,
		Pages:        session.Pages(),
		Outcome:      session.Outcome().String(),
	}, nil
}

// publish assembles the report and attaches it to the order.
func (h *ScrapeAndReport) publish(ctx context.Context, orderID, name, path string, records []review.Record) (report.Summary, error) {
	_, span := tracer.Start(ctx, "pipeline.publish")
	defer span.End()

	sum, err := h.assembler.Assemble(records, report.Metadata{
		OrderID:        orderID,
		RestaurantName: name,
		DatasetPath:    path,
	})
	if err != nil {
		return report.Summary{}, err
	}
	if err := h.orders.CompleteOrder(orderID, sum.ReportID, ReportURL(h.cfg.BaseURL, sum.ReportID), sum.ExpiresAt); err != nil {
		return report.Summary{}, fmt.Errorf("completing order %s: %w", orderID, err)
	}
	return sum, nil
}

// Regenerate rebuilds the report for an order from its stored dataset
// without scraping again. It returns ErrNoDataset when there is nothing to
// rebuild from.
func (h *ScrapeAndReport) Regenerate(ctx context.Context, orderID string) (report.Summary, error) {
	order, err := h.orders.GetOrder(orderID)
	if err != nil {
		return report.Summary{}, err
	}
	path := DatasetPath(h.cfg.DataDir, orderID)
	records, err := review.ReadCSVFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return report.Summary{}, ErrNoDataset
	}
	if err != nil {
		return report.Summary{}, fmt.Errorf("reading dataset for order %s: %w", orderID, err)
	}
	name := RestaurantName(queue.ScrapePayload{URL: order.RestaurantURL, RestaurantName: order.RestaurantName})
	return h.publish(ctx, orderID, name, path, records)
}

// RestaurantName picks the display name for a payload, falling back to one
// derived from the listing URL.
func RestaurantName(p queue.ScrapePayload) string {
	if name := strings.TrimSpace(p.RestaurantName); name != "" {
		return name
	}
	if name := scraper.RestaurantNameFromURL(p.URL); name != "" {
		return name
	}
	return "Restaurant"
}
