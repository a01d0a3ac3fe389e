// Package report turns a scraped review dataset into the stored report
// summary for an order.
package report

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/reviewiq/internal/review"
	"github.com/kalambet/reviewiq/internal/storage"
)

const DefaultExpiry = 90 * 24 * time.Hour

// PlaceholderPositiveFraction stands in until sentiment scoring exists. It
// is always stored with PositiveComputed=false.
const PlaceholderPositiveFraction = 0.85

// Stats are the aggregate figures over one dataset.
type Stats struct {
	TotalReviews     int
	DistinctOrigins  int
	MeanRating       float64
	PositiveFraction float64
	PositiveComputed bool
}

// Compute aggregates records. Reviewers with the default location do not
// count as an origin. The mean covers rated records only and is 0 when none
// are rated.
func Compute(records []review.Record) Stats {
	st := Stats{
		TotalReviews:     len(records),
		PositiveFraction: PlaceholderPositiveFraction,
	}
	origins := make(map[string]struct{})
	var sum float64
	var rated int
	for _, r := range records {
		if r.HasOrigin() {
			origins[r.OriginLocation] = struct{}{}
		}
		if r.Rating != nil {
			sum += *r.Rating
			rated++
		}
	}
	st.DistinctOrigins = len(origins)
	if rated > 0 {
		st.MeanRating = sum / float64(rated)
	}
	return st
}

// Metadata identifies what a dataset belongs to.
type Metadata struct {
	OrderID        string
	RestaurantName string
	DatasetPath    string
}

// Summary is the assembled report for one order.
type Summary struct {
	ReportID         string    `json:"report_id"`
	OrderID          string    `json:"order_id"`
	RestaurantName   string    `json:"restaurant_name"`
	TotalReviews     int       `json:"total_reviews"`
	DistinctOrigins  int       `json:"distinct_origin_count"`
	MeanRating       float64   `json:"mean_rating"`
	PositiveFraction float64   `json:"positive_fraction"`
	PositiveComputed bool      `json:"positive_fraction_computed"`
	ExpiresAt        time.Time `json:"expires_at"`
}

func summaryOf(r storage.Report) Summary {
	return Summary{
		ReportID:         r.ID,
		OrderID:          r.OrderID,
		RestaurantName:   r.RestaurantName,
		TotalReviews:     r.TotalReviews,
		DistinctOrigins:  r.DistinctOrigins,
		MeanRating:       r.MeanRating,
		PositiveFraction: r.PositiveFraction,
		PositiveComputed: r.PositiveComputed,
		ExpiresAt:        r.ExpiresAt,
	}
}

// Store is the report persistence the assembler needs.
type Store interface {
	GetReportByOrder(orderID string) (storage.Report, error)
	UpsertReport(r storage.Report) (storage.Report, error)
}

type Assembler struct {
	store  Store
	expiry time.Duration
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

func NewAssembler(store Store, expiry time.Duration) *Assembler {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Assembler{
		store:  store,
		expiry: expiry,
		now:    time.Now,
		newID:  NewReportID,
		logger: slog.Default(),
	}
}

// NewReportID returns a 12-character report identifier.
func NewReportID() string {
	return uuid.NewString()[:12]
}

// Assemble computes the summary for records and stores it for meta.OrderID.
// Assembling again for the same order overwrites the figures and keeps the
// report id and expiry, so repeated runs yield one report.
func (a *Assembler) Assemble(records []review.Record, meta Metadata) (Summary, error) {
	if meta.OrderID == "" {
		return Summary{}, errors.New("assembling report: order id is required")
	}
	st := Compute(records)

	row := storage.Report{
		ID:               a.newID(),
		OrderID:          meta.OrderID,
		RestaurantName:   meta.RestaurantName,
		TotalReviews:     st.TotalReviews,
		DistinctOrigins:  st.DistinctOrigins,
		MeanRating:       st.MeanRating,
		PositiveFraction: st.PositiveFraction,
		PositiveComputed: st.PositiveComputed,
		DatasetPath:      meta.DatasetPath,
		ExpiresAt:        a.now().UTC().Add(a.expiry),
	}
	existing, err := a.store.GetReportByOrder(meta.OrderID)
	switch {
	case err == nil:
		row.ID = existing.ID
		row.ExpiresAt = existing.ExpiresAt
	case !errors.Is(err, storage.ErrNotFound):
		return Summary{}, fmt.Errorf("looking up report for order %s: %w", meta.OrderID, err)
	}

	stored, err := a.store.UpsertReport(row)
	if err != nil {
		return Summary{}, fmt.Errorf("storing report for order %s: %w", meta.OrderID, err)
	}
	a.logger.Info("report assembled",
		"order_id", meta.OrderID,
		"report_id", stored.ID,
		"total_reviews", stored.TotalReviews,
		"distinct_origins", stored.DistinctOrigins,
	)
	return summaryOf(stored), nil
}
