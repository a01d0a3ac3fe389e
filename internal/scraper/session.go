package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kalambet/reviewiq/internal/metrics"
	"github.com/kalambet/reviewiq/internal/review"
)

var tracer = otel.Tracer("reviewiq/scraper")

const (
	DefaultMaxRecords  = 500
	DefaultWaitTimeout = 15 * time.Second
)

// State is a step of the page-interaction protocol.
type State int

const (
	StateInit State = iota
	StateConsentResolved
	StateAdDismissed
	StatePrimedByScroll
	StateCollecting
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConsentResolved:
		return "consent_resolved"
	case StateAdDismissed:
		return "ad_dismissed"
	case StatePrimedByScroll:
		return "primed_by_scroll"
	case StateCollecting:
		return "collecting"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome records why a session reached StateExhausted.
type Outcome int

const (
	OutcomeNone Outcome = iota
	// OutcomeTargetReached means MaxRecords records were collected.
	OutcomeTargetReached
	// OutcomeNoNextPage means the listing ran out of pages first.
	OutcomeNoNextPage
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTargetReached:
		return "target_reached"
	case OutcomeNoNextPage:
		return "no_next_page"
	case OutcomeFailed:
		return "failed"
	default:
		return "none"
	}
}

type Options struct {
	MaxRecords  int
	WaitTimeout time.Duration
	Selectors   Selectors
	Timings     Timings
	Pacer       *Pacer
}

// DefaultOptions returns options for a live TripAdvisor scrape.
func DefaultOptions() Options {
	return Options{
		MaxRecords:  DefaultMaxRecords,
		WaitTimeout: DefaultWaitTimeout,
		Selectors:   DefaultSelectors(),
		Timings:     DefaultTimings(),
		Pacer:       NewPacer(),
	}
}

// Session drives one browser through a review listing and collects records.
// A Session is used for a single Run.
type Session struct {
	browser   Browser
	opts      Options
	strategy  Strategy
	locations *locationResolver

	state     State
	outcome   Outcome
	page      int
	base      *url.URL
	collected []review.Record
	logger    *slog.Logger
}

func NewSession(b Browser, opts Options) *Session {
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = DefaultMaxRecords
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.Pacer == nil {
		opts.Pacer = NewPacer()
	}
	s := &Session{
		browser:  b,
		opts:     opts,
		strategy: NewStrategy(opts.Selectors),
		logger:   slog.Default(),
	}
	s.locations = newLocationResolver(b, &s.strategy, opts.Selectors, opts.Timings, opts.Pacer)
	return s
}

func (s *Session) State() State     { return s.state }
func (s *Session) Outcome() Outcome { return s.outcome }

// Pages returns the number of listing pages visited.
func (s *Session) Pages() int { return s.page }

// ProfileVisits returns how many profiles were opened in auxiliary contexts.
func (s *Session) ProfileVisits() int { return s.locations.visits }

// Run scrapes target until MaxRecords records are collected or the listing
// has no further page. Records come back in page order, then DOM order. On
// error no records are returned.
func (s *Session) Run(ctx context.Context, target string) ([]review.Record, error) {
	ctx, span := tracer.Start(ctx, "scraper.session")
	defer span.End()
	span.SetAttributes(
		attribute.String("target", target),
		attribute.Int("max_records", s.opts.MaxRecords),
	)

	records, err := s.run(ctx, target)
	span.SetAttributes(
		attribute.Int("pages", s.page),
		attribute.Int("collected", len(s.collected)),
		attribute.String("outcome", s.outcome.String()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return records, nil
}

func (s *Session) run(ctx context.Context, target string) ([]review.Record, error) {
	s.state = StateInit
	base, err := url.Parse(target)
	if err != nil {
		return nil, s.fail(&SessionError{Op: "parse target", Err: err})
	}
	s.base = base

	log := s.logger.With("target", target)
	log.Info("scrape started", "max_records", s.opts.MaxRecords)

	if err := s.browser.Navigate(ctx, target); err != nil {
		return nil, s.fail(&SessionError{Op: "navigate", Err: err})
	}
	if err := s.pause(ctx, s.opts.Timings.AfterNavigate); err != nil {
		return nil, err
	}

	if err := s.resolveConsent(ctx); err != nil {
		return nil, err
	}
	s.state = StateConsentResolved

	if err := s.dismissAd(ctx); err != nil {
		return nil, err
	}
	s.state = StateAdDismissed

	if err := s.primeScroll(ctx); err != nil {
		return nil, err
	}
	s.state = StatePrimedByScroll

	for s.page = 1; ; s.page++ {
		s.state = StateCollecting
		stoppedEarly, err := s.collectPage(ctx)
		if err != nil {
			return nil, s.fail(err)
		}
		metrics.ScrapePagesTotal.Inc()
		log.Info("page collected", "page", s.page, "collected", len(s.collected))

		if stoppedEarly {
			s.exhaust(OutcomeTargetReached)
			break
		}
		next, ok := s.findNext(ctx)
		if err := s.checkContext(ctx, "finding next page"); err != nil {
			return nil, err
		}
		if !ok {
			s.exhaust(OutcomeNoNextPage)
			break
		}
		if len(s.collected) >= s.opts.MaxRecords {
			s.exhaust(OutcomeTargetReached)
			break
		}
		moved, err := s.activate(ctx, next)
		if err != nil {
			return nil, s.fail(err)
		}
		if !moved {
			s.exhaust(OutcomeNoNextPage)
			break
		}
	}

	log.Info("scrape finished", "outcome", s.outcome, "pages", s.page, "collected", len(s.collected))
	return append([]review.Record(nil), s.collected...), nil
}

// resolveConsent accepts the cookie banner if one shows up in time.
func (s *Session) resolveConsent(ctx context.Context) error {
	sel := s.opts.Selectors.CookieAccept
	if sel == "" {
		return nil
	}
	if err := s.pause(ctx, s.opts.Timings.BeforeConsent); err != nil {
		return err
	}
	btn, ok := s.browser.WaitFor(ctx, sel, s.opts.WaitTimeout)
	if !ok {
		s.logger.Debug("no consent banner")
		return s.checkContext(ctx, "consent")
	}
	if err := btn.Click(ctx); err != nil {
		s.logger.Debug("consent click failed", "error", err)
		return s.checkContext(ctx, "consent")
	}
	return s.pause(ctx, s.opts.Timings.AfterDismiss)
}

// dismissAd closes the first visible overlay matched by the close candidates.
func (s *Session) dismissAd(ctx context.Context) error {
	if len(s.opts.Selectors.AdClose) == 0 {
		return nil
	}
	if err := s.pause(ctx, s.opts.Timings.BeforeAdCheck); err != nil {
		return err
	}
	for _, css := range s.opts.Selectors.AdClose {
		btn, ok := s.browser.Find(ctx, css)
		if !ok || !btn.Visible(ctx) {
			continue
		}
		if err := btn.Click(ctx); err != nil {
			continue
		}
		s.logger.Debug("ad overlay closed", "selector", css)
		return s.pause(ctx, s.opts.Timings.AfterDismiss)
	}
	return s.checkContext(ctx, "dismiss ad")
}

// primeScroll scrolls to the bottom in random increments so that lazily
// loaded review cards render.
func (s *Session) primeScroll(ctx context.Context) error {
	height, err := s.browser.ScrollHeight(ctx)
	if err != nil {
		s.logger.Debug("reading scroll height failed", "error", err)
		return s.checkContext(ctx, "priming scroll")
	}
	t := s.opts.Timings
	for y := 0; y < height; {
		step := s.opts.Pacer.Between(t.ScrollStepMin, t.ScrollStepMax)
		if step <= 0 {
			break
		}
		y += step
		if err := s.browser.ScrollTo(ctx, y); err != nil {
			s.logger.Debug("scroll failed", "error", err)
			return s.checkContext(ctx, "priming scroll")
		}
		if err := s.pause(ctx, t.ScrollPause); err != nil {
			return err
		}
	}
	return nil
}

// collectPage extracts the record cards on the current page in DOM order. It
// returns true when it stopped at MaxRecords with cards left unvisited.
func (s *Session) collectPage(ctx context.Context) (bool, error) {
	var cards []Element
	for _, css := range s.opts.Selectors.ReviewCards {
		found, err := s.browser.FindAll(ctx, css)
		if err != nil {
			return false, &SessionError{Op: "finding review cards", Page: s.page, Err: err}
		}
		if len(found) > 0 {
			cards = found
			break
		}
	}
	s.logger.Debug("review cards found", "page", s.page, "count", len(cards))

	for _, card := range cards {
		if len(s.collected) >= s.opts.MaxRecords {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, &SessionError{Op: "collecting", Page: s.page, Err: err}
		}

		if err := card.ScrollIntoView(ctx); err != nil {
			if err := s.browser.Err(); err != nil {
				return false, &SessionError{Op: "collecting", Page: s.page, Err: err}
			}
			s.logger.Debug("scrolling card into view failed", "page", s.page, "error", err)
		}
		if err := s.opts.Pacer.Pause(ctx, s.opts.Timings.CardSettle); err != nil {
			return false, &SessionError{Op: "collecting", Page: s.page, Err: err}
		}

		rec, ok := s.extract(ctx, card)
		// A dead browser makes every extractor miss, which would otherwise
		// pass for defaults or an unrated card.
		if err := s.browser.Err(); err != nil {
			return false, &SessionError{Op: "collecting", Page: s.page, Err: err}
		}
		if !ok {
			metrics.ScrapeRecordsTotal.WithLabelValues("dropped").Inc()
			continue
		}
		metrics.ScrapeRecordsTotal.WithLabelValues("kept").Inc()
		s.collected = append(s.collected, rec)
	}
	return false, nil
}

// extract builds a record from a card. Cards without a parseable rating are
// dropped before any profile is visited.
func (s *Session) extract(ctx context.Context, card Element) (review.Record, bool) {
	rating, ok := First(ctx, card, s.strategy.Rating)
	if !ok {
		return review.Record{}, false
	}

	rec := review.Record{
		ReviewerName:   review.DefaultReviewerName,
		OriginLocation: review.DefaultLocation,
		Rating:         &rating,
	}
	if name, ok := First(ctx, card, s.strategy.ReviewerName); ok {
		rec.ReviewerName = name
	}

	loc, source := s.locations.resolve(ctx, card, s.base)
	s.locations.record(source)
	rec.OriginLocation = loc

	if period, ok := First(ctx, card, s.strategy.PostedPeriod); ok {
		rec.PostedPeriod = period
	}
	if text, ok := First(ctx, card, s.strategy.BodyText); ok {
		rec.BodyText = text
	}
	return rec, true
}

// findNext returns the next-page control when it exists and is enabled.
func (s *Session) findNext(ctx context.Context) (Element, bool) {
	css := s.opts.Selectors.NextPage
	if css == "" {
		return nil, false
	}
	next, ok := s.browser.Find(ctx, css)
	if !ok {
		return nil, false
	}
	disabled := s.opts.Selectors.DisabledClass
	if class, _ := next.Attr(ctx, "class"); disabled != "" && strings.Contains(class, disabled) {
		return nil, false
	}
	return next, true
}

// activate clicks the next-page control and waits a paced delay. A click
// that fails on a live page ends the listing; a done context or a lost
// browser fails the session.
func (s *Session) activate(ctx context.Context, next Element) (bool, error) {
	if err := next.Click(ctx); err != nil {
		s.logger.Warn("next page activation failed", "page", s.page, "error", err)
		if ctx.Err() != nil {
			return false, &SessionError{Op: "next page", Page: s.page, Err: ctx.Err()}
		}
		if err := s.browser.Err(); err != nil {
			return false, &SessionError{Op: "next page", Page: s.page, Err: err}
		}
		return false, nil
	}
	if err := s.opts.Pacer.Pause(ctx, s.opts.Timings.AfterNextPage); err != nil {
		return false, &SessionError{Op: "next page", Page: s.page, Err: err}
	}
	return true, nil
}

func (s *Session) pause(ctx context.Context, r Range) error {
	if err := s.opts.Pacer.Pause(ctx, r); err != nil {
		return s.fail(&SessionError{Op: s.state.String(), Err: err})
	}
	return nil
}

// checkContext turns a done context or a lost browser into a session error.
// Other misses are not errors.
func (s *Session) checkContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return s.fail(&SessionError{Op: op, Page: s.page, Err: err})
	}
	if err := s.browser.Err(); err != nil {
		return s.fail(&SessionError{Op: op, Page: s.page, Err: err})
	}
	return nil
}

func (s *Session) exhaust(o Outcome) {
	s.state = StateExhausted
	s.outcome = o
}

func (s *Session) fail(err error) error {
	if s.outcome != OutcomeFailed {
		s.exhaust(OutcomeFailed)
		s.collected = nil
		s.logger.Error("scrape failed", "page", s.page, "error", err)
	}
	return err
}

var restaurantNamePattern = regexp.MustCompile(`Reviews-([^-]+)-`)

// RestaurantNameFromURL guesses a display name from a TripAdvisor listing
// URL, for example "Nautika" from ".../Restaurant_Review-g1-d2-Reviews-Nautika-Dubrovnik.html".
func RestaurantNameFromURL(target string) string {
	m := restaurantNamePattern.FindStringSubmatch(target)
	if m == nil {
		return ""
	}
	return strings.ReplaceAll(m[1], "_", " ")
}
