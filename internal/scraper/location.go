package scraper

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/kalambet/reviewiq/internal/metrics"
	"github.com/kalambet/reviewiq/internal/review"
)

var errNoHeading = errors.New("profile heading not found")

// locationResolver finds a reviewer's home location, visiting their profile
// in an auxiliary context when the review card does not show it. Profile
// results are cached for the lifetime of one session.
type locationResolver struct {
	aux      AuxiliaryOpener
	strategy *Strategy
	headings []string
	timings  Timings
	pacer    *Pacer
	cache    map[string]string
	visits   int
}

func newLocationResolver(aux AuxiliaryOpener, strategy *Strategy, sel Selectors, timings Timings, pacer *Pacer) *locationResolver {
	return &locationResolver{
		aux:      aux,
		strategy: strategy,
		headings: sel.ProfileHeading,
		timings:  timings,
		pacer:    pacer,
		cache:    make(map[string]string),
	}
}

// resolve returns the location and where it came from: inline, cache,
// profile or default.
func (r *locationResolver) resolve(ctx context.Context, el Element, base *url.URL) (string, string) {
	if loc, ok := First(ctx, el, r.strategy.InlineLocation); ok {
		return loc, "inline"
	}

	href, ok := First(ctx, el, r.strategy.ProfileRef)
	if !ok {
		return review.DefaultLocation, "default"
	}
	ref := resolveRef(base, href)

	if loc, ok := r.cache[ref]; ok {
		return loc, "cache"
	}

	loc, err := r.visitProfile(ctx, ref)
	if err != nil {
		loc = review.DefaultLocation
	}
	r.cache[ref] = loc
	if err != nil {
		return loc, "default"
	}
	return loc, "profile"
}

func (r *locationResolver) visitProfile(ctx context.Context, ref string) (string, error) {
	if r.aux == nil {
		return "", errors.New("no auxiliary browsing context")
	}
	r.visits++

	var loc string
	err := r.aux.WithAuxiliary(ctx, ref, func(ctx context.Context, p Page) error {
		if err := r.pacer.Pause(ctx, r.timings.ProfileOpen); err != nil {
			return err
		}
		for _, css := range r.headings {
			el, ok := p.WaitFor(ctx, css, r.timings.ProfileTimeout)
			if !ok {
				continue
			}
			text, err := el.Text(ctx)
			if err != nil {
				continue
			}
			if text = strings.TrimSpace(text); text != "" {
				loc = text
				return nil
			}
		}
		return errNoHeading
	})
	return loc, err
}

func (r *locationResolver) record(source string) {
	metrics.LocationLookupsTotal.WithLabelValues(source).Inc()
}

func resolveRef(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(u).String()
}
