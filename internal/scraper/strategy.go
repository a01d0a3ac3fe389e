package scraper

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// Extractor reads one value from a record element. It reports false when the
// value is not present, never an error.
type Extractor[T any] func(ctx context.Context, el Element) (T, bool)

// First runs extractors in order and returns the first value found.
func First[T any](ctx context.Context, el Element, extractors []Extractor[T]) (T, bool) {
	for _, ex := range extractors {
		if v, ok := ex(ctx, el); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Strategy holds the ordered extractors for every review field.
type Strategy struct {
	ReviewerName   []Extractor[string]
	ProfileRef     []Extractor[string]
	Rating         []Extractor[float64]
	PostedPeriod   []Extractor[string]
	InlineLocation []Extractor[string]
	BodyText       []Extractor[string]
}

// NewStrategy builds one extractor per selector candidate.
func NewStrategy(sel Selectors) Strategy {
	var s Strategy
	for _, css := range sel.ReviewerName {
		s.ReviewerName = append(s.ReviewerName, TextOf(css))
	}
	for _, css := range sel.ProfileLink {
		s.ProfileRef = append(s.ProfileRef, AttrOf(css, "href"))
	}
	for _, css := range sel.Rating {
		s.Rating = append(s.Rating, RatingFrom(css))
	}
	for _, css := range sel.PostedPeriod {
		s.PostedPeriod = append(s.PostedPeriod, PostedPeriodFrom(css))
	}
	for _, css := range sel.InlineLocation {
		s.InlineLocation = append(s.InlineLocation, InlineLocationFrom(css))
	}
	for _, css := range sel.BodyText {
		s.BodyText = append(s.BodyText, BodyTextFrom(css, sel.ReadMore))
	}
	return s
}

// TextOf extracts the trimmed, non-empty text of the first match of css.
func TextOf(css string) Extractor[string] {
	return func(ctx context.Context, el Element) (string, bool) {
		found, ok := el.Find(ctx, css)
		if !ok {
			return "", false
		}
		text, err := found.Text(ctx)
		if err != nil {
			return "", false
		}
		text = strings.TrimSpace(text)
		return text, text != ""
	}
}

// AttrOf extracts a non-empty attribute of the first match of css.
func AttrOf(css, name string) Extractor[string] {
	return func(ctx context.Context, el Element) (string, bool) {
		found, ok := el.Find(ctx, css)
		if !ok {
			return "", false
		}
		v, ok := found.Attr(ctx, name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
}

var ratingPattern = regexp.MustCompile(`(\d+\.?\d*)\s*of\s*5`)

// ParseRating reads "<number> of 5" from a rating label such as
// "4.5 of 5 bubbles". Values outside [0,5] are rejected.
func ParseRating(label string) (float64, bool) {
	m := ratingPattern.FindStringSubmatch(label)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

// RatingFrom parses the aria-label of the rating indicator matched by css.
func RatingFrom(css string) Extractor[float64] {
	label := AttrOf(css, "aria-label")
	return func(ctx context.Context, el Element) (float64, bool) {
		v, ok := label(ctx, el)
		if !ok {
			return 0, false
		}
		return ParseRating(v)
	}
}

var periodPattern = regexp.MustCompile(`(\p{L}+\s+\d{4})`)

// ParsePostedPeriod returns the "Month Year" from a "wrote a review" line.
// Other lines, such as visit dates, yield nothing.
func ParsePostedPeriod(text string) (string, bool) {
	if !strings.Contains(strings.ToLower(text), "wrote a review") {
		return "", false
	}
	m := periodPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func PostedPeriodFrom(css string) Extractor[string] {
	text := TextOf(css)
	return func(ctx context.Context, el Element) (string, bool) {
		v, ok := text(ctx, el)
		if !ok {
			return "", false
		}
		return ParsePostedPeriod(v)
	}
}

// ParseInlineLocation picks the location line out of a reviewer metadata
// block such as "Zagreb, Croatia\n12 contributions". Blocks without a
// contribution count carry no location.
func ParseInlineLocation(text string) (string, bool) {
	if !strings.Contains(strings.ToLower(text), " contribution") {
		return "", false
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(strings.ToLower(line), " contribution") {
			continue
		}
		line = strings.TrimSpace(line)
		if len([]rune(line)) > 2 {
			return line, true
		}
	}
	return "", false
}

func InlineLocationFrom(css string) Extractor[string] {
	return func(ctx context.Context, el Element) (string, bool) {
		found, ok := el.Find(ctx, css)
		if !ok {
			return "", false
		}
		text, err := found.Text(ctx)
		if err != nil {
			return "", false
		}
		return ParseInlineLocation(text)
	}
}

// BodyTextFrom reads the review text under css, expanding a collapsed review
// first when a "read more" control is present.
func BodyTextFrom(css, readMore string) Extractor[string] {
	return func(ctx context.Context, el Element) (string, bool) {
		container, ok := el.Find(ctx, css)
		if !ok {
			return "", false
		}
		if readMore != "" {
			if more, ok := container.Find(ctx, readMore); ok {
				label, _ := more.Text(ctx)
				if strings.Contains(strings.ToLower(label), "more") {
					_ = more.Click(ctx)
				}
			}
		}
		text, err := container.Text(ctx)
		if err != nil {
			return "", false
		}
		return strings.TrimSpace(text), true
	}
}
