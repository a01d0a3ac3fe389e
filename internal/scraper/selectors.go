package scraper

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Selectors lists the CSS selector candidates for every element the session
// touches. Where a field takes a list, candidates are tried in order and the
// first match wins.
type Selectors struct {
	CookieAccept   string   `json:"cookie_accept"`
	AdClose        []string `json:"ad_close"`
	ReviewCards    []string `json:"review_cards"`
	ReviewerName   []string `json:"reviewer_name"`
	ProfileLink    []string `json:"profile_link"`
	Rating         []string `json:"rating"`
	PostedPeriod   []string `json:"posted_period"`
	InlineLocation []string `json:"inline_location"`
	BodyText       []string `json:"body_text"`
	ReadMore       string   `json:"read_more"`
	ProfileHeading []string `json:"profile_heading"`
	NextPage       string   `json:"next_page"`
	// DisabledClass marks a next-page control that cannot be activated.
	DisabledClass string `json:"disabled_class"`
}

// DefaultSelectors targets the TripAdvisor restaurant review listing.
func DefaultSelectors() Selectors {
	return Selectors{
		CookieAccept: "#onetrust-accept-btn-handler",
		AdClose: []string{
			"button[aria-label='Close']",
			"button[class*='close']",
			"div[role='button'][aria-label='Close']",
			"svg[class*='close']",
			"[data-testid='close-button']",
		},
		ReviewCards:    []string{"div[data-automation='reviewCard']", "div.reviewSelector"},
		ReviewerName:   []string{"a.BMQDV._F.G-.wSSLS.SwZTJ.FGwzt"},
		ProfileLink:    []string{"a.BMQDV._F.G-.wSSLS.SwZTJ.FGwzt"},
		Rating:         []string{"svg.UctUV[aria-label]"},
		PostedPeriod:   []string{"div.biGQs._P.pZUbB.ncFvv.osNWb"},
		InlineLocation: []string{"div.biGQs._P.pZUbB.osNWb"},
		BodyText:       []string{"div.biGQs._P.pZUbB.KxBGd"},
		ReadMore:       "button span",
		ProfileHeading: []string{"span.default-typography_heading-s__fuO7P"},
		NextPage:       "a.ui_button.nav.next.primary",
		DisabledClass:  "disabled",
	}
}

// LoadSelectors reads a JSON5 file and overlays the fields it sets onto
// DefaultSelectors.
func LoadSelectors(path string) (Selectors, error) {
	sel := DefaultSelectors()
	data, err := os.ReadFile(path)
	if err != nil {
		return sel, fmt.Errorf("reading selectors file: %w", err)
	}
	if err := json5.Unmarshal(data, &sel); err != nil {
		return sel, fmt.Errorf("parsing selectors file %s: %w", path, err)
	}
	return sel, nil
}
