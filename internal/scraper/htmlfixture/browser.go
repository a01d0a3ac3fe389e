// Package htmlfixture is an offline scraper.Browser over saved HTML pages.
// It backs scraper tests and the crawl command's replay mode.
package htmlfixture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/kalambet/reviewiq/internal/scraper"
)

// ErrPageNotFound is returned when navigating to a URL the site lacks.
var ErrPageNotFound = errors.New("page not found")

const defaultScrollHeight = 2400

// Site is a set of HTML documents keyed by URL.
type Site struct {
	mu    sync.Mutex
	pages map[string]string
	order []string
	// sequential sites follow links by file order when the href is unknown.
	sequential bool
	opened     map[string]int
}

func NewSite() *Site {
	return &Site{
		pages:  make(map[string]string),
		opened: make(map[string]int),
	}
}

// Add registers html under rawURL and returns the site for chaining.
func (s *Site) Add(rawURL, html string) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[rawURL]; !ok {
		s.order = append(s.order, rawURL)
	}
	s.pages[rawURL] = html
	return s
}

// LoadDir loads every *.html file in dir, in name order. Following a link to
// an unknown URL moves to the next file, so saved listing pages named
// page-1.html, page-2.html and so on replay as consecutive pages.
func LoadDir(dir string) (*Site, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(abs, "*.html"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no .html files in %s", dir)
	}
	sort.Strings(matches)

	site := NewSite()
	site.sequential = true
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		site.Add("file://"+filepath.ToSlash(path), string(data))
	}
	return site, nil
}

// Entry returns the first URL added.
func (s *Site) Entry() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return ""
	}
	return s.order[0]
}

// Opened returns how many times rawURL was navigated to.
func (s *Site) Opened(rawURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened[rawURL]
}

func (s *Site) open(rawURL string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	html, ok := s.pages[rawURL]
	if ok {
		s.opened[rawURL]++
	}
	return html, ok
}

func (s *Site) has(rawURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pages[rawURL]
	return ok
}

func (s *Site) after(rawURL string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sequential {
		return "", false
	}
	for i, u := range s.order {
		if u == rawURL && i+1 < len(s.order) {
			return s.order[i+1], true
		}
	}
	return "", false
}

// Browser renders one Site document at a time.
type Browser struct {
	site    *Site
	url     string
	doc     *goquery.Document
	scrollY int
	clicks  []string
	conn    *connection
}

// connection is shared by a browser and its auxiliary pages, as tabs share a
// browser process.
type connection struct {
	budget   int
	failWith error
	err      error
}

// alive spends one operation of the budget set by DisconnectAfter and
// reports whether the browser still answers.
func (c *connection) alive() bool {
	if c.err != nil {
		return false
	}
	if c.failWith == nil {
		return true
	}
	if c.budget <= 0 {
		c.err = c.failWith
		return false
	}
	c.budget--
	return true
}

func New(site *Site) *Browser {
	return &Browser{site: site, conn: &connection{}}
}

// DisconnectAfter lets n more browser or element operations succeed. After
// that the browser behaves like one whose process died: lookups miss,
// actions return err and Err reports it.
func (b *Browser) DisconnectAfter(n int, err error) {
	b.conn.budget = n
	b.conn.failWith = err
}

func (b *Browser) Err() error { return b.conn.err }

var _ scraper.Browser = (*Browser)(nil)

// URL returns the current document URL.
func (b *Browser) URL() string { return b.url }

// ScrollY returns the last scroll position.
func (b *Browser) ScrollY() int { return b.scrollY }

// Clicks describes every clicked element, by id or first class.
func (b *Browser) Clicks() []string { return append([]string(nil), b.clicks...) }

func (b *Browser) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.conn.alive() {
		return b.conn.err
	}
	html, ok := b.site.open(rawURL)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPageNotFound, rawURL)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", rawURL, err)
	}
	b.url = rawURL
	b.doc = doc
	b.scrollY = 0
	return nil
}

func (b *Browser) WaitFor(ctx context.Context, selector string, _ time.Duration) (scraper.Element, bool) {
	if b.doc == nil || ctx.Err() != nil || !b.conn.alive() {
		return nil, false
	}
	var found scraper.Element
	b.doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if visible(s) {
			found = &element{b: b, sel: s}
			return false
		}
		return true
	})
	return found, found != nil
}

func (b *Browser) Find(_ context.Context, selector string) (scraper.Element, bool) {
	if b.doc == nil || !b.conn.alive() {
		return nil, false
	}
	s := b.doc.Find(selector).First()
	if s.Length() == 0 {
		return nil, false
	}
	return &element{b: b, sel: s}, true
}

func (b *Browser) FindAll(ctx context.Context, selector string) ([]scraper.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !b.conn.alive() {
		return nil, b.conn.err
	}
	if b.doc == nil {
		return nil, errors.New("no document loaded")
	}
	var out []scraper.Element
	b.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, &element{b: b, sel: s})
	})
	return out, nil
}

// ScrollHeight reads data-scroll-height from <body>, defaulting to a few
// screens.
func (b *Browser) ScrollHeight(_ context.Context) (int, error) {
	if !b.conn.alive() {
		return 0, b.conn.err
	}
	if b.doc == nil {
		return 0, errors.New("no document loaded")
	}
	if v, ok := b.doc.Find("body").Attr("data-scroll-height"); ok {
		return strconv.Atoi(v)
	}
	return defaultScrollHeight, nil
}

func (b *Browser) ScrollTo(_ context.Context, y int) error {
	if !b.conn.alive() {
		return b.conn.err
	}
	b.scrollY = y
	return nil
}

// WithAuxiliary opens rawURL in a fresh Browser over the same site.
func (b *Browser) WithAuxiliary(ctx context.Context, rawURL string, fn func(ctx context.Context, p scraper.Page) error) error {
	aux := &Browser{site: b.site, conn: b.conn}
	if err := aux.Navigate(ctx, rawURL); err != nil {
		return err
	}
	return fn(ctx, aux)
}

// follow navigates to href relative to the current document.
func (b *Browser) follow(ctx context.Context, href string) error {
	target := href
	if base, err := url.Parse(b.url); err == nil {
		if ref, err := url.Parse(href); err == nil {
			target = base.ResolveReference(ref).String()
		}
	}
	if !b.site.has(target) {
		if next, ok := b.site.after(b.url); ok {
			target = next
		}
	}
	return b.Navigate(ctx, target)
}

type element struct {
	b   *Browser
	sel *goquery.Selection
}

func (e *element) Find(_ context.Context, selector string) (scraper.Element, bool) {
	if !e.b.conn.alive() {
		return nil, false
	}
	s := e.sel.Find(selector).First()
	if s.Length() == 0 {
		return nil, false
	}
	return &element{b: e.b, sel: s}, true
}

func (e *element) Text(_ context.Context) (string, error) {
	if !e.b.conn.alive() {
		return "", e.b.conn.err
	}
	if e.sel.Length() == 0 {
		return "", errors.New("detached element")
	}
	return innerText(e.sel.Nodes[0]), nil
}

func (e *element) Attr(_ context.Context, name string) (string, bool) {
	if !e.b.conn.alive() {
		return "", false
	}
	return e.sel.Attr(name)
}

func (e *element) Visible(_ context.Context) bool {
	if !e.b.conn.alive() {
		return false
	}
	return visible(e.sel)
}

// Click expands a collapsed [data-full-text] container, follows a link, or
// otherwise hides the element as a dismissed overlay would be.
func (e *element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.b.conn.alive() {
		return e.b.conn.err
	}
	e.b.clicks = append(e.b.clicks, describe(e.sel))

	if container := e.sel.Closest("[data-full-text]"); container.Length() > 0 {
		full, _ := container.Attr("data-full-text")
		container.RemoveAttr("data-full-text")
		container.SetText(full)
		return nil
	}
	if link := e.sel.Closest("a[href]"); link.Length() > 0 {
		href, _ := link.Attr("href")
		return e.b.follow(ctx, href)
	}
	e.sel.SetAttr("hidden", "")
	return nil
}

func (e *element) ScrollIntoView(_ context.Context) error {
	if !e.b.conn.alive() {
		return e.b.conn.err
	}
	return nil
}

func describe(s *goquery.Selection) string {
	if id, ok := s.Attr("id"); ok && id != "" {
		return id
	}
	if class, ok := s.Attr("class"); ok {
		if fields := strings.Fields(class); len(fields) > 0 {
			return fields[0]
		}
	}
	return goquery.NodeName(s)
}
