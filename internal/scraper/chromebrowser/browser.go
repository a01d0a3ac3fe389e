// Package chromebrowser implements scraper.Browser on a headless Chrome
// driven through the DevTools protocol.
package chromebrowser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/kalambet/reviewiq/internal/scraper"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	clickTimeout = 5 * time.Second
	readTimeout  = 5 * time.Second
)

type Options struct {
	Headless  bool
	UserAgent string
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

// Browser owns one Chrome process and its primary tab. Auxiliary tabs are
// opened in the same process.
type Browser struct {
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *slog.Logger

	mu  sync.Mutex
	err error
}

var _ scraper.Browser = (*Browser)(nil)

// New starts Chrome and opens the primary tab. Close releases both.
func New(opts Options) (*Browser, error) {
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.WindowSize(1366, 900),
		chromedp.UserAgent(ua),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tab, cancelTab := chromedp.NewContext(allocCtx)

	// The first Run starts the browser process.
	if err := chromedp.Run(tab); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}
	return &Browser{
		tab:         tab,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      slog.Default(),
	}, nil
}

// Close shuts the tab and the browser process.
func (b *Browser) Close() error {
	if b.cancelTab != nil {
		b.cancelTab()
	}
	if b.cancelAlloc != nil {
		b.cancelAlloc()
	}
	return nil
}

// run executes actions on the tab, stopping early when ctx is done.
func (b *Browser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(b.tab, timeout)
	} else {
		runCtx, cancel = context.WithCancel(b.tab)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if b.transportFailure(err) {
		b.mu.Lock()
		if b.err == nil {
			b.err = err
			b.logger.Warn("browser connection lost", "error", err)
		}
		b.mu.Unlock()
	}
	return err
}

// transportFailure reports whether err came from a lost tab or connection
// rather than from the page. Per-call timeouts and protocol errors returned
// by a live page are misses.
func (b *Browser) transportFailure(err error) bool {
	if b.tab.Err() != nil {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perr *cdproto.Error
	return !errors.As(err, &perr)
}

// Err returns the first transport failure seen on the tab.
func (b *Browser) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, 0, chromedp.Navigate(url))
}

func (b *Browser) WaitFor(ctx context.Context, selector string, timeout time.Duration) (scraper.Element, bool) {
	var nodes []*cdp.Node
	err := b.run(ctx, timeout, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.NodeVisible))
	if err != nil || len(nodes) == 0 {
		return nil, false
	}
	return &element{b: b, node: nodes[0]}, true
}

func (b *Browser) Find(ctx context.Context, selector string) (scraper.Element, bool) {
	nodes, err := b.query(ctx, selector, chromedp.ByQuery)
	if err != nil || len(nodes) == 0 {
		return nil, false
	}
	return &element{b: b, node: nodes[0]}, true
}

func (b *Browser) FindAll(ctx context.Context, selector string) ([]scraper.Element, error) {
	nodes, err := b.query(ctx, selector, chromedp.ByQueryAll)
	if err != nil {
		return nil, err
	}
	out := make([]scraper.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{b: b, node: n})
	}
	return out, nil
}

// query looks selector up without waiting for it to appear.
func (b *Browser) query(ctx context.Context, selector string, by chromedp.QueryOption, extra ...chromedp.QueryOption) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	opts := append([]chromedp.QueryOption{by, chromedp.AtLeast(0)}, extra...)
	if err := b.run(ctx, readTimeout, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("querying %q: %w", selector, err)
	}
	return nodes, nil
}

func (b *Browser) ScrollHeight(ctx context.Context) (int, error) {
	var h int
	if err := b.run(ctx, readTimeout, chromedp.Evaluate(`document.body.scrollHeight`, &h)); err != nil {
		return 0, fmt.Errorf("reading scroll height: %w", err)
	}
	return h, nil
}

func (b *Browser) ScrollTo(ctx context.Context, y int) error {
	var ok bool
	return b.run(ctx, readTimeout, chromedp.Evaluate(fmt.Sprintf(`window.scrollTo(0, %d); true`, y), &ok))
}

// WithAuxiliary opens url in a new tab of the same browser and closes the
// tab when fn returns.
func (b *Browser) WithAuxiliary(ctx context.Context, url string, fn func(ctx context.Context, p scraper.Page) error) error {
	tab, cancel := chromedp.NewContext(b.tab)
	defer cancel()

	aux := &Browser{tab: tab, logger: b.logger}
	b.logger.Debug("opening auxiliary tab", "url", url)
	if err := aux.Navigate(ctx, url); err != nil {
		return fmt.Errorf("opening %s: %w", url, err)
	}
	return fn(ctx, aux)
}

type element struct {
	b    *Browser
	node *cdp.Node
}

func (e *element) ids() []cdp.NodeID { return []cdp.NodeID{e.node.NodeID} }

func (e *element) Find(ctx context.Context, selector string) (scraper.Element, bool) {
	nodes, err := e.b.query(ctx, selector, chromedp.ByQuery, chromedp.FromNode(e.node))
	if err != nil || len(nodes) == 0 {
		return nil, false
	}
	return &element{b: e.b, node: nodes[0]}, true
}

// Text returns innerText, which keeps the line breaks between blocks.
func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.b.run(ctx, readTimeout, chromedp.Text(e.ids(), &text, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	return text, nil
}

func (e *element) Attr(_ context.Context, name string) (string, bool) {
	return e.node.Attribute(name)
}

// Visible reports whether the node has a layout box.
func (e *element) Visible(ctx context.Context) bool {
	err := e.b.run(ctx, readTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := dom.GetBoxModel().WithNodeID(e.node.NodeID).Do(ctx)
		return err
	}))
	return err == nil
}

func (e *element) Click(ctx context.Context) error {
	err := e.b.run(ctx, clickTimeout, chromedp.Click(e.ids(), chromedp.ByNodeID))
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("element not clickable within %s", clickTimeout)
	}
	return err
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	return e.b.run(ctx, readTimeout, chromedp.ScrollIntoView(e.ids(), chromedp.ByNodeID))
}
