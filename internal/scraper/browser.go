package scraper

import (
	"context"
	"time"
)

// Element is a DOM node on a rendered page.
//
// Lookups report a missing node and a broken page the same way; the owning
// Page's Err tells the two apart.
type Element interface {
	// Find returns the first descendant matching a CSS selector.
	Find(ctx context.Context, selector string) (Element, bool)
	// Text returns the rendered text, with line breaks between blocks.
	Text(ctx context.Context) (string, error)
	Attr(ctx context.Context, name string) (string, bool)
	Visible(ctx context.Context) bool
	Click(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
}

// Page is a browsing context showing one document at a time.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitFor waits up to timeout for selector to match a visible element.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (Element, bool)
	Find(ctx context.Context, selector string) (Element, bool)
	FindAll(ctx context.Context, selector string) ([]Element, error)
	ScrollHeight(ctx context.Context) (int, error)
	ScrollTo(ctx context.Context, y int) error
	// Err returns the first transport failure seen by the page or its
	// elements, and nil while the browser still answers. Once set it stays
	// set.
	Err() error
}

// AuxiliaryOpener opens pages beside the primary one.
type AuxiliaryOpener interface {
	// WithAuxiliary opens url in a separate browsing context, calls fn with
	// it and closes it again. The primary page keeps its document and scroll
	// position.
	WithAuxiliary(ctx context.Context, url string, fn func(ctx context.Context, p Page) error) error
}

// Browser is a primary page that can also open auxiliary contexts.
type Browser interface {
	Page
	AuxiliaryOpener
}
