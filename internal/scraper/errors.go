package scraper

import "fmt"

// SessionError is an unrecoverable scrape failure. Partial records collected
// before it are discarded.
type SessionError struct {
	Op   string
	Page int
	Err  error
}

func (e *SessionError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("%s on page %d: %v", e.Op, e.Page, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

func (e *SessionError) Kind() string { return "SessionError" }
