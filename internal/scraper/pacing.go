package scraper

import (
	"context"
	"math/rand/v2"
	"time"
)

// Range bounds a uniformly drawn delay.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Timings are the pacing delays between browser actions.
type Timings struct {
	AfterNavigate  Range
	BeforeConsent  Range
	AfterDismiss   Range
	BeforeAdCheck  Range
	ScrollPause    Range
	ScrollStepMin  int // pixels
	ScrollStepMax  int
	CardSettle     Range
	ProfileOpen    Range
	AfterNextPage  Range
	ProfileTimeout time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		AfterNavigate:  Range{2 * time.Second, 3 * time.Second},
		BeforeConsent:  Range{1 * time.Second, 2 * time.Second},
		AfterDismiss:   Range{1 * time.Second, 2 * time.Second},
		BeforeAdCheck:  Range{1 * time.Second, 2 * time.Second},
		ScrollPause:    Range{200 * time.Millisecond, 400 * time.Millisecond},
		ScrollStepMin:  500,
		ScrollStepMax:  800,
		CardSettle:     Range{200 * time.Millisecond, 300 * time.Millisecond},
		ProfileOpen:    Range{300 * time.Millisecond, 500 * time.Millisecond},
		AfterNextPage:  Range{2 * time.Second, 3 * time.Second},
		ProfileTimeout: 3 * time.Second,
	}
}

// Pacer draws delays from bounded uniform distributions and sleeps them.
type Pacer struct {
	float func() float64
	intN  func(n int) int
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPacer() *Pacer {
	return &Pacer{float: rand.Float64, intN: rand.IntN, sleep: sleepContext}
}

// NewInstantPacer draws delays like NewPacer but never sleeps. It is meant
// for offline pages, where there is nobody to be polite to.
func NewInstantPacer() *Pacer {
	return &Pacer{float: rand.Float64, intN: rand.IntN, sleep: func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}}
}

// Draw returns a delay in [r.Min, r.Max].
func (p *Pacer) Draw(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(p.float()*float64(r.Max-r.Min))
}

// Between returns an integer in [lo, hi].
func (p *Pacer) Between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + p.intN(hi-lo+1)
}

// Pause sleeps for a delay drawn from r. It returns early with ctx.Err()
// when ctx is done.
func (p *Pacer) Pause(ctx context.Context, r Range) error {
	return p.sleep(ctx, p.Draw(r))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
