package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultLimit is the provider's free-tier allowance per window.
	DefaultLimit = 60
	// DefaultWindow is the rolling window the limit applies to.
	DefaultWindow = 60 * time.Second
	// DefaultSafetyMargin keeps us a couple of requests under the hard limit.
	DefaultSafetyMargin = 2

	// pollInterval is used when every slot is held by an in-flight reservation
	// and there is no recorded stamp to wait on yet.
	pollInterval = 50 * time.Millisecond
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(g *Governor) { g.clock = c }
}

// WithPacing spaces requests out to at most rps per second on top of the window bound.
// Zero or negative disables pacing.
func WithPacing(rps float64) Option {
	return func(g *Governor) {
		if rps > 0 {
			g.pacer = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// Governor bounds outbound requests to threshold per rolling window.
// Stamps are kept in order and purged lazily before each capacity check.
type Governor struct {
	mu        sync.Mutex
	stamps    []time.Time
	reserved  int
	threshold int
	window    time.Duration
	clock     Clock
	pacer     *rate.Limiter
}

// New creates a Governor allowing limit-margin requests per window.
// Non-positive limit or window fall back to the defaults; the threshold is never below 1.
func New(limit int, window time.Duration, margin int, opts ...Option) *Governor {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if margin < 0 {
		margin = 0
	}
	threshold := limit - margin
	if threshold < 1 {
		threshold = 1
	}
	g := &Governor{
		threshold: threshold,
		window:    window,
		clock:     realClock{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Threshold returns the number of requests allowed per window.
func (g *Governor) Threshold() int {
	return g.threshold
}

// Acquire blocks until one more request fits in the window, then reserves the slot.
// The caller must call Record once the request has been issued.
// Returns only ctx.Err() on cancellation.
func (g *Governor) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		g.mu.Lock()
		now := g.clock.Now()
		g.purgeLocked(now)
		if len(g.stamps)+g.reserved < g.threshold {
			g.reserved++
			g.mu.Unlock()
			break
		}
		wait := pollInterval
		if len(g.stamps) > 0 {
			wait = g.stamps[0].Add(g.window).Sub(now)
		}
		g.mu.Unlock()

		// Re-check after sleeping: another caller may have taken the freed slot.
		if err := g.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	if g.pacer != nil {
		if err := g.pacer.Wait(ctx); err != nil {
			g.Release()
			return err
		}
	}
	return nil
}

// Record turns a reservation into a stamp at t. Call after the request, whatever its outcome.
func (g *Governor) Record(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reserved > 0 {
		g.reserved--
	}
	// Keep stamps ordered even if callers record out of order.
	i := len(g.stamps)
	for i > 0 && g.stamps[i-1].After(t) {
		i--
	}
	g.stamps = append(g.stamps, time.Time{})
	copy(g.stamps[i+1:], g.stamps[i:])
	g.stamps[i] = t
}

// InWindow returns the number of stamps inside the current window.
func (g *Governor) InWindow() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.purgeLocked(g.clock.Now())
	return len(g.stamps)
}

// Release returns a reservation taken by Acquire when no request was issued.
func (g *Governor) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reserved > 0 {
		g.reserved--
	}
}

// purgeLocked drops stamps that have left the window. Must be called with mu held.
func (g *Governor) purgeLocked(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for ; i < len(g.stamps) && !g.stamps[i].After(cutoff); i++ {
	}
	if i > 0 {
		g.stamps = append(g.stamps[:0], g.stamps[i:]...)
	}
}
