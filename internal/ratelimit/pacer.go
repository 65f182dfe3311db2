// Package ratelimit paces requests against the upstream marketplace.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default pacing values.
const (
	DefaultPageDelay      = 1 * time.Second
	DefaultLocationDelay  = 2 * time.Second
	DefaultThrottleFactor = 0.5
	DefaultRecoverEvery   = 10
)

// ErrContextCancelled is returned when the context is cancelled while pacing.
var ErrContextCancelled = errors.New("context cancelled while pacing")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// PacerConfig holds pacing configuration.
type PacerConfig struct {
	// PageDelay is the fixed gap between successive pages of one location.
	PageDelay time.Duration
	// LocationDelay is the fixed gap between successive locations of one cycle.
	LocationDelay time.Duration
	// RequestsPerSecond is the ceiling on upstream requests. Zero disables it.
	RequestsPerSecond float64
	// MinRequestsPerSecond is the floor the ceiling can be lowered to on throttling.
	MinRequestsPerSecond float64
	// Sleep replaces the real clock in tests.
	Sleep SleepFunc
}

// Validate checks if the configuration is valid.
func (c *PacerConfig) Validate() error {
	if c.PageDelay < 0 {
		return errors.New("page delay cannot be negative")
	}
	if c.LocationDelay < 0 {
		return errors.New("location delay cannot be negative")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("requests per second cannot be negative")
	}
	if c.MinRequestsPerSecond > c.RequestsPerSecond && c.RequestsPerSecond > 0 {
		return errors.New("minimum requests per second cannot exceed the ceiling")
	}
	return nil
}

// Pacer enforces the fixed page and location gaps of an indexing cycle and an
// adaptive requests/second ceiling. Throttling responses halve the ceiling
// down to the floor; every DefaultRecoverEvery successes restore a step.
type Pacer struct {
	pageDelay     time.Duration
	locationDelay time.Duration
	sleep         SleepFunc

	mu       sync.Mutex
	lim      *rate.Limiter
	curr     rate.Limit
	min, max rate.Limit
	okCount  int
}

// NewPacer creates a pacer. Returns an error if the configuration is invalid.
func NewPacer(cfg *PacerConfig) (*Pacer, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pacer{
		pageDelay:     cfg.PageDelay,
		locationDelay: cfg.LocationDelay,
		sleep:         cfg.Sleep,
	}
	if p.sleep == nil {
		p.sleep = Sleep
	}

	if cfg.RequestsPerSecond > 0 {
		floor := cfg.MinRequestsPerSecond
		if floor <= 0 {
			floor = cfg.RequestsPerSecond / 8
		}
		p.curr = rate.Limit(cfg.RequestsPerSecond)
		p.max = p.curr
		p.min = rate.Limit(floor)
		p.lim = rate.NewLimiter(p.curr, 1)
	}
	return p, nil
}

// Sleep is the real-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ErrContextCancelled
	case <-t.C:
		return nil
	}
}

// BetweenPages blocks for the fixed inter-page gap.
func (p *Pacer) BetweenPages(ctx context.Context) error {
	return p.sleep(ctx, p.pageDelay)
}

// BetweenLocations blocks for the fixed inter-location gap.
func (p *Pacer) BetweenLocations(ctx context.Context) error {
	return p.sleep(ctx, p.locationDelay)
}

// Wait blocks until the requests/second ceiling admits one more request.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	lim := p.lim
	p.mu.Unlock()

	if lim == nil {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ErrContextCancelled
		}
		return err
	}
	return nil
}

// OnOK records a successful request and slowly raises a lowered ceiling.
func (p *Pacer) OnOK() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lim == nil || p.curr >= p.max {
		return
	}
	p.okCount++
	if p.okCount < DefaultRecoverEvery {
		return
	}
	p.okCount = 0
	next := p.curr * 2
	if next > p.max {
		next = p.max
	}
	p.curr = next
	p.lim.SetLimit(p.curr)
}

// OnThrottle lowers the ceiling after the upstream signalled throttling.
func (p *Pacer) OnThrottle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lim == nil {
		return
	}
	next := rate.Limit(float64(p.curr) * DefaultThrottleFactor)
	if next < p.min {
		next = p.min
	}
	p.okCount = 0
	if next != p.curr {
		p.curr = next
		p.lim.SetLimit(p.curr)
	}
}

// CurrentLimit returns the current requests/second ceiling (0 when disabled).
func (p *Pacer) CurrentLimit() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.curr)
}
