package costar

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Rate returns the current limit.
func (a *AdaptiveLimiter) Rate() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Pacer enforces a minimum interval between the end of one request and the
// start of the next. The gate is held for the duration of the request, so at
// most one request is in flight per Pacer.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	limiter  *AdaptiveLimiter
	nowFunc  func() time.Time
}

// NewPacer creates a Pacer. A nil limiter disables the adaptive ceiling.
func NewPacer(interval time.Duration, limiter *AdaptiveLimiter) *Pacer {
	return &Pacer{interval: interval, limiter: limiter, nowFunc: time.Now}
}

// Do waits for the gate, runs fn and records its end time.
func (p *Pacer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() {
		if wait := p.interval - p.nowFunc().Sub(p.last); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	err := fn(ctx)
	p.last = p.nowFunc()
	return err
}

// OnSuccess feeds a successful response to the adaptive ceiling.
func (p *Pacer) OnSuccess() {
	if p.limiter != nil {
		p.limiter.OnSuccess()
	}
}

// OnRateLimit feeds a 429 to the adaptive ceiling.
func (p *Pacer) OnRateLimit() {
	if p.limiter != nil {
		p.limiter.OnRateLimit()
	}
}
