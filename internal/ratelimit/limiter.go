// Package ratelimit implements the shared outbound call budget. A single
// Limiter instance is shared by the content-platform reader, the ads client
// and every agent tool, so the whole process stays inside one window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prospector-io/prospector/internal/telemetry"
)

const (
	// DefaultBudget is the per-window call allowance.
	DefaultBudget = 60
	// DefaultSafetyBuffer is the floor below which callers block until the
	// window resets.
	DefaultSafetyBuffer = 5
	// DefaultWindow is the budget window length.
	DefaultWindow = time.Minute
)

// Limiter tracks a remaining-budget counter against a reset window,
// refreshed from server-reported headers when present. The counter is
// self-healing: if the window has elapsed it resets locally to full budget
// even when headers are absent or stale.
type Limiter struct {
	mu sync.Mutex

	budget    int
	buffer    int
	window    time.Duration
	remaining int
	used      int
	resetAt   time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter with the given budget, safety buffer and window.
func New(budget, buffer int, window time.Duration) *Limiter {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if buffer < 0 {
		buffer = DefaultSafetyBuffer
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		budget:    budget,
		buffer:    buffer,
		window:    window,
		remaining: budget,
		now:       time.Now,
		sleep:     sleepCtx,
	}
	l.resetAt = l.now().Add(window)
	return l
}

// NewDefault creates a Limiter with the standard 60/minute budget and a
// 5-call safety buffer.
func NewDefault() *Limiter {
	return New(DefaultBudget, DefaultSafetyBuffer, DefaultWindow)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acquire blocks until a unit of budget is available, then consumes it.
// If the remaining budget is at or below the safety buffer, the caller
// waits for the window to reset and the counter refills to full budget.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.resetIfElapsed()

	if l.remaining <= l.buffer {
		wait := l.resetAt.Sub(l.now())
		l.mu.Unlock()
		if wait > 0 {
			telemetry.RateLimitWaits.Inc()
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
		l.mu.Lock()
		l.resetIfElapsed()
	}

	l.remaining--
	l.used++
	l.mu.Unlock()
	return nil
}

// Observe ingests server-reported rate-limit headers. Zero values are
// ignored so partial headers never poison the local counter.
func (l *Limiter) Observe(remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if remaining > 0 {
		l.remaining = remaining
	}
	if !resetAt.IsZero() && resetAt.After(l.now()) {
		l.resetAt = resetAt
	}
}

// Snapshot returns the current counters for diagnostics.
func (l *Limiter) Snapshot() (remaining, used int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining, l.used, l.resetAt
}

// resetIfElapsed refills the counter when the window has passed.
// Caller must hold l.mu.
func (l *Limiter) resetIfElapsed() {
	if !l.now().Before(l.resetAt) {
		l.remaining = l.budget
		l.used = 0
		l.resetAt = l.now().Add(l.window)
	}
}
