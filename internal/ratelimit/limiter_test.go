package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/prospector-io/prospector/internal/telemetry"
)

// fakeClock drives the limiter deterministically without real sleeps.
type fakeClock struct {
	now time.Time
}

func newTestLimiter(budget, buffer int, window time.Duration) (*Limiter, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	l := New(budget, buffer, window)
	l.now = func() time.Time { return clk.now }
	l.sleep = func(ctx context.Context, d time.Duration) error {
		clk.now = clk.now.Add(d)
		return nil
	}
	l.resetAt = clk.now.Add(window)
	return l, clk
}

func TestAcquireConsumesBudget(t *testing.T) {
	l, _ := newTestLimiter(10, 2, time.Minute)
	for i := 0; i < 5; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	remaining, used, _ := l.Snapshot()
	if remaining != 5 || used != 5 {
		t.Fatalf("remaining=%d used=%d, want 5/5", remaining, used)
	}
}

func TestAcquireBlocksAtBufferThenResets(t *testing.T) {
	l, clk := newTestLimiter(10, 2, time.Minute)
	start := clk.now
	// Burn budget down to the buffer.
	for i := 0; i < 8; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	// Next call must wait for the window and refill to full budget.
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after buffer: %v", err)
	}
	if !clk.now.After(start) {
		t.Fatalf("expected simulated wait past window start")
	}
	remaining, used, _ := l.Snapshot()
	if remaining != 9 || used != 1 {
		t.Fatalf("remaining=%d used=%d after reset, want 9/1", remaining, used)
	}
}

func TestAcquireWaitCounted(t *testing.T) {
	l, _ := newTestLimiter(10, 2, time.Minute)
	before := testutil.ToFloat64(telemetry.RateLimitWaits)
	for i := 0; i < 9; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	if got := testutil.ToFloat64(telemetry.RateLimitWaits) - before; got != 1 {
		t.Fatalf("wait counter delta = %v, want 1", got)
	}
}

func TestWindowElapsedSelfHeals(t *testing.T) {
	l, clk := newTestLimiter(10, 2, time.Minute)
	for i := 0; i < 4; i++ {
		_ = l.Acquire(context.Background())
	}
	clk.now = clk.now.Add(2 * time.Minute)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	remaining, used, _ := l.Snapshot()
	if remaining != 9 || used != 1 {
		t.Fatalf("remaining=%d used=%d after elapsed window, want 9/1", remaining, used)
	}
}

func TestObserveHeaders(t *testing.T) {
	l, clk := newTestLimiter(60, 5, time.Minute)
	reset := clk.now.Add(30 * time.Second)
	l.Observe(12, reset)
	remaining, _, resetAt := l.Snapshot()
	if remaining != 12 {
		t.Fatalf("remaining=%d, want 12", remaining)
	}
	if !resetAt.Equal(reset) {
		t.Fatalf("resetAt=%v, want %v", resetAt, reset)
	}
	// Zero values must not poison the counter.
	l.Observe(0, time.Time{})
	remaining, _, resetAt = l.Snapshot()
	if remaining != 12 || !resetAt.Equal(reset) {
		t.Fatalf("stale observe mutated state: remaining=%d resetAt=%v", remaining, resetAt)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	l, _ := newTestLimiter(10, 2, time.Minute)
	l.sleep = sleepCtx
	for i := 0; i < 8; i++ {
		_ = l.Acquire(context.Background())
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatalf("expected context error while blocked at buffer")
	}
}
