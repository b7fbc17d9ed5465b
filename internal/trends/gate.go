package trends

import (
	"context"
	"sync"
	"time"
)

// Gate enforces a minimum delay between any two external calls. All fetch
// paths share one Gate instance, so the spacing holds across keywords and
// across retries. The zero delay disables spacing.
type Gate struct {
	mu    sync.Mutex
	delay time.Duration
	last  time.Time

	now   func() time.Time                          // injectable for tests
	sleep func(context.Context, time.Duration) error // injectable for tests
}

// NewGate returns a Gate with the given minimum delay between calls.
func NewGate(delay time.Duration) *Gate {
	return &Gate{
		delay: delay,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Wait blocks until the caller may proceed, reserving the next slot.
// Concurrent callers are granted strictly spaced slots in arrival order.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	now := g.now()
	target := g.last.Add(g.delay)
	if target.Before(now) {
		target = now
	}
	g.last = target
	g.mu.Unlock()

	return g.sleep(ctx, target.Sub(now))
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
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
