package external

import (
	"context"
	"sync"
	"time"
)

// Pacer serializes calls to a minimum inter-call spacing. Each waiter
// reserves the next slot under the lock, then sleeps outside it, so
// concurrent callers line up one interval apart.
type Pacer struct {
	mu       sync.Mutex
	next     time.Time
	interval time.Duration
}

// NewPacer builds a pacer with the given spacing.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Pacer{interval: interval}
}

// Wait blocks until the caller's reserved slot arrives or the context
// is done.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	now := time.Now()
	slot := p.next
	if slot.Before(now) {
		slot = now
	}
	p.next = slot.Add(p.interval)
	p.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
