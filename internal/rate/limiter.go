// Package rate paces calls against the mail store so a tight poll loop
// cannot burn API quota.
package rate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter gates outbound API calls so we respect Gmail rate limits.
type Limiter interface {
	Wait(ctx context.Context) error
}

// MinInterval enforces a minimum gap between consecutive calls. The first
// call proceeds immediately; later calls block until the gap has elapsed
// since the previous admission. Safe for concurrent use.
type MinInterval struct {
	gap time.Duration

	mu   sync.Mutex
	next time.Time
}

// NewMinInterval returns a limiter admitting at most one call per gap.
func NewMinInterval(gap time.Duration) *MinInterval {
	if gap <= 0 {
		gap = time.Second
	}
	return &MinInterval{gap: gap}
}

// Wait blocks until this call's slot arrives or the context is canceled.
func (m *MinInterval) Wait(ctx context.Context) error {
	m.mu.Lock()
	now := time.Now()
	delay := m.next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	m.next = now.Add(delay + m.gap)
	m.mu.Unlock()

	if delay == 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pacing wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

var _ Limiter = (*MinInterval)(nil)
