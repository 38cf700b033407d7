package util

import (
	"sync"
	"time"
)

// Backoff paces retries against a flaky upstream: each Next doubles the
// previous delay until the limit is reached. Safe for concurrent use.
type Backoff struct {
	mu    sync.Mutex
	delay time.Duration
	limit time.Duration
}

// NewBackoff returns a backoff starting at initial and doubling up to limit.
func NewBackoff(initial, limit time.Duration) *Backoff {
	return &Backoff{delay: initial, limit: limit}
}

// Next returns the delay to wait before the upcoming attempt and advances
// the schedule.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.delay
	b.delay *= 2
	if b.delay > b.limit {
		b.delay = b.limit
	}
	return d
}
