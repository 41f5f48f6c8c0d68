package testutil

import (
	"sync"
	"time"
)

// ManualClock is a controllable time source for timestamp-versioned
// tests. It never moves on its own; tests advance it explicitly, so
// version values are reproducible.
//
// Thread-safe via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock pinned at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the pinned instant. Matches the signature expected by
// meta.TimestampVersionType.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
