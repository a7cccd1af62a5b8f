// Package testutil provides fakes for deterministic cache tests.
package testutil

import (
	"sync"
	"time"
)

// Clock is a manually advanced clock for TTL tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock starting at a fixed reference time.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time. Pass this method as the cache's time
// source.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
