// Package testutil provides the deterministic time and identity sources
// the controller and simulation tests plug in instead of the real ones.
package testutil

import (
	"sync"
	"time"
)

// FakeClock is a settable wall-clock source for tests. The controller takes
// its notion of "now" from a func() time.Time, so FakeClock.Now slots in
// directly and makes dwell timers, modulation periods and phase boundaries
// deterministic.
//
// All methods are safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock frozen at the given instant.
func NewFakeClock(at time.Time) *FakeClock {
	return &FakeClock{now: at}
}

// Now returns the current fake instant.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Non-positive durations are ignored;
// fake time, like real time, never runs backward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
}

// Set jumps the clock to the given instant. Intended for scenario setup;
// mid-test jumps backward will confuse anything holding a dwell timer.
func (c *FakeClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}
