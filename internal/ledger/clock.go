package ledger

import (
	"sync"
	"time"
)

// Clock supplies the time stamped onto each state transition.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock, truncated to whole seconds like a block
// timestamp.
type SystemClock struct{}

// Now returns the current time in whole seconds.
func (SystemClock) Now() time.Time {
	return time.Now().Truncate(time.Second)
}

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a manual clock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
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

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
