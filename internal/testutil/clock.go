package testutil

import (
	"sync"
	"time"
)

// FixedClock is a thread-safe archive.Clock pinned to a known instant.
//
// Deterministic retrieval timestamps keep run transcripts and golden
// comparisons byte-stable across test executions. With a non-zero step
// the clock advances on every reading; with step 0 it stays frozen.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex.
type FixedClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// NewFixedClock creates a clock starting at start, advancing by step per
// Now() call. Use step 0 for a frozen clock.
func NewFixedClock(start time.Time, step time.Duration) *FixedClock {
	return &FixedClock{start: start, now: start, step: step}
}

// Now returns the current instant and advances the clock by the step.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Reset rewinds the clock to its start instant.
//
// Used for test reuse: the same scenario re-run after Reset() produces
// identical timestamps.
func (c *FixedClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
