package testutil

import (
	"sync"
	"time"
)

// DeterministicClock provides a thread-safe monotonic logical clock for tests
// and simulations.
//
// It doubles as a wall clock for crdt.WithNow: every Now call advances the
// sequence and reports it as unix milliseconds, so operation timestamps are
// reproducible. The clock can be reset for test reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a new deterministic clock starting at 0.
//
// The first call to Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{seq: 0}
}

// Next increments and returns the next sequence number.
//
// Thread-safe: uses mutex to protect seq access.
// Monotonic: always returns seq+1, never decreases.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
//
// Thread-safe: uses mutex to protect seq access.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset resets the clock to 0.
//
// Used for test reuse. After Reset(), the next call to Next() returns 1.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// Now advances the clock and returns the new value as a unix millisecond
// timestamp. It matches the signature expected by crdt.WithNow.
func (c *DeterministicClock) Now() time.Time {
	return time.UnixMilli(c.Next())
}

// Set moves the clock so that the next call to Next returns seq+1.
// Scenarios use it to pin the timestamp of a specific edit.
func (c *DeterministicClock) Set(seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = seq
}
