// Package clock abstracts wall-clock access so that window evaluation,
// override expiry and scheduler cadence can be driven manually in tests.
package clock

import (
	"sync"
	"time"
)

// Clock provides the time operations the engine depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After waits for the duration to elapse and then sends the current
	// time on the returned channel.
	After(d time.Duration) <-chan time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration
}

// Real implements Clock using the standard time package.
type Real struct{}

// NewReal creates a Real clock.
func NewReal() *Real {
	return &Real{}
}

func (c *Real) Now() time.Time {
	return time.Now()
}

func (c *Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (c *Real) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// Mock implements Clock with manually controlled time.
type Mock struct {
	mu      sync.Mutex
	current time.Time
	waiters []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewMock creates a Mock clock starting at the given time.
func NewMock(start time.Time) *Mock {
	return &Mock{current: start}
}

func (c *Mock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Mock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, waiter{deadline: c.current.Add(d), ch: ch})
	return ch
}

func (c *Mock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Sub(t)
}

// Advance moves the clock forward and releases any waiters whose deadline
// has passed.
func (c *Mock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	var pending []waiter
	var due []waiter
	for _, w := range c.waiters {
		if w.deadline.After(now) {
			pending = append(pending, w)
		} else {
			due = append(due, w)
		}
	}
	c.waiters = pending
	c.mu.Unlock()

	for _, w := range due {
		w.ch <- now
	}
}

// Set jumps the clock to a specific time, releasing due waiters when moving
// forward.
func (c *Mock) Set(t time.Time) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if t.After(current) {
		c.Advance(t.Sub(current))
		return
	}
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}
