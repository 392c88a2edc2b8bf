package capture

import "sync/atomic"

// EventCounter counts decoded blocks between rate computations.
// The capture loop is the only incrementer; the rate loop is the only drainer.
type EventCounter struct {
	n atomic.Int32
}

// Increment records one decoded block
func (c *EventCounter) Increment() {
	c.n.Add(1)
}

// Drain atomically returns the current count and resets it to zero.
// Increments racing with Drain land either before or after the swap, never both.
func (c *EventCounter) Drain() int32 {
	return c.n.Swap(0)
}

// Load returns the current count without resetting it
func (c *EventCounter) Load() int32 {
	return c.n.Load()
}
