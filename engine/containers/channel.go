package containers

import "sync"

// Channel is an unbounded multi-producer single-consumer queue. Send never
// blocks; the consumer takes everything queued so far with Drain.
type Channel[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
}

func NewChannel[T any]() *Channel[T] {
	return &Channel[T]{}
}

// Send queues v. It reports false once the channel is closed.
func (c *Channel[T]) Send(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.items = append(c.items, v)
	return true
}

// Drain returns the queued values in send order and empties the channel.
func (c *Channel[T]) Drain() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := c.items
	c.items = nil
	return items
}

func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close rejects further sends. Values already queued can still be drained.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
