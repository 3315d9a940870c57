package task

import "sync"

// Channel is an unbounded FIFO mailbox between run goroutines and the
// interactive goroutine. Enqueue is safe from any goroutine; TryDequeue is
// meant for a single consumer. Messages from one producer keep their order.
type Channel struct {
	mu    sync.Mutex
	queue []Message
}

// NewChannel creates an empty Channel.
func NewChannel() *Channel {
	return &Channel{}
}

// Enqueue appends msg without blocking.
func (c *Channel) Enqueue(msg Message) {
	c.mu.Lock()
	c.queue = append(c.queue, msg)
	c.mu.Unlock()
}

// TryDequeue removes and returns the oldest message.
// It returns false when the channel is empty.
func (c *Channel) TryDequeue() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Message{}, false
	}
	msg := c.queue[0]
	c.queue[0] = Message{}
	c.queue = c.queue[1:]
	if len(c.queue) == 0 {
		c.queue = nil
	}
	return msg, true
}

// Len returns the number of queued messages.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
