package motors

import (
	"context"
	"sync/atomic"
)

// DefaultQueueSize is the capacity of a motor task queue.
const DefaultQueueSize = 10

// Queue is the bounded inbox of a motor task.
type Queue struct {
	ch      chan Message
	dropped atomic.Uint64
}

// NewQueue returns a queue holding up to size messages.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Message, size)}
}

// Send blocks until msg is queued or ctx is done.
func (q *Queue) Send(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendFromISR queues msg without blocking. If the queue is full the message is dropped, counted,
// and false is returned.
func (q *Queue) SendFromISR(msg Message) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Recv blocks until a message arrives or ctx is done.
func (q *Queue) Recv(ctx context.Context) (Message, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped returns how many messages SendFromISR has dropped.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return len(q.ch)
}
