package task

import (
	"context"
	"errors"
)

// ErrQueueFull is returned by [Queue.Send] when the queue has no room.
var ErrQueueFull = errors.New("command queue full")

// Queue is a bounded FIFO of commands with a single consumer.
type Queue struct {
	ch chan Command
}

// NewQueue returns a queue holding up to depth commands.
func NewQueue(depth int) *Queue {
	if depth < 1 {
		depth = 1
	}

	return &Queue{ch: make(chan Command, depth)}
}

// Send enqueues cm without blocking.
func (q *Queue) Send(cm Command) error {
	select {
	case q.ch <- cm:
		return nil
	default:
		return ErrQueueFull
	}
}

// Receive blocks until a command arrives or ctx is done.
func (q *Queue) Receive(ctx context.Context) (Command, error) {
	select {
	case cm := <-q.ch:
		return cm, nil
	case <-ctx.Done():
		return Command{}, ctx.Err()
	}
}

// tryReceive returns a queued command without blocking.
func (q *Queue) tryReceive() (Command, bool) {
	select {
	case cm := <-q.ch:
		return cm, true
	default:
		return Command{}, false
	}
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	return len(q.ch)
}
