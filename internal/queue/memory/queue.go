// Package memory provides the in-process queue used for local development
// and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/quarrylabs/quarry/internal/crawl"
)

// Queue is a bounded FIFO queue with context-aware operations.
type Queue struct {
	ch      chan crawl.QueueItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		ch: make(chan crawl.QueueItem, capacity),
	}
}

// Enqueue pushes an attempt into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item crawl.QueueItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next attempt, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawl.QueueItem, error) {
	select {
	case <-ctx.Done():
		return crawl.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return crawl.QueueItem{}, errors.New("queue closed")
		}
		return item, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
