// Package memory provides the bounded in-process harvest queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
)

var (
	// ErrQueueFull is returned by TryEnqueue when no capacity is left.
	ErrQueueFull = harvest.ErrQueueFull
	// ErrQueueClosed is returned once Close has been called.
	ErrQueueClosed = harvest.ErrQueueClosed
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan harvest.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan harvest.QueueItem, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item harvest.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// TryEnqueue pushes a job without blocking.
func (q *Queue) TryEnqueue(item harvest.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (harvest.QueueItem, error) {
	select {
	case <-ctx.Done():
		return harvest.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return harvest.QueueItem{}, ErrQueueClosed
		}
		return item, nil
	}
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Queued jobs can still be
// dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
