// Package dispatcher manages worker fan-out over the harvest queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
	"github.com/JakeFAU/registry-harvester/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   harvest.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue harvest.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until every worker has returned, which
// happens once the context finishes or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

type tryEnqueuer interface {
	TryEnqueue(item harvest.QueueItem) error
}

// Enqueue proxies to the underlying queue. Queues that support it are
// offered the item without blocking and report harvest.ErrQueueFull.
func (d *Dispatcher) Enqueue(ctx context.Context, item harvest.QueueItem) error {
	if q, ok := d.queue.(tryEnqueuer); ok {
		if err := q.TryEnqueue(item); err != nil {
			return fmt.Errorf("queue enqueue: %w", err)
		}
		return nil
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
