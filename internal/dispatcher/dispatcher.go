// Package dispatcher owns the worker pool that drains the task queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/knowledge-base-crawler/internal/crawler"
	"github.com/JakeFAU/knowledge-base-crawler/internal/worker"
)

// Queue is a task queue that can stop accepting work.
type Queue interface {
	crawler.Queue
	Close()
}

// Dispatcher fans out queue work to a fixed pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Dispatcher.
func New(queue Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		done:    make(chan struct{}),
	}
}

// Start launches every worker. Workers stop when ctx ends or once the queue
// has been closed and drained. Start is a no-op after the first call.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	go func() {
		wg.Wait()
		close(d.done)
	}()
}

// Done is closed once every worker has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Shutdown closes the queue and waits for workers to finish queued and
// in-flight tasks. If ctx ends first, workers are canceled and Shutdown
// returns ctx's error once they have stopped.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.queue.Close()

	d.mu.Lock()
	started, cancel := d.started, d.cancel
	d.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-d.done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-d.done
		return fmt.Errorf("drain workers: %w", ctx.Err())
	}
}

// Enqueue hands a task to the worker pool.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		if errors.Is(err, crawler.ErrQueueClosed) {
			return fmt.Errorf("dispatcher shutting down: %w", err)
		}
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
