// Package batchqueue provides the bounded producer/consumer queue that
// connects the frontier feeder to stage workers.
package batchqueue

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

// Queue is a bounded FIFO with batch draining. Put blocks when the queue is
// full, which is the backpressure signal that keeps the feeder from racing
// ahead of the workers. Consumers pull batches with GetBatchOrWait; once the
// producer is done and the queue drains, consumers observe ErrQueueClosed and
// exit cleanly.
type Queue[T any] struct {
	capacity  int
	batchSize int

	mu           sync.Mutex
	notFull      *sync.Cond
	notEmpty     *sync.Cond
	items        []T
	producerDone bool
}

// New creates a queue with the given capacity and batch size. Capacity and
// batch size must be positive; batch size is capped at capacity.
func New[T any](capacity, batchSize int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchSize > capacity {
		batchSize = capacity
	}
	q := &Queue[T]{
		capacity:  capacity,
		batchSize: batchSize,
		items:     make([]T, 0, capacity),
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Put appends one item, blocking while the queue is full. It returns
// ErrQueueClosed after MarkProducerDone and the context error when ctx is
// cancelled mid-wait.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) >= q.capacity && !q.producerDone {
		if err := q.waitLocked(ctx, q.notFull); err != nil {
			return err
		}
	}
	if q.producerDone {
		return crawl.ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return nil
}

// GetBatchOrWait returns up to batchSize items. When the queue is empty it
// waits up to timeout for the first item, then drains whatever is available
// without further waiting. It returns ErrQueueClosed only once the producer
// is done AND the queue is fully drained; a timeout with a live producer
// returns an empty batch and nil error so the caller can loop.
func (q *Queue[T]) GetBatchOrWait(ctx context.Context, timeout time.Duration) ([]T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		if q.producerDone {
			return nil, crawl.ErrQueueClosed
		}
		deadline := time.Now().Add(timeout)
		for len(q.items) == 0 && !q.producerDone {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil
			}
			if err := q.waitTimedLocked(ctx, q.notEmpty, remaining); err != nil {
				return nil, err
			}
		}
		if len(q.items) == 0 && q.producerDone {
			return nil, crawl.ErrQueueClosed
		}
	}

	n := q.batchSize
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]T, n)
	copy(batch, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	q.notFull.Broadcast()
	return batch, nil
}

// MarkProducerDone signals that no further Put calls will arrive. Waiting
// consumers wake immediately; they keep draining buffered items and then see
// ErrQueueClosed.
func (q *Queue[T]) MarkProducerDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.producerDone = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Done reports whether the producer finished and the queue drained.
func (q *Queue[T]) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.producerDone && len(q.items) == 0
}

// waitLocked waits on cond while honoring context cancellation. The watcher
// goroutine broadcasts on cancel so the wait never hangs.
func (q *Queue[T]) waitLocked(ctx context.Context, cond *sync.Cond) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		cond.Broadcast()
	})
	defer stop()
	cond.Wait()
	return ctx.Err()
}

// waitTimedLocked is waitLocked with an additional wake after d.
func (q *Queue[T]) waitTimedLocked(ctx context.Context, cond *sync.Cond, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		cond.Broadcast()
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		cond.Broadcast()
	})
	defer stop()
	cond.Wait()
	return ctx.Err()
}
