package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Queue carries job IDs from the services to the worker pool. It holds no
// state of its own: the import_jobs table is the durable task list and the
// recovery poller refills the queue from it.
type Queue interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) error
	// Dequeue blocks until a job ID is available, ctx is done or the queue is closed
	Dequeue(ctx context.Context) (uuid.UUID, error)
	Close() error
}

// MemoryQueue is a bounded in-process queue
type MemoryQueue struct {
	ch     chan uuid.UUID
	done   chan struct{}
	once   sync.Once
	closed bool
	mu     sync.RWMutex
}

// NewMemoryQueue creates a queue buffering up to size job IDs
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{
		ch:   make(chan uuid.UUID, size),
		done: make(chan struct{}),
	}
}

// Enqueue never blocks; a full buffer yields ErrJobQueueFull
func (q *MemoryQueue) Enqueue(_ context.Context, jobID uuid.UUID) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- jobID:
		return nil
	default:
		return ErrJobQueueFull
	}
}

// Dequeue returns the next job ID
func (q *MemoryQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-q.done:
		return uuid.Nil, ErrQueueClosed
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
}

// Len returns the number of buffered job IDs
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close wakes all waiting consumers. Buffered IDs are dropped; their jobs are
// still processing in the database and will be recovered.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
	return nil
}
