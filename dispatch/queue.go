package dispatch

import (
	"errors"
	"sync"
)

var (
	// ErrQueueFull reports that the queue's fixed capacity is exhausted.
	// Callers surface it as backpressure instead of blocking.
	ErrQueueFull = errors.New("dispatch: queue full")

	// ErrStopped reports a push after shutdown began.
	ErrStopped = errors.New("dispatch: queue stopped")
)

// Queue is a bounded FIFO handoff between request handlers and workers.
// Pushes never block; pops block until work arrives or the queue is closed
// and drained.
type Queue struct {
	mu     sync.Mutex
	tasks  chan *Task
	closed bool
}

// NewQueue creates a queue holding at most depth pending tasks.
func NewQueue(depth int) *Queue {
	if depth < 1 {
		depth = 1
	}
	return &Queue{tasks: make(chan *Task, depth)}
}

// Push appends a task. It returns ErrQueueFull when capacity is exhausted
// and ErrStopped after Close; the task is not retained in either case.
func (q *Queue) Push(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrStopped
	}
	select {
	case q.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pop removes the oldest task, blocking until one is available. It reports
// false once the queue is closed and fully drained.
func (q *Queue) Pop() (*Task, bool) {
	t, ok := <-q.tasks
	return t, ok
}

// Close stops admission. Tasks already queued remain claimable; Pop reports
// false once they are gone. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}

// Len reports how many tasks are waiting to be claimed.
func (q *Queue) Len() int { return len(q.tasks) }

// Cap reports the queue's fixed capacity.
func (q *Queue) Cap() int { return cap(q.tasks) }
