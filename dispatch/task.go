// Package dispatch queues incoming work and fans it out to a fixed pool of
// workers. Each task carries its caller's context and a completion gate the
// caller blocks on; a worker completes the gate exactly once whether the task
// ran, panicked, or was skipped because its caller had already gone.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/ocrserve/pipeline"
)

// Output is a task's result slot, filled once by the worker that claims it.
type Output struct {
	pipeline.Result

	// Success mirrors the wire contract: it stays true for every processed
	// image, including those that degraded to sentinel text. Only tasks that
	// never produced an Output at all fail.
	Success bool
}

// Task is one unit of work: an immutable snapshot of the request plus a
// single-assignment output slot and the gate its caller waits on.
type Task struct {
	ID       uuid.UUID
	Filename string
	BatchID  int32
	ImageID  int32
	Image    []byte

	ctx        context.Context
	enqueuedAt time.Time

	once sync.Once
	done chan struct{}
	out  Output
	err  error
}

// NewTask snapshots one request. The context is the submitting caller's:
// workers consult it to skip tasks whose caller has gone, and Wait unblocks
// when it ends.
func NewTask(ctx context.Context, filename string, batchID, imageID int32, image []byte) *Task {
	return &Task{
		ID:         uuid.New(),
		Filename:   filename,
		BatchID:    batchID,
		ImageID:    imageID,
		Image:      image,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}
}

// Context returns the submitting caller's context.
func (t *Task) Context() context.Context {
	if t.ctx != nil {
		return t.ctx
	}
	return context.Background()
}

// complete fills the output slot and opens the gate. Only the first call has
// any effect; a late completion from a slow worker is absorbed without
// touching the decided outcome.
func (t *Task) complete(out Output, err error) {
	t.once.Do(func() {
		t.out = out
		t.err = err
		close(t.done)
	})
}

// Wait blocks until a worker completes the task or the caller's context ends,
// whichever comes first. The task itself keeps its gate; a worker completing
// after an abandoned Wait writes into nothing the caller still reads.
func (t *Task) Wait() (Output, error) {
	select {
	case <-t.done:
		return t.out, t.err
	case <-t.Context().Done():
		return Output{}, t.Context().Err()
	}
}
