package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wudi/ocrserve/observability"
	"github.com/wudi/ocrserve/pipeline"
)

// Runner executes the processing pipeline over one task's image bytes.
type Runner interface {
	Run(ctx context.Context, image []byte) pipeline.Result
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Workers       int   `json:"workers"`
	QueueDepth    int   `json:"queue_depth"`
	QueueCapacity int   `json:"queue_capacity"`
	Active        int64 `json:"active"`
	Enqueued      int64 `json:"enqueued"`
	Completed     int64 `json:"completed"`
	Rejected      int64 `json:"rejected"`
	Skipped       int64 `json:"skipped"`
}

// Pool owns a fixed set of workers draining one shared queue. Tasks are
// claimed in FIFO order and each claimed task is processed at most once.
type Pool struct {
	queue   *Queue
	runner  Runner
	log     observability.Logger
	workers int

	wg sync.WaitGroup

	active    atomic.Int64
	enqueued  atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	skipped   atomic.Int64
}

// NewPool sizes the pool. Start launches the workers.
func NewPool(queue *Queue, workers int, runner Runner, log observability.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Pool{queue: queue, runner: runner, log: log, workers: workers}
}

// Start launches the workers. Call it once, before the first Submit.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info("worker pool started",
		observability.Int("workers", p.workers),
		observability.Int("queue_capacity", p.queue.Cap()))
}

// Submit enqueues a task. A full queue rejects with ErrQueueFull, shutdown
// rejects with ErrStopped; the task's gate stays untouched in both cases.
func (p *Pool) Submit(t *Task) error {
	if err := p.queue.Push(t); err != nil {
		if errors.Is(err, ErrQueueFull) {
			p.rejected.Add(1)
			p.log.Warn("task rejected, queue full",
				observability.String("task_id", t.ID.String()),
				observability.String("filename", t.Filename))
		}
		return err
	}
	p.enqueued.Add(1)
	return nil
}

// Shutdown stops admission and waits for the workers to drain whatever is
// already queued. When the context ends first, the wait is abandoned and an
// error returned; workers keep finishing in the background.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.queue.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Info("worker pool drained",
			observability.Int64("completed", p.completed.Load()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: drain interrupted: %w", ctx.Err())
	}
}

// Stats snapshots the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:       p.workers,
		QueueDepth:    p.queue.Len(),
		QueueCapacity: p.queue.Cap(),
		Active:        p.active.Load(),
		Enqueued:      p.enqueued.Load(),
		Completed:     p.completed.Load(),
		Rejected:      p.rejected.Load(),
		Skipped:       p.skipped.Load(),
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With(observability.Int("worker", id))
	for {
		task, ok := p.queue.Pop()
		if !ok {
			log.Debug("worker exiting")
			return
		}
		p.process(log, task)
	}
}

// process runs one claimed task and always completes its gate, even when the
// runner panics or the caller is already gone.
func (p *Pool) process(log observability.Logger, task *Task) {
	p.active.Add(1)
	defer p.active.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panic",
				observability.String("task_id", task.ID.String()),
				observability.String("filename", task.Filename),
				observability.String("panic", fmt.Sprint(r)))
			task.complete(Output{}, fmt.Errorf("dispatch: task %s panicked: %v", task.ID, r))
		}
	}()

	if err := task.Context().Err(); err != nil {
		p.skipped.Add(1)
		log.Debug("task skipped, caller gone",
			observability.String("task_id", task.ID.String()),
			observability.Error("err", err))
		task.complete(Output{}, err)
		return
	}

	log.Debug("task claimed",
		observability.String("task_id", task.ID.String()),
		observability.String("filename", task.Filename),
		observability.Duration("queue_wait", time.Since(task.enqueuedAt)),
		observability.Int("queue_depth", p.queue.Len()))

	res := p.runner.Run(task.Context(), task.Image)
	p.completed.Add(1)
	task.complete(Output{Result: res, Success: true}, nil)

	log.Info("task completed",
		observability.String("task_id", task.ID.String()),
		observability.String("filename", task.Filename),
		observability.Int("image_id", int(task.ImageID)),
		observability.Float64("elapsed_ms", res.ElapsedMS))
}
