package flowsim

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrQueueFull   = errors.New("run queue is full")
	ErrPoolStopped = errors.New("worker pool is stopped")
)

type Worker struct {
	runner   *Runner
	workerID string
	jobs     <-chan RunJob
	stopCh   chan struct{}
}

func NewWorker(runner *Runner, jobs <-chan RunJob) *Worker {
	return &Worker{
		runner:   runner,
		workerID: uuid.New().String(),
		jobs:     jobs,
		stopCh:   make(chan struct{}),
	}
}

func (w *Worker) ID() string {
	return w.workerID
}

func (w *Worker) Start(ctx context.Context) {
	slog.Info("[flowsim] worker started", "worker_id", w.workerID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("[flowsim] worker stopping: context cancelled", "worker_id", w.workerID)

			return
		case <-w.stopCh:
			slog.Info("[flowsim] worker stopping: stop signal received", "worker_id", w.workerID)

			return
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) process(ctx context.Context, job RunJob) {
	record, err := w.runner.Run(ctx, job)
	if err != nil {
		slog.Error("[flowsim] run failed",
			"worker_id", w.workerID, KeyRunID, job.RunID, KeyWorkflowID, job.WorkflowID, KeyError, err)

		return
	}

	slog.Info("[flowsim] run finished",
		"worker_id", w.workerID, KeyRunID, job.RunID, "status", record.Status,
		"failed_steps", len(record.State.FailedStepIDs))
}

// WorkerPool runs queued jobs on a fixed number of workers.
type WorkerPool struct {
	workers []*Worker
	runner  *Runner
	jobs    chan RunJob
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewWorkerPool(runner *Runner, size, queueSize int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	jobs := make(chan RunJob, queueSize)
	workers := make([]*Worker, size)
	for i := 0; i < size; i++ {
		workers[i] = NewWorker(runner, jobs)
	}

	return &WorkerPool{
		workers: workers,
		runner:  runner,
		jobs:    jobs,
	}
}

func (p *WorkerPool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			worker.Start(ctx)
		}()
	}
}

// Submit queues a job without blocking.
func (p *WorkerPool) Submit(job RunJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop signals every worker and waits for in-flight runs to finish.
// Jobs still queued are abandoned with ErrPoolStopped.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()

		return
	}
	p.stopped = true
	p.mu.Unlock()

	for _, worker := range p.workers {
		worker.Stop()
	}
	p.wg.Wait()

	p.drain()
}

func (p *WorkerPool) drain() {
	for {
		select {
		case job := <-p.jobs:
			if err := p.runner.Abandon(context.Background(), job, ErrPoolStopped); err != nil {
				slog.Error("[flowsim] failed to abandon queued run", KeyRunID, job.RunID, KeyError, err)
			}
		default:
			return
		}
	}
}

func (p *WorkerPool) Size() int {
	return len(p.workers)
}
