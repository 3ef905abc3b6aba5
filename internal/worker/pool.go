package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueClosed is returned by Enqueue after Stop.
var ErrQueueClosed = errors.New("worker queue closed")

// Processor drives one job to a terminal state.
type Processor interface {
	ProcessJob(ctx context.Context, jobID string) error
}

// Pool is a bounded worker pool consuming job ids from a fixed-size queue.
// Job concurrency is capped at the worker count; submissions block once the
// queue is full instead of spawning unsupervised goroutines.
type Pool struct {
	log     *slog.Logger
	proc    Processor
	jobs    chan string
	workers int

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPool(workers, queueSize int, proc Processor, log *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		log:     log,
		proc:    proc,
		jobs:    make(chan string, queueSize),
		workers: workers,
		quit:    make(chan struct{}),
	}
}

// Start launches the workers. Cancelling ctx stops them after the job each
// one is currently running; queued but unstarted jobs stay pending in the
// store and are requeued on the next boot.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.log.Info("worker pool started", "workers", p.workers, "queue_size", cap(p.jobs))
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case jobID := <-p.jobs:
			if err := p.proc.ProcessJob(ctx, jobID); err != nil {
				p.log.Error("job processing failed", "worker", id, "job_id", jobID, "err", err)
			}
		}
	}
}

// Enqueue hands a job id to the pool, blocking while the queue is full.
func (p *Pool) Enqueue(ctx context.Context, jobID string) error {
	select {
	case <-p.quit:
		return ErrQueueClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrQueueClosed
	case p.jobs <- jobID:
		return nil
	}
}

// Stop rejects further submissions and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}
