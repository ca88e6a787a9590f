// Package worker runs jobs on a fixed number of goroutines
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
)

// RunFunc processes one job to its terminal state
type RunFunc func(ctx context.Context, job *models.Job) error

// Task is a unit of work handed to the pool
type Task struct {
	Context context.Context
	Job     *models.Job
}

// Result is the outcome of a task
type Result struct {
	Job *models.Job
	Err error
}

// Pool manages a pool of worker goroutines for concurrent job execution.
// Jobs on different workspaces run concurrently; exclusivity per workspace
// comes from the lock taken at submission.
type Pool struct {
	workers int
	tasks   chan Task
	results chan Result
	run     RunFunc
	logger  *lib.Logger
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

// NewPool creates a pool; results are buffered to queueSize
func NewPool(workers int, queueSize int, run RunFunc, logger *lib.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = lib.DiscardLogger
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers: workers,
		tasks:   make(chan Task, queueSize),
		results: make(chan Result, queueSize),
		run:     run,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the workers
func (p *Pool) Start() {
	p.logger.Info("Starting worker pool", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop waits for queued and running tasks, then closes Results
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.results)
	p.cancel()

	p.logger.Info("Worker pool stopped")
}

// Submit queues a task; it blocks while the queue is full
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return fmt.Errorf("worker pool is stopped")
	}
	if task.Context == nil {
		task.Context = p.ctx
	}

	select {
	case p.tasks <- task:
		p.logger.Debug("Job submitted to worker pool", "job_id", task.Job.ResourceID)
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Results returns the results channel. It must be drained when more tasks
// than the queue size are submitted.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// QueueLength returns the number of queued tasks
func (p *Pool) QueueLength() int {
	return len(p.tasks)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", "worker_id", id)

	for task := range p.tasks {
		p.logger.Debug("Worker processing job", "worker_id", id, "job_id", task.Job.ResourceID)

		err := p.run(task.Context, task.Job)
		p.results <- Result{Job: task.Job, Err: err}
	}

	p.logger.Debug("Worker stopped", "worker_id", id)
}
