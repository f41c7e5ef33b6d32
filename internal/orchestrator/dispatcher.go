package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kiranshivaraju/vegchange/internal/aoi"
)

// Runner executes one stored job.
type Runner interface {
	RunJob(ctx context.Context, id string, region aoi.AOI) error
}

type dispatch struct {
	jobID  string
	region aoi.AOI
}

// Dispatcher runs jobs on a fixed pool of workers fed by a bounded queue.
type Dispatcher struct {
	runner  Runner
	workers int
	logger  *slog.Logger

	mu      sync.Mutex
	queue   chan dispatch
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Start before Submit.
func NewDispatcher(runner Runner, workers, queueSize int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		runner:  runner,
		workers: workers,
		logger:  logger,
		queue:   make(chan dispatch, queueSize),
	}
}

// Start launches the workers. Jobs run with ctx; cancelling it makes the
// engine calls of in-flight jobs fail, which marks those jobs FAILED.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
}

// Submit queues a job without blocking. It returns false when the queue is
// full or the dispatcher has been stopped; the job then stays PENDING.
func (d *Dispatcher) Submit(jobID string, region aoi.AOI) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- dispatch{jobID: jobID, region: region}:
		return true
	default:
		return false
	}
}

// Stop stops accepting jobs, drains the queue and waits for workers to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for job := range d.queue {
		if err := d.runner.RunJob(ctx, job.jobID, job.region); err != nil {
			d.logger.Error("analysis job failed", "job_id", job.jobID, "error", err)
		}
	}
}
