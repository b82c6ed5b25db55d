// Package workerpool runs background jobs on a fixed set of goroutines fed by a bounded queue.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when a job is offered to a saturated queue
	ErrQueueFull = errors.New("worker pool queue is full")
	// ErrStopped is returned once the pool has begun shutting down
	ErrStopped = errors.New("worker pool is stopped")
)

// Job is one unit of background work
type Job struct {
	Name string
	Run  func(context.Context) error
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Logger     *zap.Logger
}

// Pool executes jobs on a bounded set of workers. Queued jobs are drained on Stop.
type Pool struct {
	name       string
	workers    int
	queueSize  int
	jobTimeout time.Duration
	jobs       chan Job
	logger     *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	active    atomic.Int32
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// New creates a pool and starts its workers
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &Pool{
		name:       cfg.Name,
		workers:    cfg.Workers,
		queueSize:  cfg.QueueSize,
		jobTimeout: cfg.JobTimeout,
		jobs:       make(chan Job, cfg.QueueSize),
		logger:     cfg.Logger,
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("Worker pool started",
		zap.String("name", p.name),
		zap.Int("workers", p.workers),
		zap.Int("queue_size", p.queueSize))

	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	// range exits once Stop closes the channel and the backlog is empty
	for job := range p.jobs {
		p.run(id, job)
	}
}

func (p *Pool) run(workerID int, job Job) {
	p.active.Add(1)
	defer p.active.Add(-1)

	start := time.Now()
	err := p.safeRun(job)

	if err != nil {
		p.failed.Add(1)
		p.logger.Error("Job failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	p.completed.Add(1)
}

func (p *Pool) safeRun(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	ctx := context.Background()
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}
	return job.Run(ctx)
}

// Submit enqueues a job without blocking
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.rejected.Add(1)
		return ErrStopped
	}

	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// TrySubmit is Submit for callers that only care about acceptance
func (p *Pool) TrySubmit(job Job) bool {
	return p.Submit(job) == nil
}

// Stop refuses new jobs and waits for queued ones to finish or ctx to expire
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info("Stopping worker pool",
		zap.String("name", p.name),
		zap.Int("pending", len(p.jobs)))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped", zap.String("name", p.name))
		return nil
	case <-ctx.Done():
		p.logger.Warn("Worker pool stop timed out",
			zap.String("name", p.name),
			zap.Int("pending", len(p.jobs)))
		return fmt.Errorf("worker pool %q stop: %w", p.name, ctx.Err())
	}
}

// Stats returns current pool counters
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Workers:   p.workers,
		Active:    int(p.active.Load()),
		QueueSize: p.queueSize,
		Queued:    len(p.jobs),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Active    int    `json:"active"`
	QueueSize int    `json:"queueSize"`
	Queued    int    `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
}

// QueueUtilization returns the queue fill as a percentage
func (s Stats) QueueUtilization() float64 {
	if s.QueueSize == 0 {
		return 0
	}
	return float64(s.Queued) / float64(s.QueueSize) * 100.0
}
