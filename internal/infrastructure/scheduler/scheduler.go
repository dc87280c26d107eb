// Package scheduler runs import jobs on a worker pool fed by a job-ID queue and
// re-enqueues jobs whose lease lapsed, so a restarted process resumes them from
// their checkpoint.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	importapp "github.com/marketplace/backend/internal/application/import"
	"go.uber.org/zap"
)

// JobRunner processes one import job until it leaves processing or the
// context ends. importapp.JobRunner satisfies it.
type JobRunner interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

// PoolConfig holds worker pool configuration
type PoolConfig struct {
	Workers int
	// JobTimeout bounds a single run; zero leaves runs unbounded
	JobTimeout time.Duration
}

// DefaultPoolConfig returns default pool configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers: 4,
	}
}

// Pool consumes job IDs from a Queue and hands them to the runner. It also
// implements importapp.JobQueue and drops IDs that are already waiting in
// the queue, so the recovery poller cannot flood it with duplicates.
type Pool struct {
	config PoolConfig
	queue  Queue
	runner JobRunner
	logger *zap.Logger

	queued    map[uuid.UUID]struct{}
	queuedMu  sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

var _ importapp.JobQueue = (*Pool)(nil)

// NewPool creates a new worker pool
func NewPool(config PoolConfig, queue Queue, runner JobRunner, logger *zap.Logger) (*Pool, error) {
	if config.Workers <= 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("workers must be positive"))
	}
	if queue == nil || runner == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("queue and runner are required"))
	}
	return &Pool{
		config: config,
		queue:  queue,
		runner: runner,
		logger: logger.Named("import-pool"),
		queued: make(map[uuid.UUID]struct{}),
	}, nil
}

// Start starts the workers
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("Import worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Duration("job_timeout", p.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs and waits for the workers. Interrupted runs hand
// their lease back and stay processing, so the next start recovers them.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	p.isRunning = false
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Import worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Import worker pool stop timed out")
		return ctx.Err()
	}
}

// Enqueue submits a job ID unless it is already waiting
func (p *Pool) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	p.queuedMu.Lock()
	if _, ok := p.queued[jobID]; ok {
		p.queuedMu.Unlock()
		return nil
	}
	p.queued[jobID] = struct{}{}
	p.queuedMu.Unlock()

	if err := p.queue.Enqueue(ctx, jobID); err != nil {
		p.unmark(jobID)
		return err
	}
	p.logger.Debug("Job enqueued", zap.String("job_id", jobID.String()))
	return nil
}

// Queued returns the number of IDs this process enqueued that no worker has taken yet
func (p *Pool) Queued() int {
	p.queuedMu.Lock()
	defer p.queuedMu.Unlock()
	return len(p.queued)
}

func (p *Pool) unmark(jobID uuid.UUID) {
	p.queuedMu.Lock()
	delete(p.queued, jobID)
	p.queuedMu.Unlock()
}

func (p *Pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	for {
		jobID, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				p.logger.Debug("Worker stopping", zap.Int("worker", workerID))
				return
			}
			p.logger.Warn("Failed to dequeue job", zap.Int("worker", workerID), zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		p.unmark(jobID)
		p.process(ctx, jobID, workerID)
	}
}

func (p *Pool) process(ctx context.Context, jobID uuid.UUID, workerID int) {
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := p.runner.Run(ctx, jobID)
	switch {
	case err == nil:
		p.logger.Debug("Job run finished",
			zap.Int("worker", workerID),
			zap.String("job_id", jobID.String()),
			zap.Duration("elapsed", time.Since(start)),
		)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		p.logger.Info("Job run interrupted",
			zap.Int("worker", workerID),
			zap.String("job_id", jobID.String()),
		)
	default:
		p.logger.Error("Job run failed",
			zap.Int("worker", workerID),
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	}
}
