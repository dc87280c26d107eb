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

// RunnableFinder lists processing jobs nobody holds a live lease on.
// bulk.ImportJobRepository satisfies it.
type RunnableFinder interface {
	FindRunnable(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// RecoveryConfig holds configuration for the recovery poller
type RecoveryConfig struct {
	// Interval is how often to look for abandoned jobs
	Interval time.Duration
	// BatchSize caps the jobs enqueued per round
	BatchSize int
}

// DefaultRecoveryConfig returns default recovery configuration
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Interval:  30 * time.Second,
		BatchSize: 100,
	}
}

// RecoveryPoller re-enqueues processing jobs whose worker died or whose
// enqueue was lost. It runs once at start, which is what resumes jobs after
// a restart.
type RecoveryPoller struct {
	config RecoveryConfig
	finder RunnableFinder
	queue  importapp.JobQueue
	logger *zap.Logger
	now    func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewRecoveryPoller creates a new recovery poller
func NewRecoveryPoller(config RecoveryConfig, finder RunnableFinder, queue importapp.JobQueue, logger *zap.Logger) *RecoveryPoller {
	d := DefaultRecoveryConfig()
	if config.Interval <= 0 {
		config.Interval = d.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = d.BatchSize
	}
	return &RecoveryPoller{
		config: config,
		finder: finder,
		queue:  queue,
		logger: logger.Named("import-recovery"),
		now:    time.Now,
	}
}

// Start starts the polling loop
func (r *RecoveryPoller) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = true
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.runLoop(ctx)

	r.logger.Info("Recovery poller started",
		zap.Duration("interval", r.config.Interval),
		zap.Int("batch_size", r.config.BatchSize),
	)
	return nil
}

// Stop stops the polling loop
func (r *RecoveryPoller) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Recovery poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RecoveryPoller) runLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *RecoveryPoller) poll(ctx context.Context) {
	n, err := r.PollOnce(ctx)
	if err != nil && ctx.Err() == nil {
		r.logger.Warn("Recovery poll failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("Recovered import jobs", zap.Int("count", n))
	}
}

// PollOnce enqueues one batch of runnable jobs and returns how many were enqueued
func (r *RecoveryPoller) PollOnce(ctx context.Context) (int, error) {
	ids, err := r.finder.FindRunnable(ctx, r.now(), r.config.BatchSize)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, id := range ids {
		if err := r.queue.Enqueue(ctx, id); err != nil {
			if errors.Is(err, ErrJobQueueFull) {
				// the rest is picked up next round
				r.logger.Debug("Queue full, deferring recovery", zap.Int("remaining", len(ids)-enqueued))
				return enqueued, nil
			}
			return enqueued, err
		}
		enqueued++
	}
	return enqueued, nil
}
