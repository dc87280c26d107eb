package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when stopping or draining a pool that was never started
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the in-memory queue buffer is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrQueueClosed is returned by Dequeue and Enqueue after Close
	ErrQueueClosed = errors.New("job queue is closed")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)
