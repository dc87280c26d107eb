package importapp

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/bulk"
)

// FileStore keeps uploaded sources so a job can reopen them after a restart
type FileStore interface {
	// Save stores the content under key, replacing any previous object
	Save(ctx context.Context, key string, r io.Reader, size int64) error

	// Open returns a fresh reader over the stored content
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the stored content; missing keys are not an error
	Delete(ctx context.Context, key string) error
}

// JobQueue hands job IDs to the worker pool
type JobQueue interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) error
}

// Metrics records import throughput
type Metrics interface {
	RowProcessed(ctx context.Context, outcome string)
	JobFinished(ctx context.Context, status bulk.JobStatus, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RowProcessed(context.Context, string) {}
func (nopMetrics) JobFinished(context.Context, bulk.JobStatus, time.Duration) {}

// NopMetrics returns a Metrics implementation that discards everything
func NopMetrics() Metrics {
	return nopMetrics{}
}
