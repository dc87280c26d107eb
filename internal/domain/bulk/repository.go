package bulk

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/shared"
)

// ErrLeaseLost is returned by fenced runner writes when another worker owns the job
// or the job left processing.
var ErrLeaseLost = shared.NewDomainError("LEASE_LOST", "Worker no longer holds the job lease")

// ErrControlChanged is returned by Finalize when a pause is persisted after
// the stored control request moved on, e.g. to a cancel.
var ErrControlChanged = shared.NewDomainError("CONTROL_CHANGED", "Control request changed before the job was paused")

// ImportJobFilter defines the filters for querying import jobs
type ImportJobFilter struct {
	OwnerID   *uuid.UUID
	Status    *JobStatus
	CatalogID *uuid.UUID
	SortBy    string
	SortOrder string
}

// ImportJobListResult represents a paginated list of import jobs
type ImportJobListResult struct {
	Items      []*ImportJob
	TotalCount int64
	Page       int
	PageSize   int
}

// RowErrorListResult represents a paginated slice of a job's error log
type RowErrorListResult struct {
	Items      []*RowError
	TotalCount int64
	Page       int
	PageSize   int
}

// ImportJobRepository defines the interface for import job persistence
type ImportJobRepository interface {
	// FindByID finds an import job by ID
	FindByID(ctx context.Context, id uuid.UUID) (*ImportJob, error)

	// FindAll returns import jobs with pagination and filtering, newest first
	// unless the filter names a sort
	FindAll(ctx context.Context, filter ImportJobFilter, page, pageSize int) (*ImportJobListResult, error)

	// FindRunnable returns processing jobs with no live lease (for recovery after restart)
	FindRunnable(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// Save creates the job or updates it guarded by its version.
	// A stale version yields shared.ErrConcurrencyConflict.
	Save(ctx context.Context, job *ImportJob) error

	// RequestControl records a pause or cancel request if the job is still processing
	RequestControl(ctx context.Context, id uuid.UUID, req ControlRequest) error

	// ReadControl returns the pending control request of a job
	ReadControl(ctx context.Context, id uuid.UUID) (ControlRequest, error)

	// Claim takes the lease of a processing job for one run. leaseID must be
	// unique per run. It returns false while any live lease exists, including
	// one held under the same leaseID, or when the job is not processing.
	Claim(ctx context.Context, id uuid.UUID, leaseID string, leaseUntil, now time.Time) (bool, error)

	// RenewLease pushes the expiry of a lease still held under leaseID.
	// Returns ErrLeaseLost otherwise.
	RenewLease(ctx context.Context, id uuid.UUID, leaseID string, leaseUntil time.Time) error

	// SaveProgress persists counters, checkpoint, lease and new row errors in one
	// transaction, fenced on the job's worker. Returns ErrLeaseLost when fenced out.
	SaveProgress(ctx context.Context, job *ImportJob, rowErrors []*RowError) error

	// Finalize persists a runner-applied transition out of processing, fenced on
	// the lease. A pause is only stored while the pause request is still pending;
	// otherwise ErrControlChanged is returned and nothing is written.
	Finalize(ctx context.Context, job *ImportJob, leaseID string) error

	// Release drops the lease without changing status
	Release(ctx context.Context, id uuid.UUID, leaseID string) error

	// Delete removes the job and, by cascade, its error log
	Delete(ctx context.Context, id uuid.UUID) error
}

// RowErrorRepository reads a job's error log
type RowErrorRepository interface {
	// FindByJob returns row errors ordered by row number
	FindByJob(ctx context.Context, jobID uuid.UUID, page, pageSize int) (*RowErrorListResult, error)

	// CountByJob returns the number of error log entries of a job
	CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error)
}
