package bulk

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/shared"
)

// JobStatus represents the status of an import job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsValid checks if the status is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusPaused,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ProcessingStrategy selects how rows of a job are applied
type ProcessingStrategy string

const (
	StrategySequential ProcessingStrategy = "sequential"
	StrategyParallel   ProcessingStrategy = "parallel"
)

// IsValid checks if the strategy is valid
func (s ProcessingStrategy) IsValid() bool {
	return s == StrategySequential || s == StrategyParallel
}

// ControlRequest is a cooperative signal picked up by the runner at row boundaries
type ControlRequest string

const (
	ControlNone   ControlRequest = ""
	ControlPause  ControlRequest = "pause"
	ControlCancel ControlRequest = "cancel"
)

const maxJobNameLength = 200

// Domain error codes specific to import jobs
const (
	CodeInvalidState     = "INVALID_STATE"
	CodeRetriesExhausted = "RETRIES_EXHAUSTED"
	CodeSourceMissing    = "SOURCE_MISSING"
	CodeInvalidProgress  = "INVALID_PROGRESS"
)

// ImportJob is the aggregate tracking one CSV import from submission to a terminal state
type ImportJob struct {
	shared.BaseAggregateRoot
	Name               string
	Description        string
	OwnerID            uuid.UUID
	CatalogID          *uuid.UUID
	SourceKey          string
	FileName           string
	FileSize           int64
	TotalRecords       int
	ProcessedRecords   int
	SuccessCount       int
	ErrorCount         int
	WarningCount       int
	Status             JobStatus
	LastProcessedRow   int
	ProcessingStrategy ProcessingStrategy
	RetryCount         int
	MaxRetries         int
	// ErrorCount when the job was last retried; the error threshold applies to later errors only
	ErrorsAtRetry int

	// Snapshot taken when processing starts; nil for unbounded or catalog-less jobs
	CatalogCapacity     *int
	CatalogCountAtStart *int

	ControlRequest ControlRequest
	FailureReason  string
	WorkerID       string
	LeaseExpiresAt *time.Time

	StartedAt   *time.Time
	PausedAt    *time.Time
	ResumedAt   *time.Time
	CanceledAt  *time.Time
	FailedAt    *time.Time
	CompletedAt *time.Time
}

// NewImportJob creates a pending import job
func NewImportJob(
	ownerID uuid.UUID,
	name, description string,
	catalogID *uuid.UUID,
	strategy ProcessingStrategy,
	maxRetries int,
) (*ImportJob, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Job name cannot be empty")
	}
	if len([]rune(name)) > maxJobNameLength {
		return nil, shared.NewDomainError("INVALID_NAME", fmt.Sprintf("Job name cannot exceed %d characters", maxJobNameLength))
	}
	if ownerID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_OWNER", "Job owner is required")
	}
	if strategy == "" {
		strategy = StrategySequential
	}
	if !strategy.IsValid() {
		return nil, shared.NewDomainError("INVALID_STRATEGY", fmt.Sprintf("Invalid processing strategy: %s", strategy))
	}
	if maxRetries < 0 {
		return nil, shared.NewDomainError("INVALID_MAX_RETRIES", "Max retries cannot be negative")
	}

	return &ImportJob{
		BaseAggregateRoot:  shared.NewBaseAggregateRoot(),
		Name:               name,
		Description:        description,
		OwnerID:            ownerID,
		CatalogID:          catalogID,
		Status:             JobStatusPending,
		ProcessingStrategy: strategy,
		MaxRetries:         maxRetries,
	}, nil
}

// AttachSource records the stored upload and its record count
func (j *ImportJob) AttachSource(key, fileName string, size int64, totalRecords int) error {
	if j.Status != JobStatusPending {
		return invalidState("attach a file to", j.Status)
	}
	if key == "" {
		return shared.NewDomainError(CodeSourceMissing, "Source key cannot be empty")
	}
	if totalRecords < 0 {
		return shared.NewDomainError("INVALID_TOTAL_RECORDS", "Total records cannot be negative")
	}

	j.SourceKey = key
	j.FileName = fileName
	j.FileSize = size
	j.TotalRecords = totalRecords
	j.Touch()
	return nil
}

// HasSource reports whether a file has been attached
func (j *ImportJob) HasSource() bool {
	return j.SourceKey != ""
}

// Start moves a pending job into processing; reading begins at row 1
func (j *ImportJob) Start() error {
	if j.Status != JobStatusPending {
		return invalidState("start", j.Status)
	}
	if !j.HasSource() {
		return shared.NewDomainError(CodeSourceMissing, "Cannot start a job without an attached file")
	}

	now := time.Now()
	j.Status = JobStatusProcessing
	j.LastProcessedRow = 0
	j.StartedAt = &now
	j.UpdatedAt = now
	return nil
}

// SnapshotCatalog records the capacity and product count observed when processing started
func (j *ImportJob) SnapshotCatalog(capacity int, count int64) {
	c := int(count)
	j.CatalogCountAtStart = &c
	if capacity > 0 {
		j.CatalogCapacity = &capacity
	} else {
		j.CatalogCapacity = nil
	}
}

// RequestPause records a pause request for the runner
func (j *ImportJob) RequestPause() error {
	if j.Status != JobStatusProcessing {
		return invalidState("pause", j.Status)
	}
	j.ControlRequest = ControlPause
	j.Touch()
	return nil
}

// Pause is applied by the runner at a row boundary
func (j *ImportJob) Pause() error {
	if j.Status != JobStatusProcessing {
		return invalidState("pause", j.Status)
	}

	now := time.Now()
	j.Status = JobStatusPaused
	j.PausedAt = &now
	j.UpdatedAt = now
	j.releaseWorker()
	return nil
}

// Resume moves a paused job back into processing from the checkpoint
func (j *ImportJob) Resume() error {
	if j.Status != JobStatusPaused {
		return invalidState("resume", j.Status)
	}

	now := time.Now()
	j.Status = JobStatusProcessing
	j.ResumedAt = &now
	j.UpdatedAt = now
	j.ControlRequest = ControlNone
	return nil
}

// RequestCancel cancels a paused job immediately or flags a processing job
// for cancellation at the next row boundary.
func (j *ImportJob) RequestCancel() error {
	switch j.Status {
	case JobStatusPaused:
		return j.Cancel()
	case JobStatusProcessing:
		j.ControlRequest = ControlCancel
		j.Touch()
		return nil
	default:
		return invalidState("cancel", j.Status)
	}
}

// Cancel stops the job for good
func (j *ImportJob) Cancel() error {
	if j.Status != JobStatusProcessing && j.Status != JobStatusPaused {
		return invalidState("cancel", j.Status)
	}

	now := time.Now()
	j.Status = JobStatusCancelled
	j.CanceledAt = &now
	j.UpdatedAt = now
	j.releaseWorker()
	return nil
}

// Complete marks a job whose rows were all consumed. Row errors do not prevent completion.
func (j *ImportJob) Complete() error {
	if j.Status != JobStatusProcessing {
		return invalidState("complete", j.Status)
	}

	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.releaseWorker()
	return nil
}

// Fail marks the job as failed on a system-level condition
func (j *ImportJob) Fail(reason string) error {
	if j.Status != JobStatusProcessing {
		return invalidState("fail", j.Status)
	}

	now := time.Now()
	j.Status = JobStatusFailed
	j.FailureReason = reason
	j.FailedAt = &now
	j.UpdatedAt = now
	j.releaseWorker()
	return nil
}

// Retry moves a failed job back into processing from its checkpoint
func (j *ImportJob) Retry() error {
	if j.Status != JobStatusFailed {
		return invalidState("retry", j.Status)
	}
	if !j.CanRetry() {
		return shared.NewDomainError(CodeRetriesExhausted,
			fmt.Sprintf("Job has used all %d retries", j.MaxRetries))
	}

	now := time.Now()
	j.RetryCount++
	j.ErrorsAtRetry = j.ErrorCount
	j.Status = JobStatusProcessing
	j.FailureReason = ""
	j.ResumedAt = &now
	j.UpdatedAt = now
	return nil
}

// ApplyProgress folds resolved rows into the counters. Rows must continue the
// committed prefix without gaps, so the checkpoint can only move forward.
func (j *ImportJob) ApplyProgress(rows ...RowResolution) error {
	if j.Status != JobStatusProcessing {
		return invalidState("record progress for", j.Status)
	}
	next := j.LastProcessedRow + 1
	for _, r := range rows {
		if r.RowNumber <= j.LastProcessedRow {
			return shared.NewDomainError(CodeInvalidProgress,
				fmt.Sprintf("Row %d is at or before checkpoint %d", r.RowNumber, j.LastProcessedRow))
		}
		if r.RowNumber != next {
			return shared.NewDomainError(CodeInvalidProgress,
				fmt.Sprintf("Row %d does not continue checkpoint %d", r.RowNumber, next-1))
		}
		next++
	}

	for _, r := range rows {
		if r.Succeeded {
			j.SuccessCount++
		} else {
			j.ErrorCount++
		}
		j.WarningCount += r.Warnings
		j.ProcessedRecords++
	}
	j.LastProcessedRow = next - 1
	j.Touch()
	return nil
}

// ExtendLease records the lease the current worker holds on the job
func (j *ImportJob) ExtendLease(workerID string, until time.Time) {
	j.WorkerID = workerID
	j.LeaseExpiresAt = &until
}

// ExceedsErrorThreshold reports whether errors since the last retry passed a
// positive threshold
func (j *ImportJob) ExceedsErrorThreshold(threshold int) bool {
	return threshold > 0 && j.ErrorCount-j.ErrorsAtRetry > threshold
}

// CanRetry returns true if a failed job still has retries left
func (j *ImportJob) CanRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// IsTerminal returns true when no transition can leave the current state
func (j *ImportJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusCancelled:
		return true
	case JobStatusFailed:
		return !j.CanRetry()
	}
	return false
}

// CanDelete returns false while a worker may be writing to the job
func (j *ImportJob) CanDelete() bool {
	return j.Status != JobStatusProcessing
}

// FinishedAt returns the time the job left processing for the last time
func (j *ImportJob) FinishedAt() *time.Time {
	switch j.Status {
	case JobStatusCompleted:
		return j.CompletedAt
	case JobStatusFailed:
		return j.FailedAt
	case JobStatusCancelled:
		return j.CanceledAt
	case JobStatusPaused:
		return j.PausedAt
	}
	return nil
}

// Duration returns the wall time between start and the last stop
func (j *ImportJob) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := j.FinishedAt()
	if end == nil {
		return time.Since(*j.StartedAt)
	}
	return end.Sub(*j.StartedAt)
}

// Progress returns the processed share of the file as a percentage (0-100)
func (j *ImportJob) Progress() float64 {
	if j.TotalRecords == 0 {
		return 0
	}
	return float64(j.ProcessedRecords) / float64(j.TotalRecords) * 100
}

func (j *ImportJob) releaseWorker() {
	j.ControlRequest = ControlNone
	j.WorkerID = ""
	j.LeaseExpiresAt = nil
}

func invalidState(action string, status JobStatus) error {
	return shared.NewDomainError(CodeInvalidState, fmt.Sprintf("Cannot %s job in state: %s", action, status))
}
