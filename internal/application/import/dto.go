package importapp

import (
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/bulk"
	csvimport "github.com/marketplace/backend/internal/infrastructure/import"
)

// CreateJobRequest holds the fields of a new import job
type CreateJobRequest struct {
	Name        string
	Description string
	CatalogID   *uuid.UUID
	OwnerID     uuid.UUID
	// Strategy and MaxRetries fall back to the configured defaults when unset
	Strategy   bulk.ProcessingStrategy
	MaxRetries *int
}

// SubmitResult is the validation summary returned when a file is accepted
type SubmitResult struct {
	Job          *JobResponse           `json:"job"`
	Accepted     bool                   `json:"accepted"`
	TotalRecords int                    `json:"total_records"`
	Header       csvimport.HeaderReport `json:"header"`
}

// JobListFilter selects jobs for listing
type JobListFilter struct {
	OwnerID   *uuid.UUID
	Status    string
	CatalogID *uuid.UUID
	SortBy    string
	SortOrder string
	Page      int
	PageSize  int
}

// JobResponse is the externally visible state of a job
type JobResponse struct {
	ID                  uuid.UUID  `json:"id"`
	Name                string     `json:"name"`
	Description         string     `json:"description,omitempty"`
	OwnerID             uuid.UUID  `json:"owner_id"`
	CatalogID           *uuid.UUID `json:"catalog_id,omitempty"`
	FileName            string     `json:"file_name,omitempty"`
	FileSize            int64      `json:"file_size"`
	Status              string     `json:"status"`
	ProcessingStrategy  string     `json:"processing_strategy"`
	TotalRecords        int        `json:"total_records"`
	ProcessedRecords    int        `json:"processed_records"`
	SuccessCount        int        `json:"success_count"`
	ErrorCount          int        `json:"error_count"`
	WarningCount        int        `json:"warning_count"`
	LastProcessedRow    int        `json:"last_processed_row"`
	Progress            float64    `json:"progress"`
	RetryCount          int        `json:"retry_count"`
	MaxRetries          int        `json:"max_retries"`
	CanRetry            bool       `json:"can_retry"`
	CatalogCapacity     *int       `json:"catalog_capacity,omitempty"`
	CatalogCountAtStart *int       `json:"catalog_count_at_start,omitempty"`
	PendingControl      string     `json:"pending_control,omitempty"`
	FailureReason       string     `json:"failure_reason,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	PausedAt            *time.Time `json:"paused_at,omitempty"`
	ResumedAt           *time.Time `json:"resumed_at,omitempty"`
	CanceledAt          *time.Time `json:"canceled_at,omitempty"`
	FailedAt            *time.Time `json:"failed_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// JobListResponse is one page of jobs
type JobListResponse struct {
	Items      []*JobResponse `json:"items"`
	TotalCount int64          `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}

// RowErrorResponse is one entry of a job's error log
type RowErrorResponse struct {
	ID        uuid.UUID `json:"id"`
	RowNumber int       `json:"row_number"`
	ErrorType string    `json:"error_type"`
	Severity  string    `json:"severity"`
	Field     string    `json:"field,omitempty"`
	Value     string    `json:"value,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// RowErrorListResponse is one page of a job's error log
type RowErrorListResponse struct {
	Items      []*RowErrorResponse `json:"items"`
	TotalCount int64               `json:"total_count"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
}

// ToJobResponse converts the domain job
func ToJobResponse(j *bulk.ImportJob) *JobResponse {
	return &JobResponse{
		ID:                  j.ID,
		Name:                j.Name,
		Description:         j.Description,
		OwnerID:             j.OwnerID,
		CatalogID:           j.CatalogID,
		FileName:            j.FileName,
		FileSize:            j.FileSize,
		Status:              string(j.Status),
		ProcessingStrategy:  string(j.ProcessingStrategy),
		TotalRecords:        j.TotalRecords,
		ProcessedRecords:    j.ProcessedRecords,
		SuccessCount:        j.SuccessCount,
		ErrorCount:          j.ErrorCount,
		WarningCount:        j.WarningCount,
		LastProcessedRow:    j.LastProcessedRow,
		Progress:            j.Progress(),
		RetryCount:          j.RetryCount,
		MaxRetries:          j.MaxRetries,
		CanRetry:            j.CanRetry(),
		CatalogCapacity:     j.CatalogCapacity,
		CatalogCountAtStart: j.CatalogCountAtStart,
		PendingControl:      string(j.ControlRequest),
		FailureReason:       j.FailureReason,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
		StartedAt:           j.StartedAt,
		PausedAt:            j.PausedAt,
		ResumedAt:           j.ResumedAt,
		CanceledAt:          j.CanceledAt,
		FailedAt:            j.FailedAt,
		CompletedAt:         j.CompletedAt,
	}
}

// ToRowErrorResponse converts a domain row error
func ToRowErrorResponse(e *bulk.RowError) *RowErrorResponse {
	return &RowErrorResponse{
		ID:        e.ID,
		RowNumber: e.RowNumber,
		ErrorType: string(e.ErrorType),
		Severity:  string(e.Severity),
		Field:     e.Field,
		Value:     e.Value,
		Message:   e.Message,
		CreatedAt: e.CreatedAt,
	}
}
