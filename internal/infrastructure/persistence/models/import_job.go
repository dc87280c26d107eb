package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/bulk"
)

// ImportJobModel is the persistence model for the ImportJob aggregate.
// Integer columns carry no non-zero defaults so GORM never substitutes one
// for a legitimate zero (max_retries = 0).
type ImportJobModel struct {
	AggregateModel
	Name                string     `gorm:"type:varchar(200);not null"`
	Description         string     `gorm:"type:text;not null;default:''"`
	OwnerID             uuid.UUID  `gorm:"type:uuid;not null;index"`
	CatalogID           *uuid.UUID `gorm:"type:uuid;index"`
	SourceKey           string     `gorm:"type:varchar(512);not null;default:''"`
	FileName            string     `gorm:"type:varchar(255);not null;default:''"`
	FileSize            int64      `gorm:"not null;default:0"`
	TotalRecords        int        `gorm:"not null;default:0"`
	ProcessedRecords    int        `gorm:"not null;default:0"`
	SuccessCount        int        `gorm:"not null;default:0"`
	ErrorCount          int        `gorm:"not null;default:0"`
	WarningCount        int        `gorm:"not null;default:0"`
	Status              string     `gorm:"type:varchar(20);not null;index"`
	LastProcessedRow    int        `gorm:"not null;default:0"`
	ProcessingStrategy  string     `gorm:"type:varchar(20);not null"`
	RetryCount          int        `gorm:"not null;default:0"`
	MaxRetries          int        `gorm:"not null"`
	ErrorsAtRetry       int        `gorm:"not null;default:0"`
	CatalogCapacity     *int
	CatalogCountAtStart *int
	ControlRequest      string     `gorm:"type:varchar(10);not null;default:''"`
	FailureReason       string     `gorm:"type:text;not null;default:''"`
	WorkerID            *string    `gorm:"type:varchar(128)"`
	LeaseExpiresAt      *time.Time `gorm:"type:timestamptz"`
	StartedAt           *time.Time `gorm:"type:timestamptz"`
	PausedAt            *time.Time `gorm:"type:timestamptz"`
	ResumedAt           *time.Time `gorm:"type:timestamptz"`
	CanceledAt          *time.Time `gorm:"type:timestamptz"`
	FailedAt            *time.Time `gorm:"type:timestamptz"`
	CompletedAt         *time.Time `gorm:"type:timestamptz"`
}

// TableName returns the table name for GORM
func (ImportJobModel) TableName() string {
	return "import_jobs"
}

// ToDomain converts the persistence model to a domain ImportJob
func (m *ImportJobModel) ToDomain() *bulk.ImportJob {
	job := &bulk.ImportJob{
		BaseAggregateRoot:   m.ToAggregateRoot(),
		Name:                m.Name,
		Description:         m.Description,
		OwnerID:             m.OwnerID,
		CatalogID:           m.CatalogID,
		SourceKey:           m.SourceKey,
		FileName:            m.FileName,
		FileSize:            m.FileSize,
		TotalRecords:        m.TotalRecords,
		ProcessedRecords:    m.ProcessedRecords,
		SuccessCount:        m.SuccessCount,
		ErrorCount:          m.ErrorCount,
		WarningCount:        m.WarningCount,
		Status:              bulk.JobStatus(m.Status),
		LastProcessedRow:    m.LastProcessedRow,
		ProcessingStrategy:  bulk.ProcessingStrategy(m.ProcessingStrategy),
		RetryCount:          m.RetryCount,
		MaxRetries:          m.MaxRetries,
		ErrorsAtRetry:       m.ErrorsAtRetry,
		CatalogCapacity:     m.CatalogCapacity,
		CatalogCountAtStart: m.CatalogCountAtStart,
		ControlRequest:      bulk.ControlRequest(m.ControlRequest),
		FailureReason:       m.FailureReason,
		LeaseExpiresAt:      m.LeaseExpiresAt,
		StartedAt:           m.StartedAt,
		PausedAt:            m.PausedAt,
		ResumedAt:           m.ResumedAt,
		CanceledAt:          m.CanceledAt,
		FailedAt:            m.FailedAt,
		CompletedAt:         m.CompletedAt,
	}
	if m.WorkerID != nil {
		job.WorkerID = *m.WorkerID
	}
	return job
}

// FromDomain populates the persistence model from a domain ImportJob
func (m *ImportJobModel) FromDomain(j *bulk.ImportJob) {
	m.FromDomainAggregateRoot(j.BaseAggregateRoot)
	m.Name = j.Name
	m.Description = j.Description
	m.OwnerID = j.OwnerID
	m.CatalogID = j.CatalogID
	m.SourceKey = j.SourceKey
	m.FileName = j.FileName
	m.FileSize = j.FileSize
	m.TotalRecords = j.TotalRecords
	m.ProcessedRecords = j.ProcessedRecords
	m.SuccessCount = j.SuccessCount
	m.ErrorCount = j.ErrorCount
	m.WarningCount = j.WarningCount
	m.Status = string(j.Status)
	m.LastProcessedRow = j.LastProcessedRow
	m.ProcessingStrategy = string(j.ProcessingStrategy)
	m.RetryCount = j.RetryCount
	m.MaxRetries = j.MaxRetries
	m.ErrorsAtRetry = j.ErrorsAtRetry
	m.CatalogCapacity = j.CatalogCapacity
	m.CatalogCountAtStart = j.CatalogCountAtStart
	m.ControlRequest = string(j.ControlRequest)
	m.FailureReason = j.FailureReason
	m.WorkerID = nil
	if j.WorkerID != "" {
		w := j.WorkerID
		m.WorkerID = &w
	}
	m.LeaseExpiresAt = j.LeaseExpiresAt
	m.StartedAt = j.StartedAt
	m.PausedAt = j.PausedAt
	m.ResumedAt = j.ResumedAt
	m.CanceledAt = j.CanceledAt
	m.FailedAt = j.FailedAt
	m.CompletedAt = j.CompletedAt
}

// StateColumns returns every mutable column keyed by column name. Updates
// through a map write zero values and NULLs, which struct updates skip.
func (m *ImportJobModel) StateColumns() map[string]any {
	return map[string]any{
		"name":                   m.Name,
		"description":            m.Description,
		"catalog_id":             m.CatalogID,
		"source_key":             m.SourceKey,
		"file_name":              m.FileName,
		"file_size":              m.FileSize,
		"total_records":          m.TotalRecords,
		"processed_records":      m.ProcessedRecords,
		"success_count":          m.SuccessCount,
		"error_count":            m.ErrorCount,
		"warning_count":          m.WarningCount,
		"status":                 m.Status,
		"last_processed_row":     m.LastProcessedRow,
		"processing_strategy":    m.ProcessingStrategy,
		"retry_count":            m.RetryCount,
		"max_retries":            m.MaxRetries,
		"errors_at_retry":        m.ErrorsAtRetry,
		"catalog_capacity":       m.CatalogCapacity,
		"catalog_count_at_start": m.CatalogCountAtStart,
		"control_request":        m.ControlRequest,
		"failure_reason":         m.FailureReason,
		"worker_id":              m.WorkerID,
		"lease_expires_at":       m.LeaseExpiresAt,
		"started_at":             m.StartedAt,
		"paused_at":              m.PausedAt,
		"resumed_at":             m.ResumedAt,
		"canceled_at":            m.CanceledAt,
		"failed_at":              m.FailedAt,
		"completed_at":           m.CompletedAt,
		"updated_at":             m.UpdatedAt,
	}
}

// ImportJobModelFromDomain creates a new persistence model from a domain ImportJob
func ImportJobModelFromDomain(j *bulk.ImportJob) *ImportJobModel {
	m := &ImportJobModel{}
	m.FromDomain(j)
	return m
}
