package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/backend/internal/domain/bulk"
)

// RowErrorModel is one append-only entry of a job's error log
type RowErrorModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	JobID     uuid.UUID `gorm:"type:uuid;not null;index:idx_import_row_errors_job_row,priority:1"`
	RowNumber int       `gorm:"not null;index:idx_import_row_errors_job_row,priority:2"`
	ErrorType string    `gorm:"type:varchar(20);not null"`
	Severity  string    `gorm:"type:varchar(10);not null"`
	Message   string    `gorm:"type:text;not null"`
	Field     string    `gorm:"type:varchar(100);not null;default:''"`
	Value     string    `gorm:"type:varchar(255);not null;default:''"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (RowErrorModel) TableName() string {
	return "import_row_errors"
}

// ToDomain converts the persistence model to a domain RowError
func (m *RowErrorModel) ToDomain() *bulk.RowError {
	return &bulk.RowError{
		ID:        m.ID,
		JobID:     m.JobID,
		RowNumber: m.RowNumber,
		ErrorType: bulk.ErrorType(m.ErrorType),
		Severity:  bulk.Severity(m.Severity),
		Message:   m.Message,
		Field:     m.Field,
		Value:     m.Value,
		CreatedAt: m.CreatedAt,
	}
}

// RowErrorModelFromDomain creates a new persistence model from a domain RowError
func RowErrorModelFromDomain(e *bulk.RowError) *RowErrorModel {
	return &RowErrorModel{
		ID:        e.ID,
		JobID:     e.JobID,
		RowNumber: e.RowNumber,
		ErrorType: string(e.ErrorType),
		Severity:  string(e.Severity),
		Message:   e.Message,
		Field:     e.Field,
		Value:     e.Value,
		CreatedAt: e.CreatedAt,
	}
}
