package bulk

import (
	"time"

	"github.com/google/uuid"
)

// ErrorType classifies why a row was not applied
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeCapacity    ErrorType = "capacity"
	ErrorTypePersistence ErrorType = "persistence"
	ErrorTypeSystem      ErrorType = "system"
)

// IsValid checks if the error type is valid
func (t ErrorType) IsValid() bool {
	switch t {
	case ErrorTypeValidation, ErrorTypeCapacity, ErrorTypePersistence, ErrorTypeSystem:
		return true
	}
	return false
}

// Severity of a row error
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

const maxErrorValueLength = 255

// RowError is one entry of a job's error log. Entries are append-only and
// removed only together with their job.
type RowError struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	RowNumber int
	ErrorType ErrorType
	Message   string
	Severity  Severity
	Field     string
	Value     string
	CreatedAt time.Time
}

// NewRowError creates an error-severity entry
func NewRowError(jobID uuid.UUID, rowNumber int, errorType ErrorType, message string) *RowError {
	return &RowError{
		ID:        uuid.New(),
		JobID:     jobID,
		RowNumber: rowNumber,
		ErrorType: errorType,
		Message:   message,
		Severity:  SeverityError,
		CreatedAt: time.Now(),
	}
}

// NewRowWarning creates a warning-severity entry
func NewRowWarning(jobID uuid.UUID, rowNumber int, errorType ErrorType, message string) *RowError {
	e := NewRowError(jobID, rowNumber, errorType, message)
	e.Severity = SeverityWarning
	return e
}

// WithField attaches the offending column and its raw value
func (e *RowError) WithField(field, value string) *RowError {
	e.Field = field
	if r := []rune(value); len(r) > maxErrorValueLength {
		value = string(r[:maxErrorValueLength])
	}
	e.Value = value
	return e
}

// IsWarning returns true for warning-severity entries
func (e *RowError) IsWarning() bool {
	return e.Severity == SeverityWarning
}
