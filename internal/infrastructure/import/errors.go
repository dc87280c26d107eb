package csvimport

import (
	"errors"
	"fmt"
)

// Field error codes
const (
	ErrCodeImportRequiredField = "ERR_IMPORT_REQUIRED_FIELD"
	ErrCodeImportInvalidType   = "ERR_IMPORT_INVALID_TYPE"
	ErrCodeImportInvalidLength = "ERR_IMPORT_INVALID_LENGTH"
	ErrCodeImportInvalidRange  = "ERR_IMPORT_INVALID_RANGE"
	ErrCodeImportInvalidValue  = "ERR_IMPORT_INVALID_VALUE"
	ErrCodeImportValidation    = "ERR_IMPORT_VALIDATION"
)

// File-level errors. Any of these blocks a submission.
var (
	// ErrEmptyFile is returned when the CSV file is empty
	ErrEmptyFile = errors.New("CSV file is empty")

	// ErrInvalidEncoding is returned when the file is not valid UTF-8
	ErrInvalidEncoding = errors.New("invalid file encoding, expected UTF-8")

	// ErrMissingHeader is returned when the CSV file has no header row
	ErrMissingHeader = errors.New("CSV file missing header row")

	// ErrMalformedHeader is returned when the header row cannot be parsed
	ErrMalformedHeader = errors.New("CSV header row is malformed")

	// ErrFileTooLarge is returned when the file exceeds maximum size
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
)

// ErrSourceTruncated is returned by Skip when the source holds fewer records than
// the checkpoint being resumed.
var ErrSourceTruncated = errors.New("source has fewer records than the checkpoint")

// IsFileError reports whether err rejects a whole file rather than a row
func IsFileError(err error) bool {
	return errors.Is(err, ErrEmptyFile) ||
		errors.Is(err, ErrInvalidEncoding) ||
		errors.Is(err, ErrMissingHeader) ||
		errors.Is(err, ErrMalformedHeader) ||
		errors.Is(err, ErrFileTooLarge)
}

// FieldError describes why one cell of a row was rejected
type FieldError struct {
	Column  string `json:"column"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// Error implements the error interface
func (e FieldError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("column '%s': %s", e.Column, e.Message)
	}
	return e.Message
}

// NewFieldError creates a new FieldError
func NewFieldError(column, code, message, value string) FieldError {
	return FieldError{
		Column:  column,
		Code:    code,
		Message: message,
		Value:   value,
	}
}

// RowParseError describes a data record the CSV reader could not parse
type RowParseError struct {
	Line   int
	Reason string
}

// Error implements the error interface
func (e *RowParseError) Error() string {
	return fmt.Sprintf("malformed row at line %d: %s", e.Line, e.Reason)
}
