package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeServiceUnavailable is used when a backing store cannot be reached
	ErrCodeServiceUnavailable = "ERR_SERVICE_UNAVAILABLE"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeValidationRequired is used when a required field is missing
	ErrCodeValidationRequired = "ERR_VALIDATION_REQUIRED"
	// ErrCodeValidationFormat is used when a field has invalid format
	ErrCodeValidationFormat = "ERR_VALIDATION_FORMAT"
)

// Identity error codes
const (
	// ErrCodeUnauthorized is used when the caller identity is missing or invalid
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeForbidden is used when the caller may not reach the resource
	ErrCodeForbidden = "ERR_FORBIDDEN"
)

// Resource error codes
const (
	ErrCodeNotFound            = "ERR_NOT_FOUND"
	ErrCodeCatalogNotFound     = "ERR_CATALOG_NOT_FOUND"
	ErrCodeAlreadyExists       = "ERR_ALREADY_EXISTS"
	ErrCodeConflict            = "ERR_CONFLICT"
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
)

// Import job error codes
const (
	// ErrCodeInvalidState is used when a control request does not fit the job status
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	// ErrCodeRetriesExhausted is used when a failed job has no retries left
	ErrCodeRetriesExhausted = "ERR_RETRIES_EXHAUSTED"
	// ErrCodeSourceMissing is used when a job has no stored file to run from
	ErrCodeSourceMissing = "ERR_SOURCE_MISSING"
	// ErrCodeCapacityExceeded is used when a catalog has no room left
	ErrCodeCapacityExceeded = "ERR_CAPACITY_EXCEEDED"
	// ErrCodeInvalidFile is used when an uploaded file is rejected as a whole
	ErrCodeInvalidFile = "ERR_INVALID_FILE"
	// ErrCodeRequestTooLarge is used when a body exceeds the configured limit
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// Input error codes
const (
	ErrCodeBadRequest    = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput  = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON   = "ERR_INVALID_JSON"
	ErrCodeInvalidStatus = "ERR_INVALID_STATUS"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:            http.StatusInternalServerError,
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,

	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeValidationRequired: http.StatusBadRequest,
	ErrCodeValidationFormat:   http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeCatalogNotFound:     http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConflict:            http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,

	// control requests from the wrong state are conflicts with the job's current state
	ErrCodeInvalidState:     http.StatusConflict,
	ErrCodeRetriesExhausted: http.StatusConflict,
	ErrCodeSourceMissing:    http.StatusConflict,
	ErrCodeCapacityExceeded: http.StatusConflict,
	ErrCodeInvalidFile:      http.StatusUnprocessableEntity,
	ErrCodeRequestTooLarge:  http.StatusRequestEntityTooLarge,

	ErrCodeBadRequest:    http.StatusBadRequest,
	ErrCodeInvalidInput:  http.StatusBadRequest,
	ErrCodeInvalidJSON:   http.StatusBadRequest,
	ErrCodeInvalidStatus: http.StatusBadRequest,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// LegacyErrorCodeMapping maps domain error codes to the standardized API codes
var LegacyErrorCodeMapping = map[string]string{
	"NOT_FOUND":             ErrCodeNotFound,
	"ALREADY_EXISTS":        ErrCodeAlreadyExists,
	"INVALID_INPUT":         ErrCodeInvalidInput,
	"INVALID_STATE":         ErrCodeInvalidState,
	"INVALID_STATUS":        ErrCodeInvalidStatus,
	"CONCURRENCY_CONFLICT":  ErrCodeConcurrencyConflict,
	"RETRIES_EXHAUSTED":     ErrCodeRetriesExhausted,
	"SOURCE_MISSING":        ErrCodeSourceMissing,
	"INVALID_FILE":          ErrCodeInvalidFile,
	"CATALOG_NOT_FOUND":     ErrCodeCatalogNotFound,
	"PRODUCT_NOT_FOUND":     ErrCodeNotFound,
	"CAPACITY_EXCEEDED":     ErrCodeCapacityExceeded,
	"STORE_UNAVAILABLE":     ErrCodeServiceUnavailable,
	"INVALID_NAME":          ErrCodeInvalidInput,
	"INVALID_OWNER":         ErrCodeInvalidInput,
	"INVALID_STRATEGY":      ErrCodeInvalidInput,
	"INVALID_MAX_RETRIES":   ErrCodeInvalidInput,
	"INVALID_TOTAL_RECORDS": ErrCodeInvalidInput,
	"INVALID_FORMAT":        ErrCodeInvalidInput,
	"LEASE_LOST":            ErrCodeConcurrencyConflict,
	"VALIDATION_ERROR":      ErrCodeValidation,
	"BAD_REQUEST":           ErrCodeBadRequest,
	"INTERNAL_ERROR":        ErrCodeInternal,
}

// NormalizeErrorCode converts a domain error code to the standardized format
// If the code is already in the new format or unknown, returns it as-is
func NormalizeErrorCode(code string) string {
	if newCode, ok := LegacyErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}
