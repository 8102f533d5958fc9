// Package errors provides structured error types for the Traceline pipeline.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryTransport  ErrorCategory = "TRANSPORT"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryPartition  ErrorCategory = "PARTITION"
	ErrCategoryArchive    ErrorCategory = "ARCHIVE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidEnvelope = "INVALID_ENVELOPE"
	CodeEmptyBatch      = "EMPTY_BATCH"

	// Transport codes
	CodeSendFailed     = "SEND_FAILED"
	CodeEndpointStatus = "ENDPOINT_STATUS"
	CodeBatchRejected  = "BATCH_REJECTED"
	CodeSpoolFailed    = "SPOOL_FAILED"

	// Storage codes
	CodeBulkWriteFailed = "BULK_WRITE_FAILED"
	CodeUnreachable     = "UNREACHABLE"

	// Partition codes
	CodeCreateFailed = "CREATE_FAILED"
	CodeRetireFailed = "RETIRE_FAILED"

	// Archive codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the system.
type PipelineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCategory(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// isRetryable determines whether an error code is worth retrying. Validation
// failures never are; transient transport, storage, and archive failures are.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryTransport && code == CodeSendFailed:
		return true
	case category == ErrCategoryTransport && code == CodeEndpointStatus:
		return true
	case category == ErrCategoryStorage && code == CodeBulkWriteFailed:
		return true
	case category == ErrCategoryStorage && code == CodeUnreachable:
		return true
	case category == ErrCategoryArchive && code == CodeUploadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *PipelineError {
	return New(ErrCategoryValidation, code, message)
}

func NewTransportError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryTransport, code, message, cause)
}

func NewStorageError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewPartitionError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryPartition, code, message, cause)
}

func NewArchiveError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryArchive, code, message, cause)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
