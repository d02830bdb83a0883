// Package errors provides standardized error handling for the
// extraction task pipeline.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeSSRFRejected    ErrorCode = "SSRF_REJECTED"
	ErrCodeDownloadFailed  ErrorCode = "DOWNLOAD_FAILED"
	ErrCodeProviderError   ErrorCode = "PROVIDER_ERROR"
	ErrCodeConsensusConfig ErrorCode = "CONSENSUS_CONFIG_ERROR"
	ErrCodeCacheBackend    ErrorCode = "CACHE_BACKEND_ERROR"
	ErrCodeDelivery        ErrorCode = "WEBHOOK_DELIVERY_FAILED"
	ErrCodeTaskNotFound    ErrorCode = "TASK_NOT_FOUND"
	ErrCodeTaskTimeout     ErrorCode = "TASK_TIMEOUT"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UserMessage returns the text safe to expose in a task's errorDetail.
// Details may contain upstream error strings (internal URLs, provider
// output) and are deliberately excluded.
func (e *StandardError) UserMessage() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ==========================
// Constructors
// ==========================

// NewValidationError creates a non-retryable bad-request error.
// Surfaces synchronously to the submitter; no task is created.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   "Request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSSRFRejectedError creates a non-retryable URL-safety error.
func NewSSRFRejectedError(purpose, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSSRFRejected,
		Message:   fmt.Sprintf("URL for %s failed safety validation", purpose),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDownloadError creates a non-retryable document fetch error.
func NewDownloadError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDownloadFailed,
		Message:   "Document download failed",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderError creates an extraction-capability error. Retryable
// covers rate limits and transient network failures; fatal covers
// invalid model ids and malformed schemas.
func NewProviderError(provider string, retryable bool, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderError,
		Message:   fmt.Sprintf("Extraction provider '%s' failed", provider),
		Details:   err.Error(),
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewConsensusConfigError creates a non-retryable configuration error.
func NewConsensusConfigError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConsensusConfig,
		Message:   "Consensus mode misconfigured",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheBackendError wraps a cache backend failure. Always treated
// as a forced miss by callers; never fails a task.
func NewCacheBackendError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheBackend,
		Message:   fmt.Sprintf("Cache backend %s failed", op),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeliveryError creates a webhook delivery error. Logged after
// retries are exhausted; never re-opens a terminal task.
func NewDeliveryError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDelivery,
		Message:   "Webhook delivery failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTaskNotFoundError creates a non-retryable lookup error.
func NewTaskNotFoundError(taskID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTaskNotFound,
		Message:   "Task not found",
		Details:   fmt.Sprintf("taskId: %s", taskID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTaskTimeoutError marks a task that exceeded its hard time limit.
func NewTaskTimeoutError(limit time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeTaskTimeout,
		Message:   fmt.Sprintf("Task exceeded time limit of %s", limit),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// Utility functions
// ==========================

// GetRetryCount returns the bounded retry budget for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeProviderError:
		return 3
	case ErrCodeDelivery:
		return 3
	default:
		return 0
	}
}

// IsRetryable reports whether err is a retryable StandardError.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable && GetRetryCount(stdErr.Code) > 0
	}
	return false
}

// Normalize ensures any error surfaces as a StandardError.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
