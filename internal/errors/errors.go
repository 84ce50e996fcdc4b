package errors

import (
	"fmt"
	"time"
)

/**
 * Custom error types for the OCR worker
 *
 * Each code maps to one failure class of an orchestration call or of the
 * worker plumbing around it.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Orchestration errors
	ErrorDecodeFailed      ErrorCode = "DECODE_FAILED"
	ErrorEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"
	ErrorStrategyFailed    ErrorCode = "STRATEGY_FAILED"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorNoUsableText      ErrorCode = "NO_USABLE_TEXT"
	ErrorImageTooLarge     ErrorCode = "IMAGE_TOO_LARGE"

	// Worker errors
	ErrorUserBusy      ErrorCode = "USER_BUSY"
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewDecodeFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDecodeFailed,
		Message:   "Image could not be decoded",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewEngineUnavailableError(jobID string, engine string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorEngineUnavailable,
		Message:   fmt.Sprintf("Recognition engine unavailable: %s", engine),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewStrategyFailedError(jobID string, strategy string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStrategyFailed,
		Message:   fmt.Sprintf("Strategy failed: %s", strategy),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"strategy": strategy,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewNoUsableTextError(jobID string, defect string, attempts int) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorNoUsableText,
		Message:   fmt.Sprintf("No usable text after %d attempts", attempts),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"defect":   defect,
			"attempts": attempts,
		},
	}
}

func NewImageTooLargeError(jobID string, size int64, limit int64) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorImageTooLarge,
		Message:   fmt.Sprintf("Image of %d bytes exceeds limit of %d bytes", size, limit),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"size":  size,
			"limit": limit,
		},
	}
}

func NewUserBusyError(jobID string, userID string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUserBusy,
		Message:   "Another image from this user is still processing",
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"user_id": userID,
		},
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
