package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Engine errors
	ErrorTransientEngine ErrorCode = "TRANSIENT_ENGINE_FAILURE"
	ErrorOCRExhausted    ErrorCode = "OCR_EXHAUSTED"

	// Decision outcomes surfaced as degraded states
	ErrorUndeterminedOrientation ErrorCode = "UNDETERMINED_ORIENTATION"
	ErrorFieldRejected           ErrorCode = "FIELD_REJECTED"

	// Startup errors
	ErrorFatalConfig ErrorCode = "FATAL_CONFIG"

	// Infrastructure errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorStorageFailed     ErrorCode = "STORAGE_FAILED"
)

// PipelineError represents a structured processing error
type PipelineError struct {
	Code       ErrorCode
	Message    string
	DocumentID string
	Stage      string
	Timestamp  time.Time
	Details    map[string]interface{}
	Cause      error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewTransientEngineError(engineID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorTransientEngine,
		Message:   fmt.Sprintf("engine %s failed transiently", engineID),
		Stage:     "ocr",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine_id": engineID,
		},
		Cause: cause,
	}
}

func NewOCRExhaustedError(documentID string, attempted int) *PipelineError {
	return &PipelineError{
		Code:       ErrorOCRExhausted,
		Message:    fmt.Sprintf("all %d ranked OCR engines failed", attempted),
		DocumentID: documentID,
		Stage:      "ocr",
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"engines_attempted": attempted,
		},
	}
}

func NewFatalConfigError(message string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorFatalConfig,
		Message:   message,
		Stage:     "startup",
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewProcessingTimeoutError(documentID string, duration time.Duration, cause error) *PipelineError {
	return &PipelineError{
		Code:       ErrorProcessingTimeout,
		Message:    fmt.Sprintf("processing timed out after %v", duration),
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewStorageFailedError(documentID string, cause error) *PipelineError {
	return &PipelineError{
		Code:       ErrorStorageFailed,
		Message:    "failed to store processing results",
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

// IsTransient reports whether err is a transient engine failure.
func IsTransient(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Code == ErrorTransientEngine
}

// IsFatalConfig reports whether err should abort pipeline startup.
func IsFatalConfig(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Code == ErrorFatalConfig
}

// CodeOf extracts the structured error code, or "" for plain errors.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// ToMap converts error to map for database storage
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}
	if e.Stage != "" {
		result["stage"] = e.Stage
	}
	for k, v := range e.Details {
		result[k] = v
	}
	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}
	return result
}
