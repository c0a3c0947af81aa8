package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents a categorized error type
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig ErrorCode = "MISSING_CONFIG"

	// Store errors
	ErrCodeStoreQuery       ErrorCode = "STORE_QUERY"
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// Delivery taxonomy
	ErrCodeTransientNetwork ErrorCode = "TRANSIENT_NETWORK"
	ErrCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrCodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"
	ErrCodeIdentityConflict ErrorCode = "IDENTITY_CONFLICT"
	ErrCodePermanentFailure ErrorCode = "PERMANENT_DELIVERY_FAILURE"

	// External service errors
	ErrCodeSlackAPI     ErrorCode = "SLACK_API"
	ErrCodeMatrixAPI    ErrorCode = "MATRIX_API"
	ErrCodeFileTransfer ErrorCode = "FILE_TRANSFER"

	// Validation errors
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"
)

// BridgeError is a structured application error. Retryable drives the
// generic backoff path; RetryAfter, when set, overrides it with the
// platform-advertised interval and is not counted against the retry budget.
type BridgeError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Retryable  bool                   `json:"retryable"`
	RetryAfter time.Duration          `json:"retry_after,omitempty"`
}

func (e *BridgeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *BridgeError) WithContext(key string, value interface{}) *BridgeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new BridgeError
func New(code ErrorCode, message string) *BridgeError {
	return &BridgeError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *BridgeError {
	return &BridgeError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Transient wraps an error as a retryable transient-network failure.
func Transient(err error, message string) *BridgeError {
	return &BridgeError{
		Code:      ErrCodeTransientNetwork,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// RateLimited builds a rate-limit error carrying the platform-specified
// retry interval.
func RateLimited(retryAfter time.Duration, message string) *BridgeError {
	return &BridgeError{
		Code:       ErrCodeRateLimited,
		Message:    message,
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

// Malformed marks an undecodable payload; the single event is skipped,
// never retried.
func Malformed(err error, message string) *BridgeError {
	return &BridgeError{
		Code:    ErrCodeMalformedPayload,
		Message: message,
		Cause:   err,
	}
}
