package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies pipeline failures
type ErrorKind string

const (
	KindServiceUnavailable ErrorKind = "SERVICE_UNAVAILABLE"
	KindRateLimited        ErrorKind = "RATE_LIMITED"
	KindInvalidFormat      ErrorKind = "INVALID_FORMAT"
	KindTooLarge           ErrorKind = "TOO_LARGE"
	KindTimeout            ErrorKind = "TIMEOUT"
	KindValidation         ErrorKind = "VALIDATION_ERROR"
	KindProcessingFailed   ErrorKind = "PROCESSING_FAILED"
	KindCancelled          ErrorKind = "CANCELLED"
)

var (
	// ErrServiceUnavailable is returned when a remote service is down or unhealthy
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrRateLimited is returned when a remote service throttles us
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidFormat is returned when a remote service rejects the payload format
	ErrInvalidFormat = errors.New("invalid format")

	// ErrTooLarge is returned when the payload exceeds a size limit
	ErrTooLarge = errors.New("payload too large")

	// ErrTimeout is returned when a call exceeds its deadline
	ErrTimeout = errors.New("request timed out")

	// ErrValidation is returned for input or quality problems; never retried
	ErrValidation = errors.New("validation failed")

	// ErrProcessingFailed is the generic remote processing failure
	ErrProcessingFailed = errors.New("processing failed")

	// ErrCancelled is returned when the caller cancels the request
	ErrCancelled = errors.New("request cancelled")

	// ErrCacheMiss is returned when data is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrNoItemsParsed is returned when model output contains no usable item array
	ErrNoItemsParsed = errors.New("no items parsed from model output")
)

var kindSentinels = map[ErrorKind]error{
	KindServiceUnavailable: ErrServiceUnavailable,
	KindRateLimited:        ErrRateLimited,
	KindInvalidFormat:      ErrInvalidFormat,
	KindTooLarge:           ErrTooLarge,
	KindTimeout:            ErrTimeout,
	KindValidation:         ErrValidation,
	KindProcessingFailed:   ErrProcessingFailed,
	KindCancelled:          ErrCancelled,
}

// PipelineError wraps a failure with the operation that produced it and
// whether retrying the same call can help.
type PipelineError struct {
	// Op is the operation that failed (e.g. "ocr.extract", "llm.complete").
	Op string

	Kind       ErrorKind
	Retryable  bool
	StatusCode int

	// Err is the underlying error, may be nil.
	Err error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, kindSentinels[e.Kind])
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *PipelineError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// NewPipelineError creates a PipelineError with the default retryability of its kind.
func NewPipelineError(op string, kind ErrorKind, err error) *PipelineError {
	return &PipelineError{
		Op:        op,
		Kind:      kind,
		Retryable: defaultRetryable(kind),
		Err:       err,
	}
}

// ValidationErrorf creates a non-retryable validation error.
func ValidationErrorf(op, format string, args ...any) *PipelineError {
	return NewPipelineError(op, KindValidation, fmt.Errorf(format, args...))
}

func defaultRetryable(kind ErrorKind) bool {
	switch kind {
	case KindServiceUnavailable, KindRateLimited, KindTimeout, KindProcessingFailed:
		return true
	default:
		return false
	}
}

// ErrorFromStatus maps a non-2xx HTTP status to a typed error.
func ErrorFromStatus(op string, status int, body string) *PipelineError {
	var kind ErrorKind
	retryable := false

	switch {
	case status == http.StatusBadRequest:
		kind = KindInvalidFormat
	case status == http.StatusRequestEntityTooLarge:
		kind = KindTooLarge
	case status == http.StatusTooManyRequests:
		kind, retryable = KindRateLimited, true
	case status == http.StatusServiceUnavailable:
		kind, retryable = KindServiceUnavailable, true
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		kind, retryable = KindTimeout, true
	case status >= 500:
		kind, retryable = KindProcessingFailed, true
	default:
		kind = KindProcessingFailed
	}

	var cause error
	if body != "" {
		if len(body) > 256 {
			body = body[:256]
		}
		cause = errors.New(body)
	}

	return &PipelineError{
		Op:         op,
		Kind:       kind,
		Retryable:  retryable,
		StatusCode: status,
		Err:        cause,
	}
}

// FromContextError converts a context error into a typed error.
// Returns nil when err is not a context error.
func FromContextError(op string, err error) *PipelineError {
	switch {
	case errors.Is(err, context.Canceled):
		return NewPipelineError(op, KindCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewPipelineError(op, KindTimeout, err)
	default:
		return nil
	}
}

// IsRetryable reports whether err is a PipelineError marked retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// KindOf returns the kind of err, or KindProcessingFailed for untyped errors.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindProcessingFailed
}
