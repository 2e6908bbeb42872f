package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for every pipeline stage. Codes are stable and surfaced
// to producers; HTTP status is the ingress mapping. Retryability drives the
// caller's retry-vs-abort decision and the dispatcher's dead-letter policy.
var (
	ErrValidation      = NewError("VALIDATION_ERROR", "envelope validation failed", http.StatusBadRequest)
	ErrSchemaMismatch  = NewError("SCHEMA_MISMATCH", "payload does not match registered schema", http.StatusUnprocessableEntity)
	ErrPayloadTooLarge = NewError("PAYLOAD_TOO_LARGE", "envelope exceeds size limit", http.StatusRequestEntityTooLarge)
	ErrRateLimited     = NewError("RATE_LIMITED", "tenant rate limit exceeded", http.StatusTooManyRequests)
	ErrQuotaExceeded   = NewError("QUOTA_EXCEEDED", "tenant daily quota exceeded", http.StatusTooManyRequests)
	ErrExpired         = NewError("MESSAGE_EXPIRED", "message ttl elapsed", http.StatusGone)
	ErrUnauthorized    = NewError("UNAUTHORIZED", "signature verification failed", http.StatusUnauthorized)
	ErrNotFound        = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrUnavailable     = NewError("BUS_UNAVAILABLE", "bus unavailable", http.StatusServiceUnavailable)
	ErrInternal        = NewError("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)

	// Consumer-reported outcomes. Retryable faults go through backoff,
	// permanent faults dead-letter immediately.
	ErrConsumerRetryable = NewError("CONSUMER_RETRYABLE", "consumer reported a transient fault", http.StatusBadGateway)
	ErrConsumerPermanent = NewError("CONSUMER_PERMANENT", "consumer reported an unrecoverable fault", http.StatusBadRequest)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code       string
	Message    string
	Status     int
	Details    map[string]interface{}
	Cause      error
	RetryAfter time.Duration
	retryable  *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	switch e.Code {
	case ErrRateLimited.Code, ErrQuotaExceeded.Code, ErrUnavailable.Code, ErrConsumerRetryable.Code:
		return true
	}
	return false
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	err.Details[key] = value
	return &err
}

// WithField records the offending field path on a validation error.
func (e *Error) WithField(path string) *Error {
	return e.WithDetail("field", path)
}

func (e *Error) WithRetryAfter(d time.Duration) *Error {
	err := *e
	err.RetryAfter = d
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, busErr *Error) *Error {
	if err == nil {
		return nil
	}
	return busErr.WithCause(err)
}

// Code extracts the stable error code, or INTERNAL_ERROR for foreign errors.
func Code(err error) string {
	var busErr *Error
	if errors.As(err, &busErr) {
		return busErr.Code
	}
	return ErrInternal.Code
}

func Is(err error, sentinel *Error) bool {
	var busErr *Error
	if errors.As(err, &busErr) {
		return busErr.Code == sentinel.Code
	}
	return false
}

// IsRetryable classifies any error for the retry engine. Foreign errors
// default to retryable so an unclassified consumer fault gets backoff
// rather than an immediate dead-letter.
func IsRetryable(err error) bool {
	var fatalErr FatalError
	if errors.As(err, &fatalErr) {
		return !fatalErr.IsFatal()
	}
	var retryableErr RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.IsRetryable()
	}
	return true
}

func RetryAfter(err error) (time.Duration, bool) {
	var busErr *Error
	if errors.As(err, &busErr) && busErr.RetryAfter > 0 {
		return busErr.RetryAfter, true
	}
	return 0, false
}

func ToHTTPStatus(err error) int {
	var busErr *Error
	if errors.As(err, &busErr) {
		return busErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var busErr *Error
	if !errors.As(err, &busErr) {
		busErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      busErr.Message,
		"error_code": busErr.Code,
	}
	if len(busErr.Details) > 0 {
		response["details"] = busErr.Details
	}
	return response
}
