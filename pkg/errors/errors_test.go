package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Is(t *testing.T) {
	err := ErrRateLimited.WithDetail("burst", 50)

	assert.True(t, Is(err, ErrRateLimited))
	assert.False(t, Is(err, ErrQuotaExceeded))

	wrapped := fmt.Errorf("publish failed: %w", err)
	assert.True(t, Is(wrapped, ErrRateLimited))
}

func TestIsRetryable_Classification(t *testing.T) {
	assert.True(t, IsRetryable(ErrRateLimited))
	assert.True(t, IsRetryable(ErrQuotaExceeded))
	assert.True(t, IsRetryable(ErrUnavailable))
	assert.True(t, IsRetryable(ErrConsumerRetryable))

	assert.False(t, IsRetryable(ErrValidation))
	assert.False(t, IsRetryable(ErrSchemaMismatch))
	assert.False(t, IsRetryable(ErrConsumerPermanent))
}

func TestIsRetryable_ForeignErrorsDefaultRetryable(t *testing.T) {
	assert.True(t, IsRetryable(stderrors.New("connection reset")))
}

func TestIsRetryable_Overrides(t *testing.T) {
	assert.False(t, IsRetryable(ErrUnavailable.AsFatal()))
	assert.True(t, IsRetryable(ErrValidation.AsRetryable()))
}

func TestWithDetail_DoesNotMutateSentinel(t *testing.T) {
	_ = ErrValidation.WithDetail("field", "tenant_id")
	assert.Empty(t, ErrValidation.Details)
}

func TestRetryAfter(t *testing.T) {
	err := ErrRateLimited.WithRetryAfter(3 * time.Second)

	d, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, ok = RetryAfter(ErrRateLimited)
	assert.False(t, ok)
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, ToHTTPStatus(ErrRateLimited))
	assert.Equal(t, http.StatusGone, ToHTTPStatus(ErrExpired))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(stderrors.New("boom")))
}

func TestCode(t *testing.T) {
	assert.Equal(t, "RATE_LIMITED", Code(ErrRateLimited))
	assert.Equal(t, "INTERNAL_ERROR", Code(stderrors.New("boom")))
}

func TestToErrorResponse(t *testing.T) {
	response := ToErrorResponse(ErrValidation.WithField("payload.amount"))

	assert.Equal(t, "VALIDATION_ERROR", response["error_code"])
	details, ok := response["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "payload.amount", details["field"])
}

func TestRecoverPanic(t *testing.T) {
	err := RecoverPanic("something broke")
	require.Error(t, err)
	assert.True(t, Is(err, ErrInternal))
	assert.False(t, IsRetryable(err))

	assert.NoError(t, RecoverPanic(nil))
}
