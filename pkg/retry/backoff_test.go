package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	buserrors "contextbus/pkg/errors"
)

func testPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		JitterFraction:  0.2,
	}
}

func TestBaseDelay_ExponentialGrowth(t *testing.T) {
	policy := testPolicy()

	assert.Equal(t, 1*time.Second, BaseDelay(policy, 1))
	assert.Equal(t, 2*time.Second, BaseDelay(policy, 2))
	assert.Equal(t, 4*time.Second, BaseDelay(policy, 3))
	assert.Equal(t, 8*time.Second, BaseDelay(policy, 4))
}

func TestBaseDelay_CappedAtMaxInterval(t *testing.T) {
	policy := testPolicy()

	assert.Equal(t, 30*time.Second, BaseDelay(policy, 10))
}

func TestBaseDelay_ClampsAttempt(t *testing.T) {
	policy := testPolicy()

	assert.Equal(t, BaseDelay(policy, 1), BaseDelay(policy, 0))
}

func TestDelay_JitterStaysWithinFraction(t *testing.T) {
	policy := testPolicy()

	base := BaseDelay(policy, 3)
	lo := time.Duration(float64(base) * 0.8)
	hi := time.Duration(float64(base) * 1.2)

	for i := 0; i < 100; i++ {
		d := Delay(policy, 3)
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}
}

func TestDelay_NoJitter(t *testing.T) {
	policy := testPolicy()
	policy.JitterFraction = 0

	assert.Equal(t, BaseDelay(policy, 2), Delay(policy, 2))
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	policy := testPolicy()
	policy.InitialInterval = time.Millisecond
	policy.MaxInterval = 5 * time.Millisecond

	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return buserrors.ErrUnavailable
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnFatalError(t *testing.T) {
	policy := testPolicy()
	policy.InitialInterval = time.Millisecond

	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		return buserrors.ErrValidation
	})

	require.Error(t, err)
	assert.True(t, buserrors.Is(err, buserrors.ErrValidation))
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsPolicy(t *testing.T) {
	policy := testPolicy()
	policy.MaxRetries = 2
	policy.InitialInterval = time.Millisecond
	policy.MaxInterval = 2 * time.Millisecond

	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		return buserrors.ErrUnavailable
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}
