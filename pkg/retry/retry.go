package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	buserrors "contextbus/pkg/errors"
)

// Policy describes the delivery retry schedule: exponential backoff with
// a cap and proportional jitter. MaxRetries counts retries after the
// initial attempt.
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFraction  float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		JitterFraction:  0.2,
	}
}

func (p Policy) Normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

// Retry runs fn until it succeeds, exhausts the policy, or returns a
// fatal error. Classification comes from the bus error taxonomy;
// unclassified errors are treated as retryable.
func Retry(ctx context.Context, policy Policy, fn func() error) error {
	policy = policy.Normalized()

	b := newExponential(policy)
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxRetries)), ctx)

	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !buserrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, bo)
}
