package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func newExponential(policy Policy) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.MaxInterval = policy.MaxInterval
	exp.Multiplier = policy.Multiplier
	exp.RandomizationFactor = policy.JitterFraction
	exp.MaxElapsedTime = 0
	return exp
}

// BaseDelay computes the undithered delay before retry number attempt
// (attempt 1 is the first retry): initial × multiplier^(attempt-1),
// capped at the policy maximum.
func BaseDelay(policy Policy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	policy = policy.Normalized()
	d := float64(policy.InitialInterval) * math.Pow(policy.Multiplier, float64(attempt-1))
	if d > float64(policy.MaxInterval) {
		return policy.MaxInterval
	}
	return time.Duration(d)
}

// Delay is BaseDelay with jitter applied: a uniformly random offset of
// up to ±JitterFraction of the base, so concurrent retries spread out
// rather than thundering back together.
func Delay(policy Policy, attempt int) time.Duration {
	base := BaseDelay(policy, attempt)
	policy = policy.Normalized()
	if policy.JitterFraction <= 0 {
		return base
	}
	spread := float64(base) * policy.JitterFraction
	offset := (rand.Float64()*2 - 1) * spread
	d := time.Duration(float64(base) + offset)
	if d < 0 {
		return 0
	}
	return d
}
