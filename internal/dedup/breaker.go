package dedup

import (
	"context"
	"time"

	"contextbus/internal/config"
	"contextbus/pkg/circuitbreaker"
)

type breakerResult struct {
	rec      Record
	inserted bool
}

// BreakerStore wraps a Store with a circuit breaker so a misbehaving
// external dedup table sheds load instead of stalling every publish.
type BreakerStore struct {
	inner   Store
	breaker *circuitbreaker.Wrapper
}

func NewBreakerStore(inner Store, cfg config.CircuitBreakerConfig) *BreakerStore {
	bcfg := circuitbreaker.DefaultConfig("dedup-store")
	if cfg.MaxRequests > 0 {
		bcfg.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		bcfg.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		bcfg.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 {
		bcfg.FailureRatio = cfg.FailureRatio
	}
	if cfg.MinRequests > 0 {
		bcfg.MinRequests = cfg.MinRequests
	}

	return &BreakerStore{
		inner:   inner,
		breaker: circuitbreaker.NewWrapper(bcfg),
	}
}

func (s *BreakerStore) CheckAndRecord(ctx context.Context, key string, rec Record, ttl time.Duration) (Record, bool, error) {
	result, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		got, inserted, err := s.inner.CheckAndRecord(ctx, key, rec, ttl)
		if err != nil {
			return nil, err
		}
		return breakerResult{rec: got, inserted: inserted}, nil
	})
	if err != nil {
		return Record{}, false, err
	}

	r := result.(breakerResult)
	return r.rec, r.inserted, nil
}

func (s *BreakerStore) Remove(ctx context.Context, key string) error {
	_, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, s.inner.Remove(ctx, key)
	})
	return err
}

func (s *BreakerStore) Close() error {
	return s.inner.Close()
}
