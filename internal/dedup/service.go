package dedup

import (
	"context"
	"fmt"
	"time"

	"contextbus/internal/config"
	"contextbus/internal/constants"
	"contextbus/internal/logger"
	buserrors "contextbus/pkg/errors"
	"contextbus/pkg/metrics"
	"contextbus/pkg/models"
)

// Service owns the idempotency decision for the publish path. It computes
// the effective key, performs the atomic check-and-record against the
// store, and applies the configured fallback when the store is down.
type Service struct {
	store  Store
	window time.Duration
	cfg    config.DedupConfig
	logger logger.Logger
}

func NewService(store Store, cfg config.DedupConfig, log logger.Logger) *Service {
	window := time.Duration(cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = models.DefaultDedupWindow
	}

	return &Service{
		store:  store,
		window: window,
		cfg:    cfg,
		logger: log,
	}
}

func (s *Service) Window() time.Duration {
	return s.window
}

// Check records the publish if it is first within the window. On a
// duplicate it returns first=false plus the original acceptance record,
// which the publisher replays verbatim.
func (s *Service) Check(ctx context.Context, env *models.MessageEnvelope) (first bool, original Record, err error) {
	now := time.Now().UTC()
	rec := Record{
		MessageID:   env.MessageID,
		ProcessedAt: now,
		ExpiresAt:   now.Add(s.window),
	}

	key := KeyFor(env)
	stored, inserted, err := s.store.CheckAndRecord(ctx, key, rec, s.window)
	if err != nil {
		return s.handleStoreError(ctx, err, env)
	}

	if !inserted {
		metrics.DedupHitsTotal.WithLabelValues(env.TenantID).Inc()
	}
	return inserted, stored, nil
}

// Rollback withdraws the dedup record for a publish that was rejected
// after the idempotency check, so the producer's retry is not collapsed
// into a phantom acceptance. Best effort: the window expiry bounds any
// leftover record.
func (s *Service) Rollback(ctx context.Context, env *models.MessageEnvelope) {
	if err := s.store.Remove(ctx, KeyFor(env)); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to roll back dedup record",
			"error", err,
		)
	}
}

func (s *Service) handleStoreError(ctx context.Context, err error, env *models.MessageEnvelope) (bool, Record, error) {
	if s.cfg.OnStoreError == constants.FallbackAllow {
		metrics.FallbackUsageTotal.WithLabelValues("dedup", "allow_on_error", buserrors.Code(err)).Inc()
		s.logger.WarnwCtx(ctx, "Dedup store error, allowing message (fallback: allow)",
			"error", err,
		)
		now := time.Now().UTC()
		return true, Record{MessageID: env.MessageID, ProcessedAt: now, ExpiresAt: now.Add(s.window)}, nil
	}

	metrics.FallbackUsageTotal.WithLabelValues("dedup", "deny_on_error", buserrors.Code(err)).Inc()
	return false, Record{}, buserrors.ErrUnavailable.
		WithCause(fmt.Errorf("dedup check failed for message %s: %w", env.MessageID, err))
}

func (s *Service) Close() error {
	return s.store.Close()
}
