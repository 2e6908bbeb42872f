package publish

import (
	"context"
	"fmt"
	"time"

	"contextbus/internal/correlation"
	"contextbus/internal/dedup"
	"contextbus/internal/envelope"
	"contextbus/internal/logger"
	"contextbus/internal/ratelimit"
	buserrors "contextbus/pkg/errors"
	"contextbus/pkg/metrics"
	"contextbus/pkg/models"
	"contextbus/pkg/tracing"
)

// Sink is where accepted messages go. The publisher's guarantee ends at
// a successful Enqueue: durably queued for dispatch, not delivered.
type Sink interface {
	Enqueue(ctx context.Context, env *models.MessageEnvelope) error
}

// Receipt is the acceptance result. Duplicate marks an idempotent replay
// collapsed by the dedup window; the MessageID is then the one accepted
// by the original publish.
type Receipt struct {
	MessageID string `json:"message_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// VerifyFunc is the external signature-verification collaborator invoked
// before validation for adapter-originated traffic. nil disables it.
type VerifyFunc func(ctx context.Context, env *models.MessageEnvelope) error

// Publisher runs the accept pipeline: verify, validate, schema-check,
// dedup, rate-limit, commit. Every rejection is a typed error the caller
// can map to a retry-vs-abort decision.
type Publisher struct {
	validator *envelope.Validator
	dedup     *dedup.Service
	limiter   *ratelimit.Limiter
	sink      Sink
	verify    VerifyFunc
	logger    logger.Logger
}

func NewPublisher(validator *envelope.Validator, dedupSvc *dedup.Service, limiter *ratelimit.Limiter, sink Sink, log logger.Logger) *Publisher {
	return &Publisher{
		validator: validator,
		dedup:     dedupSvc,
		limiter:   limiter,
		sink:      sink,
		logger:    log,
	}
}

// SetVerifier installs the signature collaborator. Must be called before
// the publisher starts accepting traffic.
func (p *Publisher) SetVerifier(verify VerifyFunc) {
	p.verify = verify
}

func (p *Publisher) Publish(ctx context.Context, env *models.MessageEnvelope) (*Receipt, error) {
	start := time.Now()

	receipt, err := p.publish(ctx, env)

	status := "accepted"
	if err != nil {
		status = "rejected"
		metrics.ErrorTotal.WithLabelValues("publish", buserrors.Code(err)).Inc()
	}
	if env != nil {
		metrics.PublishTotal.WithLabelValues(env.TenantID, env.EventType, status).Inc()
	}
	metrics.ObservePublishDuration(time.Since(start), status)

	return receipt, err
}

func (p *Publisher) publish(ctx context.Context, env *models.MessageEnvelope) (*Receipt, error) {
	if env == nil {
		return nil, buserrors.ErrValidation.WithField("envelope").
			WithCause(fmt.Errorf("envelope is nil"))
	}

	correlation.EnsureIDs(env)
	ctx = correlation.ContextFor(ctx, env)

	ctx, span := tracing.GetTracer("contextbus").Start(ctx, "publish")
	defer span.End()

	if p.verify != nil {
		if err := p.verify(ctx, env); err != nil {
			return nil, err
		}
	}

	oversized, err := p.validator.Validate(env)
	if err != nil {
		p.logger.DebugwCtx(ctx, "Envelope rejected",
			"error", err,
		)
		return nil, err
	}
	if oversized {
		metrics.OversizedPayloadTotal.WithLabelValues(env.TenantID).Inc()
		p.logger.WarnwCtx(ctx, "Payload exceeds soft size cap")
	}

	// A message already past its ttl is never committed.
	if env.Expired(time.Now()) {
		metrics.ExpiredMessagesTotal.WithLabelValues(env.TenantID, env.EventType, "publish").Inc()
		p.logger.InfowCtx(ctx, "Message expired before commit",
			"ttl_seconds", env.TTLSeconds,
		)
		return nil, buserrors.ErrExpired
	}

	first, original, err := p.dedup.Check(ctx, env)
	if err != nil {
		return nil, err
	}
	if !first {
		// Idempotent replay: same acceptance as the original publish,
		// no re-validation, no quota charge, no second dispatch.
		p.logger.DebugwCtx(ctx, "Duplicate publish collapsed",
			"original_message_id", original.MessageID,
		)
		return &Receipt{MessageID: original.MessageID, Duplicate: true}, nil
	}

	// Rollback below is best effort: a duplicate racing between the
	// dedup insert and the rollback can observe the record and report a
	// duplicate acceptance for a publish that was ultimately rejected.
	// The window expiry bounds the inconsistency.
	if err := p.limiter.Acquire(env.TenantID, 1); err != nil {
		p.dedup.Rollback(ctx, env)
		return nil, err
	}

	if err := p.sink.Enqueue(ctx, env); err != nil {
		p.dedup.Rollback(ctx, env)
		return nil, buserrors.ErrUnavailable.WithCause(err)
	}

	p.logger.InfowCtx(ctx, "Message accepted")
	return &Receipt{MessageID: env.MessageID}, nil
}
