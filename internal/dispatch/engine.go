package dispatch

import (
	"context"
	"time"

	"contextbus/internal/correlation"
	"contextbus/internal/logger"
	buserrors "contextbus/pkg/errors"
	"contextbus/pkg/metrics"
	"contextbus/pkg/models"
	"contextbus/pkg/retry"
)

// DeadLetterFunc receives a permanently failed delivery together with
// its complete attempt history. Wired to the DLQ service at startup.
type DeadLetterFunc func(ctx context.Context, env *models.MessageEnvelope, consumerID, reason string, history []AttemptRecord) error

const defaultRedeliverBatch = 64

// Engine owns the retry lifecycle of failed deliveries: it classifies
// failures, schedules backoff, redelivers due attempts, and promotes
// exhausted or permanent failures to the dead letter queue.
type Engine struct {
	store           AttemptStore
	registry        *Registry
	policy          retry.Policy
	deadLetter      DeadLetterFunc
	pollInterval    time.Duration
	batchSize       int
	consumerTimeout time.Duration
	logger          logger.Logger

	now func() time.Time
}

func NewEngine(store AttemptStore, registry *Registry, policy retry.Policy, pollInterval, consumerTimeout time.Duration, deadLetter DeadLetterFunc, log logger.Logger) *Engine {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Engine{
		store:           store,
		registry:        registry,
		policy:          policy.Normalized(),
		deadLetter:      deadLetter,
		pollInterval:    pollInterval,
		batchSize:       defaultRedeliverBatch,
		consumerTimeout: consumerTimeout,
		logger:          log,
		now:             time.Now,
	}
}

// SetDeadLetter installs the DLQ handoff. Must be called before any
// message flows; the engine and the DLQ service are constructed in
// opposite dependency order.
func (e *Engine) SetDeadLetter(fn DeadLetterFunc) {
	e.deadLetter = fn
}

// OnFailure starts a retry timeline after a first delivery attempt
// failed. The first attempt is already counted in AttemptCount.
func (e *Engine) OnFailure(ctx context.Context, env *models.MessageEnvelope, consumerID string, deliveryErr error) {
	attempt := &Attempt{
		MessageID:    env.MessageID,
		ConsumerID:   consumerID,
		Envelope:     env,
		State:        StateDelivering,
		AttemptCount: 1,
	}
	e.settle(ctx, attempt, deliveryErr)
}

// Run polls for due retries until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.redeliverDue(ctx)
		}
	}
}

func (e *Engine) redeliverDue(ctx context.Context) {
	due, err := e.store.Due(ctx, e.now(), e.batchSize)
	if err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to load due retries",
			"error", err,
		)
		return
	}
	for _, attempt := range due {
		e.redeliver(ctx, attempt)
	}
}

func (e *Engine) redeliver(ctx context.Context, attempt *Attempt) {
	env := attempt.Envelope
	ctx = correlation.ContextFor(ctx, env)

	if env.Expired(e.now()) {
		metrics.ExpiredMessagesTotal.WithLabelValues(env.TenantID, env.EventType, "retry").Inc()
		e.logger.InfowCtx(ctx, "Message expired before retry, dropping",
			"consumer_id", attempt.ConsumerID,
			"attempt", attempt.AttemptCount,
		)
		_ = e.store.Delete(ctx, env.MessageID, attempt.ConsumerID)
		return
	}

	consumer, ok := e.registry.Lookup(env.EventType, attempt.ConsumerID)
	if !ok {
		e.promote(ctx, attempt, "consumer_gone")
		return
	}

	attempt.AttemptCount++
	attempt.State = StateDelivering
	// Persisting the delivering state keeps concurrent poll cycles from
	// redelivering the same attempt.
	if err := e.store.Save(ctx, attempt); err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to mark attempt delivering",
			"consumer_id", attempt.ConsumerID,
			"error", err,
		)
		return
	}
	metrics.RetryAttemptsTotal.WithLabelValues(env.EventType, attempt.ConsumerID).Inc()

	start := time.Now()
	err := invokeConsumer(ctx, consumer, env, e.consumerTimeout)

	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.ConsumeTotal.WithLabelValues(env.TenantID, env.EventType, status).Inc()
	metrics.ObserveConsumeDuration(env.EventType, status, time.Since(start))

	if err != nil {
		e.settle(ctx, attempt, err)
		return
	}

	_ = e.store.Delete(ctx, env.MessageID, attempt.ConsumerID)
	e.logger.InfowCtx(ctx, "Retry delivery succeeded",
		"consumer_id", attempt.ConsumerID,
		"attempt", attempt.AttemptCount,
	)
}

// settle records the outcome of a failed attempt: schedule the next
// retry, or promote to the dead letter queue when the failure is
// permanent or the retry ceiling is exhausted.
func (e *Engine) settle(ctx context.Context, attempt *Attempt, deliveryErr error) {
	now := e.now().UTC()
	kind := buserrors.Code(deliveryErr)
	attempt.LastErrorKind = kind
	attempt.History = append(attempt.History, AttemptRecord{
		Attempt:   attempt.AttemptCount,
		At:        now,
		ErrorKind: kind,
		Error:     deliveryErr.Error(),
	})

	if !buserrors.IsRetryable(deliveryErr) {
		e.promote(ctx, attempt, "permanent_failure")
		return
	}
	if attempt.AttemptCount > e.policy.MaxRetries {
		e.promote(ctx, attempt, "max_retries_exceeded")
		return
	}

	attempt.State = StateRetrying
	attempt.NextRetryAt = now.Add(retry.Delay(e.policy, attempt.AttemptCount))
	if err := e.store.Save(ctx, attempt); err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to persist retry state",
			"consumer_id", attempt.ConsumerID,
			"error", err,
		)
		return
	}

	e.logger.InfowCtx(ctx, "Delivery failed, retry scheduled",
		"consumer_id", attempt.ConsumerID,
		"attempt", attempt.AttemptCount,
		"error_kind", kind,
		"next_retry_at", attempt.NextRetryAt,
	)
}

func (e *Engine) promote(ctx context.Context, attempt *Attempt, reason string) {
	attempt.State = StateDeadLettered

	if e.deadLetter != nil {
		if err := e.deadLetter(ctx, attempt.Envelope, attempt.ConsumerID, reason, attempt.History); err != nil {
			// The handoff failure is logged with the full context; the
			// attempt is not requeued.
			e.logger.ErrorwCtx(ctx, "Dead letter handoff failed",
				"consumer_id", attempt.ConsumerID,
				"reason", reason,
				"attempts", len(attempt.History),
				"error", err,
			)
		}
	}

	_ = e.store.Delete(ctx, attempt.MessageID, attempt.ConsumerID)
}
