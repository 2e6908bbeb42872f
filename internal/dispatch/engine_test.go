package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextbus/internal/logger"
	buserrors "contextbus/pkg/errors"
	"contextbus/pkg/models"
	"contextbus/pkg/retry"
)

type deadLetterCall struct {
	env        *models.MessageEnvelope
	consumerID string
	reason     string
	history    []AttemptRecord
}

type deadLetterCapture struct {
	mu    sync.Mutex
	calls []deadLetterCall
}

func (c *deadLetterCapture) fn(ctx context.Context, env *models.MessageEnvelope, consumerID, reason string, history []AttemptRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, deadLetterCall{env: env, consumerID: consumerID, reason: reason, history: history})
	return nil
}

func (c *deadLetterCapture) all() []deadLetterCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]deadLetterCall(nil), c.calls...)
}

type engineFixture struct {
	engine     *Engine
	store      *MemoryAttemptStore
	registry   *Registry
	deadLetter *deadLetterCapture
}

func newEngineFixture(t *testing.T, policy retry.Policy) *engineFixture {
	t.Helper()

	registry, err := NewRegistry()
	require.NoError(t, err)

	store := NewMemoryAttemptStore()
	capture := &deadLetterCapture{}
	engine := NewEngine(store, registry, policy, time.Hour, 0, capture.fn, logger.NopLogger())
	return &engineFixture{engine: engine, store: store, registry: registry, deadLetter: capture}
}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:      2,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func engineEnvelope() *models.MessageEnvelope {
	return &models.MessageEnvelope{
		MessageID: "msg-1",
		EventType: "orders.created",
		TenantID:  "acme",
		Timestamp: time.Now().UTC(),
	}
}

func TestEngine_RetryableFailureSchedulesRetry(t *testing.T) {
	f := newEngineFixture(t, testPolicy())
	ctx := context.Background()

	before := time.Now().UTC()
	f.engine.OnFailure(ctx, engineEnvelope(), "billing", fmt.Errorf("downstream hiccup"))

	due, err := f.store.Due(ctx, before.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, due, 1)

	attempt := due[0]
	assert.Equal(t, StateRetrying, attempt.State)
	assert.Equal(t, 1, attempt.AttemptCount)
	assert.True(t, attempt.NextRetryAt.After(before), "backoff must push the retry into the future")
	require.Len(t, attempt.History, 1)
	assert.Equal(t, 1, attempt.History[0].Attempt)
	assert.Empty(t, f.deadLetter.all())
}

func TestEngine_PermanentFailureDeadLettersImmediately(t *testing.T) {
	f := newEngineFixture(t, testPolicy())
	ctx := context.Background()

	f.engine.OnFailure(ctx, engineEnvelope(), "billing", buserrors.ErrConsumerPermanent)

	calls := f.deadLetter.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "permanent_failure", calls[0].reason)
	assert.Equal(t, "billing", calls[0].consumerID)
	assert.Len(t, calls[0].history, 1)

	due, err := f.store.Due(ctx, time.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, due, "dead-lettered attempts leave the retry store")
}

func TestEngine_ExhaustedRetriesDeadLetter(t *testing.T) {
	f := newEngineFixture(t, testPolicy())
	ctx := context.Background()

	require.NoError(t, f.registry.Subscribe("orders.created", ConsumerFunc{
		ConsumerID: "billing",
		Fn: func(ctx context.Context, env *models.MessageEnvelope) error {
			return fmt.Errorf("still down")
		},
	}, ""))

	f.engine.OnFailure(ctx, engineEnvelope(), "billing", fmt.Errorf("still down"))

	// Drive the scheduler past every backoff window.
	clock := time.Now().UTC()
	for i := 0; i < 5; i++ {
		clock = clock.Add(time.Minute)
		now := clock
		f.engine.now = func() time.Time { return now }
		f.engine.redeliverDue(ctx)
	}

	calls := f.deadLetter.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "max_retries_exceeded", calls[0].reason)
	// Initial attempt plus two retries.
	assert.Len(t, calls[0].history, 3)

	due, err := f.store.Due(ctx, clock.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestEngine_DefaultCeilingYieldsFourAttempts(t *testing.T) {
	f := newEngineFixture(t, retry.DefaultPolicy())
	ctx := context.Background()

	invocations := 0
	require.NoError(t, f.registry.Subscribe("orders.created", ConsumerFunc{
		ConsumerID: "billing",
		Fn: func(ctx context.Context, env *models.MessageEnvelope) error {
			invocations++
			return fmt.Errorf("still down")
		},
	}, ""))

	f.engine.OnFailure(ctx, engineEnvelope(), "billing", fmt.Errorf("still down"))

	clock := time.Now().UTC()
	for i := 0; i < 6; i++ {
		clock = clock.Add(time.Minute)
		now := clock
		f.engine.now = func() time.Time { return now }
		f.engine.redeliverDue(ctx)
	}

	calls := f.deadLetter.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "max_retries_exceeded", calls[0].reason)
	// One initial attempt plus the default three retries.
	assert.Len(t, calls[0].history, 4)
	assert.Equal(t, 3, invocations)
}

func TestEngine_RedeliverySuccessEndsTimeline(t *testing.T) {
	f := newEngineFixture(t, testPolicy())
	ctx := context.Background()

	attempts := 0
	require.NoError(t, f.registry.Subscribe("orders.created", ConsumerFunc{
		ConsumerID: "billing",
		Fn: func(ctx context.Context, env *models.MessageEnvelope) error {
			attempts++
			return nil
		},
	}, ""))

	f.engine.OnFailure(ctx, engineEnvelope(), "billing", fmt.Errorf("transient"))

	later := time.Now().UTC().Add(time.Minute)
	f.engine.now = func() time.Time { return later }
	f.engine.redeliverDue(ctx)

	assert.Equal(t, 1, attempts)
	assert.Empty(t, f.deadLetter.all())

	due, err := f.store.Due(ctx, later.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestEngine_MissingConsumerDeadLetters(t *testing.T) {
	f := newEngineFixture(t, testPolicy())
	ctx := context.Background()

	f.engine.OnFailure(ctx, engineEnvelope(), "billing", fmt.Errorf("transient"))

	later := time.Now().UTC().Add(time.Minute)
	f.engine.now = func() time.Time { return later }
	f.engine.redeliverDue(ctx)

	calls := f.deadLetter.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "consumer_gone", calls[0].reason)
}

func TestEngine_ExpiredMessageDroppedBeforeRetry(t *testing.T) {
	f := newEngineFixture(t, testPolicy())
	ctx := context.Background()

	require.NoError(t, f.registry.Subscribe("orders.created", ConsumerFunc{
		ConsumerID: "billing",
		Fn: func(ctx context.Context, env *models.MessageEnvelope) error {
			t.Error("expired message must not be redelivered")
			return nil
		},
	}, ""))

	env := engineEnvelope()
	env.TTLSeconds = 30

	f.engine.OnFailure(ctx, env, "billing", fmt.Errorf("transient"))

	later := time.Now().UTC().Add(time.Minute)
	f.engine.now = func() time.Time { return later }
	f.engine.redeliverDue(ctx)

	assert.Empty(t, f.deadLetter.all(), "expired messages are dropped, not dead lettered")

	due, err := f.store.Due(ctx, later.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMemoryAttemptStore_DueOrderingAndLimit(t *testing.T) {
	store := NewMemoryAttemptStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, offset := range []time.Duration{30 * time.Second, 10 * time.Second, 20 * time.Second} {
		require.NoError(t, store.Save(ctx, &Attempt{
			MessageID:   fmt.Sprintf("msg-%d", i),
			ConsumerID:  "billing",
			State:       StateRetrying,
			NextRetryAt: now.Add(offset),
		}))
	}
	// Delivering attempts are never due.
	require.NoError(t, store.Save(ctx, &Attempt{
		MessageID:   "msg-delivering",
		ConsumerID:  "billing",
		State:       StateDelivering,
		NextRetryAt: now,
	}))

	due, err := store.Due(ctx, now.Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, "msg-1", due[0].MessageID)
	assert.Equal(t, "msg-2", due[1].MessageID)
	assert.Equal(t, "msg-0", due[2].MessageID)

	limited, err := store.Due(ctx, now.Add(time.Minute), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, store.Delete(ctx, "msg-0", "billing"))
	due, err = store.Due(ctx, now.Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}
