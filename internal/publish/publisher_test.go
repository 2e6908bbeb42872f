package publish

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextbus/internal/config"
	"contextbus/internal/dedup"
	"contextbus/internal/envelope"
	"contextbus/internal/logger"
	"contextbus/internal/ratelimit"
	"contextbus/internal/schema"
	buserrors "contextbus/pkg/errors"
	"contextbus/pkg/models"
)

type captureSink struct {
	mu       sync.Mutex
	enqueued []*models.MessageEnvelope
	fail     bool
}

func (s *captureSink) Enqueue(ctx context.Context, env *models.MessageEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("sink unavailable")
	}
	s.enqueued = append(s.enqueued, env)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.enqueued)
}

type publisherFixture struct {
	publisher *Publisher
	sink      *captureSink
}

func newFixture(t *testing.T) *publisherFixture {
	t.Helper()

	registry := schema.NewRegistry()
	require.NoError(t, registry.Register("orders.created", "1.0.0", schema.Schema{
		Fields: map[string]schema.FieldSpec{
			"order_id": {Type: schema.FieldString, Required: true},
		},
	}))

	store := dedup.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })
	dedupSvc := dedup.NewService(store, config.DedupConfig{WindowSeconds: 3600, OnStoreError: "deny"}, logger.NopLogger())

	limiter, err := ratelimit.NewLimiter(config.RateLimitConfig{DefaultTier: "enterprise"})
	require.NoError(t, err)
	t.Cleanup(limiter.Close)

	sink := &captureSink{}
	publisher := NewPublisher(envelope.NewValidator(registry), dedupSvc, limiter, sink, logger.NopLogger())
	return &publisherFixture{publisher: publisher, sink: sink}
}

func validEnvelope() *models.MessageEnvelope {
	return models.NewEnvelopeBuilder().
		WithMessageID(uuid.NewString()).
		WithEventType("orders.created", "1.0.0").
		WithTenant("acme").
		WithTimestamp(time.Now().UTC()).
		WithSource("order-service", "2.0.0").
		WithPayload(map[string]interface{}{"order_id": "o-1"}).
		Build()
}

func TestPublisher_AcceptsValidMessage(t *testing.T) {
	f := newFixture(t)

	env := validEnvelope()
	receipt, err := f.publisher.Publish(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, env.MessageID, receipt.MessageID)
	assert.False(t, receipt.Duplicate)
	assert.Equal(t, 1, f.sink.count())

	// Correlation identity is filled in at ingress.
	assert.NotEmpty(t, env.TraceID)
	assert.NotEmpty(t, env.CorrelationID)
}

func TestPublisher_RejectsInvalidEnvelope(t *testing.T) {
	f := newFixture(t)

	env := validEnvelope()
	env.TenantID = ""

	_, err := f.publisher.Publish(context.Background(), env)
	require.Error(t, err)
	assert.True(t, buserrors.Is(err, buserrors.ErrValidation))
	assert.Equal(t, 0, f.sink.count())
}

func TestPublisher_RejectsNilEnvelope(t *testing.T) {
	f := newFixture(t)

	_, err := f.publisher.Publish(context.Background(), nil)
	require.Error(t, err)
}

func TestPublisher_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env1 := validEnvelope()
	env1.IdempotencyKey = "submit-42"
	receipt1, err := f.publisher.Publish(ctx, env1)
	require.NoError(t, err)

	// Retried publish: new message id, same idempotency key.
	env2 := validEnvelope()
	env2.IdempotencyKey = "submit-42"
	receipt2, err := f.publisher.Publish(ctx, env2)
	require.NoError(t, err)

	assert.True(t, receipt2.Duplicate)
	assert.Equal(t, receipt1.MessageID, receipt2.MessageID)
	assert.Equal(t, 1, f.sink.count(), "duplicate must not be dispatched again")
}

func TestPublisher_ExpiredMessageRejected(t *testing.T) {
	f := newFixture(t)

	env := validEnvelope()
	env.Timestamp = time.Now().UTC().Add(-time.Hour)
	env.TTLSeconds = 60

	_, err := f.publisher.Publish(context.Background(), env)
	require.Error(t, err)
	assert.True(t, buserrors.Is(err, buserrors.ErrExpired))
	assert.Equal(t, 0, f.sink.count())
}

func TestPublisher_SinkFailureRollsBackDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sink.fail = true

	env1 := validEnvelope()
	env1.IdempotencyKey = "submit-42"
	_, err := f.publisher.Publish(ctx, env1)
	require.Error(t, err)
	assert.True(t, buserrors.Is(err, buserrors.ErrUnavailable))

	// The failed publish must not poison the window: the retry is a
	// first publish, not a replay of a phantom acceptance.
	f.sink.fail = false
	env2 := validEnvelope()
	env2.IdempotencyKey = "submit-42"
	receipt, err := f.publisher.Publish(ctx, env2)
	require.NoError(t, err)
	assert.False(t, receipt.Duplicate)
}

func TestPublisher_VerifierRejectionShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.publisher.SetVerifier(func(ctx context.Context, env *models.MessageEnvelope) error {
		return buserrors.ErrUnauthorized
	})

	_, err := f.publisher.Publish(context.Background(), validEnvelope())
	require.Error(t, err)
	assert.True(t, buserrors.Is(err, buserrors.ErrUnauthorized))
	assert.Equal(t, 0, f.sink.count())
}

func TestPublisher_RateLimitedRollsBackDedup(t *testing.T) {
	registry := schema.NewRegistry()
	require.NoError(t, registry.Register("orders.created", "1.0.0", schema.Schema{
		Fields: map[string]schema.FieldSpec{
			"order_id": {Type: schema.FieldString, Required: true},
		},
	}))

	store := dedup.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })
	dedupSvc := dedup.NewService(store, config.DedupConfig{WindowSeconds: 3600, OnStoreError: "deny"}, logger.NopLogger())

	limiter, err := ratelimit.NewLimiter(config.RateLimitConfig{DefaultTier: "free"})
	require.NoError(t, err)
	t.Cleanup(limiter.Close)

	sink := &captureSink{}
	publisher := NewPublisher(envelope.NewValidator(registry), dedupSvc, limiter, sink, logger.NopLogger())
	ctx := context.Background()

	// Exhaust the free tier burst.
	for i := 0; i < 50; i++ {
		_, err := publisher.Publish(ctx, validEnvelope())
		require.NoError(t, err)
	}

	env := validEnvelope()
	env.IdempotencyKey = "submit-43"
	_, err = publisher.Publish(ctx, env)
	require.Error(t, err)
	assert.True(t, buserrors.Is(err, buserrors.ErrRateLimited))

	retryAfter, ok := buserrors.RetryAfter(err)
	require.True(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))

	// The rejected publish left no dedup record behind.
	first, _, err := dedupSvc.Check(ctx, env)
	require.NoError(t, err)
	assert.True(t, first)
}
