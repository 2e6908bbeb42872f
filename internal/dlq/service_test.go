package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextbus/internal/dispatch"
	"contextbus/internal/logger"
	"contextbus/internal/publish"
	buserrors "contextbus/pkg/errors"
	"contextbus/pkg/models"
)

type fakeSubmitter struct {
	submitted []*models.MessageEnvelope
	err       error
}

func (f *fakeSubmitter) Publish(ctx context.Context, env *models.MessageEnvelope) (*publish.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = append(f.submitted, env)
	return &publish.Receipt{MessageID: env.MessageID}, nil
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *fakeSubmitter) {
	t.Helper()
	store := NewMemoryStore()
	submitter := &fakeSubmitter{}
	return NewService(store, submitter, 7, logger.NopLogger()), store, submitter
}

func deadLetteredEnvelope() *models.MessageEnvelope {
	return &models.MessageEnvelope{
		MessageID:      uuid.NewString(),
		EventType:      "orders.created",
		TenantID:       "acme",
		Timestamp:      time.Now().UTC().Add(-time.Hour),
		IdempotencyKey: "submit-42",
		TraceID:        "trace-1",
		SpanID:         "span-1",
		CorrelationID:  "corr-1",
		Payload:        map[string]interface{}{"order_id": "o-1"},
	}
}

func TestService_DeadLetterStampsRetention(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	env := deadLetteredEnvelope()
	history := []dispatch.AttemptRecord{
		{Attempt: 1, ErrorKind: "CONSUMER_RETRYABLE"},
		{Attempt: 2, ErrorKind: "CONSUMER_RETRYABLE"},
	}
	require.NoError(t, svc.DeadLetter(ctx, env, "billing", "max_retries_exceeded", history))

	entry, found, err := store.Get(ctx, "acme", env.MessageID)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, "billing", entry.ConsumerID)
	assert.Equal(t, "max_retries_exceeded", entry.FailureReason)
	assert.Len(t, entry.AttemptHistory, 2)
	assert.False(t, entry.MovedAt.IsZero())
	assert.Equal(t, entry.MovedAt.Add(7*24*time.Hour), entry.RetainedUntil)
}

func TestService_GetMissingEntry(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "acme", "no-such-message")
	require.Error(t, err)
	assert.True(t, buserrors.Is(err, buserrors.ErrNotFound))
}

func TestService_ReplayLinksToOriginal(t *testing.T) {
	svc, store, submitter := newTestService(t)
	ctx := context.Background()

	env := deadLetteredEnvelope()
	require.NoError(t, svc.DeadLetter(ctx, env, "billing", "max_retries_exceeded", nil))

	receipt, err := svc.Replay(ctx, "acme", env.MessageID)
	require.NoError(t, err)
	require.Len(t, submitter.submitted, 1)

	replay := submitter.submitted[0]
	assert.Equal(t, receipt.MessageID, replay.MessageID)
	assert.NotEqual(t, env.MessageID, replay.MessageID)
	assert.Equal(t, env.MessageID, replay.ParentMessageID)
	assert.Empty(t, replay.IdempotencyKey, "replay must not collapse into the failed original")
	assert.True(t, replay.Timestamp.After(env.Timestamp))

	// Lineage: same trace and correlation, fresh span.
	assert.Equal(t, env.TraceID, replay.TraceID)
	assert.Equal(t, env.CorrelationID, replay.CorrelationID)
	assert.NotEqual(t, env.SpanID, replay.SpanID)

	// The entry stays behind for audit.
	_, found, err := store.Get(ctx, "acme", env.MessageID)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestService_ReplayRejectionPropagates(t *testing.T) {
	svc, _, submitter := newTestService(t)
	ctx := context.Background()

	env := deadLetteredEnvelope()
	require.NoError(t, svc.DeadLetter(ctx, env, "billing", "permanent_failure", nil))

	submitter.err = buserrors.ErrRateLimited
	_, err := svc.Replay(ctx, "acme", env.MessageID)
	require.Error(t, err)
	assert.True(t, buserrors.Is(err, buserrors.ErrRateLimited))
}

func TestService_ReplayUnknownMessage(t *testing.T) {
	svc, _, submitter := newTestService(t)

	_, err := svc.Replay(context.Background(), "acme", "no-such-message")
	require.Error(t, err)
	assert.True(t, buserrors.Is(err, buserrors.ErrNotFound))
	assert.Empty(t, submitter.submitted)
}
