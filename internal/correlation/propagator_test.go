package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextbus/pkg/logging"
	"contextbus/pkg/models"
)

func TestEnsureIDs_GeneratesMissing(t *testing.T) {
	env := &models.MessageEnvelope{}
	EnsureIDs(env)

	require.NotEmpty(t, env.TraceID)
	require.NotEmpty(t, env.SpanID)
	assert.Equal(t, env.TraceID, env.CorrelationID)
}

func TestEnsureIDs_PreservesExisting(t *testing.T) {
	env := &models.MessageEnvelope{
		TraceID:       "trace-1",
		SpanID:        "span-1",
		CorrelationID: "corr-1",
	}
	EnsureIDs(env)

	assert.Equal(t, "trace-1", env.TraceID)
	assert.Equal(t, "span-1", env.SpanID)
	assert.Equal(t, "corr-1", env.CorrelationID)
}

func TestEnsureIDs_CorrelationDefaultsToTrace(t *testing.T) {
	env := &models.MessageEnvelope{TraceID: "trace-9"}
	EnsureIDs(env)

	assert.Equal(t, "trace-9", env.CorrelationID)
}

func TestContextFor_ThreadsIdentity(t *testing.T) {
	env := &models.MessageEnvelope{
		MessageID: "msg-1",
		TraceID:   "trace-1",
		TenantID:  "acme",
		EventType: "orders.created",
	}

	ctx := ContextFor(context.Background(), env)

	assert.Equal(t, "trace-1", logging.GetTraceID(ctx))
	assert.Equal(t, "msg-1", logging.GetMessageID(ctx))
	assert.Equal(t, "acme", logging.GetTenantID(ctx))
	assert.Equal(t, "orders.created", logging.GetEventType(ctx))
}

func TestDerive_LinksChildToParent(t *testing.T) {
	parent := &models.MessageEnvelope{
		MessageID:     "parent-msg",
		TraceID:       "trace-1",
		SpanID:        "span-1",
		CorrelationID: "corr-1",
	}
	child := &models.MessageEnvelope{MessageID: "child-msg"}

	Derive(parent, child)

	assert.Equal(t, "trace-1", child.TraceID)
	assert.Equal(t, "corr-1", child.CorrelationID)
	assert.Equal(t, "parent-msg", child.ParentMessageID)
	require.NotEmpty(t, child.SpanID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
}
