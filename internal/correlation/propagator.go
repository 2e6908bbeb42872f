package correlation

import (
	"context"

	"github.com/google/uuid"

	"contextbus/pkg/logging"
	"contextbus/pkg/models"
)

// EnsureIDs fills in missing correlation identifiers at ingress. Values
// already present on the envelope are propagated verbatim; absent ones
// are generated so every message is traceable end to end.
func EnsureIDs(env *models.MessageEnvelope) {
	if env.TraceID == "" {
		env.TraceID = uuid.NewString()
	}
	if env.SpanID == "" {
		env.SpanID = uuid.NewString()
	}
	if env.CorrelationID == "" {
		env.CorrelationID = env.TraceID
	}
}

// ContextFor threads the envelope's identity into the context so every
// log line downstream carries the same correlation fields.
func ContextFor(ctx context.Context, env *models.MessageEnvelope) context.Context {
	ctx = logging.WithTraceID(ctx, env.TraceID)
	ctx = logging.WithMessageID(ctx, env.MessageID)
	ctx = logging.WithTenantID(ctx, env.TenantID)
	ctx = logging.WithEventType(ctx, env.EventType)
	return ctx
}

// Derive builds the correlation fields for a message caused by parent:
// same trace and correlation ids, a fresh span, and parent linkage for
// audit. Used by DLQ replay.
func Derive(parent *models.MessageEnvelope, child *models.MessageEnvelope) {
	child.TraceID = parent.TraceID
	child.CorrelationID = parent.CorrelationID
	child.SpanID = uuid.NewString()
	child.ParentMessageID = parent.MessageID
	EnsureIDs(child)
}
