package models

import (
	"time"

	"github.com/google/uuid"
)

type EnvelopeBuilder struct {
	envelope *MessageEnvelope
}

func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{
		envelope: &MessageEnvelope{
			Payload: make(map[string]interface{}),
		},
	}
}

func (b *EnvelopeBuilder) WithMessageID(id string) *EnvelopeBuilder {
	b.envelope.MessageID = id
	return b
}

func (b *EnvelopeBuilder) WithIdempotencyKey(key string) *EnvelopeBuilder {
	b.envelope.IdempotencyKey = key
	return b
}

func (b *EnvelopeBuilder) WithEventType(eventType, version string) *EnvelopeBuilder {
	b.envelope.EventType = eventType
	b.envelope.Version = version
	return b
}

func (b *EnvelopeBuilder) WithTenant(tenantID string) *EnvelopeBuilder {
	b.envelope.TenantID = tenantID
	return b
}

func (b *EnvelopeBuilder) WithTimestamp(ts time.Time) *EnvelopeBuilder {
	b.envelope.Timestamp = ts
	return b
}

func (b *EnvelopeBuilder) WithSource(service, version string) *EnvelopeBuilder {
	b.envelope.Source.Service = service
	b.envelope.Source.Version = version
	return b
}

func (b *EnvelopeBuilder) WithInstanceID(id string) *EnvelopeBuilder {
	b.envelope.Source.InstanceID = id
	return b
}

func (b *EnvelopeBuilder) WithTraceID(traceID string) *EnvelopeBuilder {
	b.envelope.TraceID = traceID
	return b
}

func (b *EnvelopeBuilder) WithCorrelationID(correlationID string) *EnvelopeBuilder {
	b.envelope.CorrelationID = correlationID
	return b
}

func (b *EnvelopeBuilder) WithParentMessageID(parentID string) *EnvelopeBuilder {
	b.envelope.ParentMessageID = parentID
	return b
}

func (b *EnvelopeBuilder) WithClassification(c Classification) *EnvelopeBuilder {
	b.envelope.Classification = c
	return b
}

func (b *EnvelopeBuilder) WithEncryptionKeyID(keyID string) *EnvelopeBuilder {
	b.envelope.EncryptionKeyID = keyID
	return b
}

func (b *EnvelopeBuilder) WithContainsPII(pii bool) *EnvelopeBuilder {
	b.envelope.ContainsPII = pii
	return b
}

func (b *EnvelopeBuilder) WithPriority(p Priority) *EnvelopeBuilder {
	b.envelope.Priority = p
	return b
}

func (b *EnvelopeBuilder) WithTTL(seconds int) *EnvelopeBuilder {
	b.envelope.TTLSeconds = seconds
	return b
}

func (b *EnvelopeBuilder) WithPayload(payload map[string]interface{}) *EnvelopeBuilder {
	b.envelope.Payload = payload
	return b
}

func (b *EnvelopeBuilder) Build() *MessageEnvelope {
	if b.envelope.MessageID == "" {
		b.envelope.MessageID = uuid.NewString()
	}
	if b.envelope.Timestamp.IsZero() {
		b.envelope.Timestamp = time.Now().UTC()
	}
	return b.envelope
}
