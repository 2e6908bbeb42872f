package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_ExpiresAt(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env := &MessageEnvelope{Timestamp: ts, TTLSeconds: 60}

	deadline, ok := env.ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, ts.Add(time.Minute), deadline)

	assert.False(t, env.Expired(ts.Add(59*time.Second)))
	assert.True(t, env.Expired(ts.Add(61*time.Second)))
}

func TestEnvelope_NoTTLNeverExpires(t *testing.T) {
	env := &MessageEnvelope{Timestamp: time.Now().Add(-240 * time.Hour)}

	_, ok := env.ExpiresAt()
	assert.False(t, ok)
	assert.False(t, env.Expired(time.Now()))
}

func TestEnvelope_EffectivePriority(t *testing.T) {
	env := &MessageEnvelope{}
	assert.Equal(t, PriorityNormal, env.EffectivePriority())

	env.Priority = PriorityCritical
	assert.Equal(t, PriorityCritical, env.EffectivePriority())
}

func TestPriority_Weight(t *testing.T) {
	assert.Greater(t, PriorityCritical.Weight(), PriorityHigh.Weight())
	assert.Greater(t, PriorityHigh.Weight(), PriorityNormal.Weight())
	assert.Greater(t, PriorityNormal.Weight(), PriorityLow.Weight())
	assert.Equal(t, PriorityNormal.Weight(), Priority("").Weight())
}

func TestClassification_Valid(t *testing.T) {
	assert.True(t, ClassificationRestricted.Valid())
	assert.False(t, Classification("secret").Valid())
}

func TestEnvelopeBuilder_Defaults(t *testing.T) {
	env := NewEnvelopeBuilder().
		WithEventType("orders.created", "1.2.0").
		WithTenant("acme").
		WithSource("order-service", "3.1.0").
		Build()

	_, err := uuid.Parse(env.MessageID)
	require.NoError(t, err)
	assert.False(t, env.Timestamp.IsZero())
	assert.Equal(t, "orders.created", env.EventType)
	assert.Equal(t, "acme", env.TenantID)
	assert.NotNil(t, env.Payload)
}

func TestEnvelopeBuilder_PreservesExplicitValues(t *testing.T) {
	ts := time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC)
	env := NewEnvelopeBuilder().
		WithMessageID("custom-id").
		WithTimestamp(ts).
		Build()

	assert.Equal(t, "custom-id", env.MessageID)
	assert.Equal(t, ts, env.Timestamp)
}
