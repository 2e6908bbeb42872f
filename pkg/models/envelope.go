package models

import (
	"encoding/json"
	"time"
)

// Size limits for inbound envelopes. The envelope cap is a hard reject,
// the payload cap is soft: overage is logged and counted but accepted.
const (
	MaxEnvelopeBytes   = 1 << 20
	SoftPayloadBytes   = 512 << 10
	DefaultDedupWindow = 24 * time.Hour
)

type Classification string

const (
	ClassificationPublic       Classification = "public"
	ClassificationInternal     Classification = "internal"
	ClassificationConfidential Classification = "confidential"
	ClassificationRestricted   Classification = "restricted"
)

func (c Classification) Valid() bool {
	switch c {
	case ClassificationPublic, ClassificationInternal, ClassificationConfidential, ClassificationRestricted:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Weight orders priorities for dispatch scheduling. Higher runs first,
// subject to the dispatcher's fairness floor.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Source identifies the producing service.
type Source struct {
	Service    string `json:"service"`
	Version    string `json:"version"`
	InstanceID string `json:"instance_id,omitempty"`
}

// MessageEnvelope is the unit of exchange on the bus. Every stateful
// structure downstream (dedup, rate limiting, DLQ) is partitioned by
// TenantID; correlation fields are propagated verbatim when present and
// generated at ingress when absent.
type MessageEnvelope struct {
	MessageID      string `json:"message_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	EventType string    `json:"event_type"`
	Version   string    `json:"version"`
	TenantID  string    `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`

	TraceID         string `json:"trace_id,omitempty"`
	SpanID          string `json:"span_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	CorrelationID   string `json:"correlation_id,omitempty"`

	Classification  Classification `json:"classification,omitempty"`
	ContainsPII     bool           `json:"contains_pii,omitempty"`
	EncryptionKeyID string         `json:"encryption_key_id,omitempty"`

	Priority   Priority `json:"priority,omitempty"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`

	Source  Source                 `json:"source"`
	Payload map[string]interface{} `json:"payload"`
}

// ExpiresAt returns the deliverability deadline. ok is false when the
// envelope carries no TTL.
func (m *MessageEnvelope) ExpiresAt() (time.Time, bool) {
	if m.TTLSeconds <= 0 {
		return time.Time{}, false
	}
	return m.Timestamp.Add(time.Duration(m.TTLSeconds) * time.Second), true
}

func (m *MessageEnvelope) Expired(now time.Time) bool {
	deadline, ok := m.ExpiresAt()
	if !ok {
		return false
	}
	return now.After(deadline)
}

// EffectivePriority defaults unset priority to normal.
func (m *MessageEnvelope) EffectivePriority() Priority {
	if m.Priority == "" {
		return PriorityNormal
	}
	return m.Priority
}

// EncodedSize reports the serialized envelope and payload sizes in bytes.
func (m *MessageEnvelope) EncodedSize() (envelope int, payload int, err error) {
	body, err := json.Marshal(m)
	if err != nil {
		return 0, 0, err
	}
	p, err := json.Marshal(m.Payload)
	if err != nil {
		return 0, 0, err
	}
	return len(body), len(p), nil
}

func (m *MessageEnvelope) GetPayloadField(name string) (interface{}, bool) {
	if m.Payload == nil {
		return nil, false
	}
	value, ok := m.Payload[name]
	return value, ok
}

func (m *MessageEnvelope) SetPayloadField(name string, value interface{}) {
	if m.Payload == nil {
		m.Payload = make(map[string]interface{})
	}
	m.Payload[name] = value
}
