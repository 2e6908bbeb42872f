package envelope

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"contextbus/internal/schema"
	buserrors "contextbus/pkg/errors"
	"contextbus/pkg/models"
)

// Validator enforces the structural contract on inbound envelopes. Checks
// run in a fixed order and fail fast on the first violation; every failure
// is a typed error carrying the offending field path. Validation is pure:
// no state is touched.
type Validator struct {
	registry *schema.Registry
}

func NewValidator(registry *schema.Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate runs the full check sequence: required fields, message_id
// syntax, timestamp, serialized size, classification constraints, then
// payload-vs-schema. It reports the soft payload overage (> 512 KB)
// through the returned flag without rejecting.
func (v *Validator) Validate(env *models.MessageEnvelope) (payloadOversized bool, err error) {
	if env == nil {
		return false, buserrors.ErrValidation.WithField("envelope").
			WithCause(fmt.Errorf("envelope is nil"))
	}

	if err := checkRequired(env); err != nil {
		return false, err
	}

	if _, err := uuid.Parse(env.MessageID); err != nil {
		return false, buserrors.ErrValidation.WithField("message_id").
			WithCause(fmt.Errorf("message_id is not a valid UUID: %w", err))
	}

	if env.Timestamp.IsZero() {
		return false, buserrors.ErrValidation.WithField("timestamp").
			WithCause(fmt.Errorf("timestamp is required and must be ISO-8601"))
	}

	envSize, payloadSize, err := env.EncodedSize()
	if err != nil {
		return false, buserrors.ErrValidation.WithField("payload").
			WithCause(fmt.Errorf("payload is not serializable: %w", err))
	}
	if envSize > models.MaxEnvelopeBytes {
		return false, buserrors.ErrPayloadTooLarge.
			WithDetail("size_bytes", envSize).
			WithDetail("limit_bytes", models.MaxEnvelopeBytes)
	}

	if err := checkClassification(env); err != nil {
		return false, err
	}

	if env.Priority != "" && !env.Priority.Valid() {
		return false, buserrors.ErrValidation.WithField("priority").
			WithCause(fmt.Errorf("unknown priority %q", env.Priority))
	}
	if env.TTLSeconds < 0 {
		return false, buserrors.ErrValidation.WithField("ttl_seconds").
			WithCause(fmt.Errorf("ttl_seconds cannot be negative"))
	}

	if err := v.registry.Validate(env.EventType, env.Version, env.Payload); err != nil {
		return false, err
	}

	return payloadSize > models.SoftPayloadBytes, nil
}

func checkRequired(env *models.MessageEnvelope) error {
	required := []struct {
		path  string
		empty bool
	}{
		{"message_id", env.MessageID == ""},
		{"event_type", env.EventType == ""},
		{"version", env.Version == ""},
		{"timestamp", env.Timestamp.IsZero()},
		{"tenant_id", env.TenantID == ""},
		{"source.service", env.Source.Service == ""},
		{"source.version", env.Source.Version == ""},
		{"payload", env.Payload == nil},
	}
	for _, field := range required {
		if field.empty {
			return buserrors.ErrValidation.WithField(field.path).
				WithCause(fmt.Errorf("%s is required", field.path))
		}
	}

	if !validEventType(env.EventType) {
		return buserrors.ErrValidation.WithField("event_type").
			WithCause(fmt.Errorf("event_type %q is not a dotted hierarchical name", env.EventType))
	}
	return nil
}

func checkClassification(env *models.MessageEnvelope) error {
	if env.Classification != "" && !env.Classification.Valid() {
		return buserrors.ErrValidation.WithField("classification").
			WithCause(fmt.Errorf("unknown classification %q", env.Classification))
	}
	if env.Classification == models.ClassificationRestricted && env.EncryptionKeyID == "" {
		return buserrors.ErrValidation.WithField("encryption_key_id").
			WithCause(fmt.Errorf("encryption_key_id is required for restricted messages"))
	}
	return nil
}

// validEventType accepts dotted hierarchical names (domain.entity.action)
// with non-empty lowercase segments.
func validEventType(eventType string) bool {
	segments := strings.Split(eventType, ".")
	if len(segments) < 2 {
		return false
	}
	for _, seg := range segments {
		if seg == "" {
			return false
		}
		for _, r := range seg {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
				return false
			}
		}
	}
	return true
}
