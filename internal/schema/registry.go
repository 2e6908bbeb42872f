package schema

import (
	"fmt"
	"sync"

	buserrors "contextbus/pkg/errors"
)

type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldInteger FieldType = "integer"
	FieldBoolean FieldType = "boolean"
	FieldObject  FieldType = "object"
	FieldArray   FieldType = "array"
	FieldAny     FieldType = "any"
)

type FieldSpec struct {
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// Schema declares the known payload fields for one (event_type, version)
// pair. Payloads may carry extra undeclared fields (forward-compatible
// supersets), but every required field must be present and well-typed.
type Schema struct {
	Fields map[string]FieldSpec `json:"fields"`
}

// Registry resolves schemas by exact (event_type, version) match. A
// breaking change is registered under a distinct event_type suffix
// (for example orders.created.v2); the registry never coerces across
// versions. Populated at initialization, read-mostly afterwards.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]Schema),
	}
}

func key(eventType, version string) string {
	return eventType + "@" + version
}

func (r *Registry) Register(eventType, version string, s Schema) error {
	if eventType == "" || version == "" {
		return fmt.Errorf("event type and version are required")
	}
	if s.Fields == nil {
		return fmt.Errorf("schema for %s@%s has no fields", eventType, version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[key(eventType, version)] = s
	return nil
}

func (r *Registry) Lookup(eventType, version string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[key(eventType, version)]
	return s, ok
}

// Validate checks payload against the registered schema. Errors carry the
// offending field path so producers can fix the payload without guessing.
func (r *Registry) Validate(eventType, version string, payload map[string]interface{}) error {
	s, ok := r.Lookup(eventType, version)
	if !ok {
		return buserrors.ErrSchemaMismatch.
			WithDetail("event_type", eventType).
			WithDetail("version", version).
			WithCause(fmt.Errorf("no schema registered for %s@%s", eventType, version))
	}

	for name, spec := range s.Fields {
		value, present := payload[name]
		if !present {
			if spec.Required {
				return buserrors.ErrSchemaMismatch.
					WithField("payload." + name).
					WithCause(fmt.Errorf("missing required field %q", name))
			}
			continue
		}
		if !typeMatches(spec.Type, value) {
			return buserrors.ErrSchemaMismatch.
				WithField("payload." + name).
				WithCause(fmt.Errorf("field %q: expected %s, got %T", name, spec.Type, value))
		}
	}

	return nil
}

func typeMatches(ft FieldType, value interface{}) bool {
	if value == nil {
		// Null satisfies optional fields of any declared type.
		return true
	}
	switch ft {
	case FieldString:
		_, ok := value.(string)
		return ok
	case FieldNumber, FieldInteger:
		switch value.(type) {
		case float64, float32, int, int32, int64, uint, uint32, uint64:
			return true
		}
		return false
	case FieldBoolean:
		_, ok := value.(bool)
		return ok
	case FieldObject:
		_, ok := value.(map[string]interface{})
		return ok
	case FieldArray:
		_, ok := value.([]interface{})
		return ok
	case FieldAny, "":
		return true
	}
	return false
}
