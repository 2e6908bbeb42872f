package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	buserrors "contextbus/pkg/errors"
)

func orderSchema() Schema {
	return Schema{
		Fields: map[string]FieldSpec{
			"order_id": {Type: FieldString, Required: true},
			"amount":   {Type: FieldNumber, Required: true},
			"note":     {Type: FieldString},
		},
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("orders.created", "1.0.0", orderSchema()))

	s, ok := r.Lookup("orders.created", "1.0.0")
	require.True(t, ok)
	assert.Len(t, s.Fields, 3)

	_, ok = r.Lookup("orders.created", "2.0.0")
	assert.False(t, ok)
}

func TestRegistry_RegisterRejectsIncomplete(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register("", "1.0.0", orderSchema()))
	assert.Error(t, r.Register("orders.created", "", orderSchema()))
	assert.Error(t, r.Register("orders.created", "1.0.0", Schema{}))
}

func TestRegistry_ValidateAcceptsMatchingPayload(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("orders.created", "1.0.0", orderSchema()))

	err := r.Validate("orders.created", "1.0.0", map[string]interface{}{
		"order_id": "o-123",
		"amount":   float64(49.99),
	})
	assert.NoError(t, err)
}

func TestRegistry_ValidateAllowsExtraFields(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("orders.created", "1.0.0", orderSchema()))

	err := r.Validate("orders.created", "1.0.0", map[string]interface{}{
		"order_id":   "o-123",
		"amount":     float64(49.99),
		"channel":    "web",
		"gift_wrap":  true,
		"extensions": map[string]interface{}{"a": 1},
	})
	assert.NoError(t, err)
}

func TestRegistry_ValidateMissingRequiredField(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("orders.created", "1.0.0", orderSchema()))

	err := r.Validate("orders.created", "1.0.0", map[string]interface{}{
		"order_id": "o-123",
	})
	require.Error(t, err)
	assert.True(t, buserrors.Is(err, buserrors.ErrSchemaMismatch))

	var busErr *buserrors.Error
	require.ErrorAs(t, err, &busErr)
	assert.Equal(t, "payload.amount", busErr.Details["field"])
}

func TestRegistry_ValidateTypeMismatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("orders.created", "1.0.0", orderSchema()))

	err := r.Validate("orders.created", "1.0.0", map[string]interface{}{
		"order_id": "o-123",
		"amount":   "not a number",
	})
	require.Error(t, err)
	assert.True(t, buserrors.Is(err, buserrors.ErrSchemaMismatch))
}

func TestRegistry_ValidateOptionalFieldMayBeAbsentOrNull(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("orders.created", "1.0.0", orderSchema()))

	assert.NoError(t, r.Validate("orders.created", "1.0.0", map[string]interface{}{
		"order_id": "o-123",
		"amount":   float64(1),
	}))
	assert.NoError(t, r.Validate("orders.created", "1.0.0", map[string]interface{}{
		"order_id": "o-123",
		"amount":   float64(1),
		"note":     nil,
	}))
}

func TestRegistry_ValidateUnknownSchema(t *testing.T) {
	r := NewRegistry()

	err := r.Validate("orders.created", "1.0.0", map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, buserrors.Is(err, buserrors.ErrSchemaMismatch))
}

func TestRegistry_VersionsAreIndependent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("orders.created", "1.0.0", orderSchema()))
	require.NoError(t, r.Register("orders.created", "1.1.0", Schema{
		Fields: map[string]FieldSpec{
			"order_id": {Type: FieldString, Required: true},
		},
	}))

	payload := map[string]interface{}{"order_id": "o-1"}
	assert.Error(t, r.Validate("orders.created", "1.0.0", payload))
	assert.NoError(t, r.Validate("orders.created", "1.1.0", payload))
}
