package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextbus/pkg/models"
)

func testEnvelope() *models.MessageEnvelope {
	return &models.MessageEnvelope{
		MessageID: "msg-1",
		EventType: "orders.created",
		TenantID:  "acme",
		Priority:  models.PriorityHigh,
		Source:    models.Source{Service: "order-service"},
		Payload: map[string]interface{}{
			"amount":  float64(120),
			"country": "DE",
		},
	}
}

func TestValidateFilter(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	assert.NoError(t, e.ValidateFilter(`tenant_id == "acme"`))
	assert.NoError(t, e.ValidateFilter(`payload.amount > 100.0 && priority == "high"`))

	assert.Error(t, e.ValidateFilter(`tenant_id ==`))
	assert.Error(t, e.ValidateFilter(`tenant_id`))
	assert.Error(t, e.ValidateFilter(`unknown_var == "x"`))
}

func TestEvaluateFilter_Match(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)
	ctx := context.Background()

	match, err := e.EvaluateFilter(ctx, `event_type == "orders.created"`, testEnvelope())
	require.NoError(t, err)
	assert.True(t, match)

	match, err = e.EvaluateFilter(ctx, `payload.amount > 100.0`, testEnvelope())
	require.NoError(t, err)
	assert.True(t, match)

	match, err = e.EvaluateFilter(ctx, `source_service == "billing"`, testEnvelope())
	require.NoError(t, err)
	assert.False(t, match)
}

func TestEvaluateFilter_PriorityDefaultsToNormal(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	env := testEnvelope()
	env.Priority = ""

	match, err := e.EvaluateFilter(context.Background(), `priority == "normal"`, env)
	require.NoError(t, err)
	assert.True(t, match)
}

func TestEvaluateFilter_MissingPayloadFieldErrors(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)

	_, err = e.EvaluateFilter(context.Background(), `payload.missing == "x"`, testEnvelope())
	assert.Error(t, err)
}

func TestEvaluateFilter_CachesPrograms(t *testing.T) {
	e, err := NewEvaluator()
	require.NoError(t, err)
	ctx := context.Background()

	const expr = `tenant_id == "acme"`
	_, err = e.EvaluateFilter(ctx, expr, testEnvelope())
	require.NoError(t, err)

	e.mu.RLock()
	_, cached := e.programs[expr]
	e.mu.RUnlock()
	assert.True(t, cached)
}
