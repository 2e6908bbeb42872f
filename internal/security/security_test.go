package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACVerifier_RoundTrip(t *testing.T) {
	verifier := NewHMACVerifier("shared-secret")
	payload := []byte(`{"message_id":"abc","tenant_id":"acme"}`)

	signature := verifier.Sign(payload)
	assert.True(t, verifier.Verify(payload, signature))
}

func TestHMACVerifier_RejectsTamperedPayload(t *testing.T) {
	verifier := NewHMACVerifier("shared-secret")
	signature := verifier.Sign([]byte(`{"amount":10}`))

	assert.False(t, verifier.Verify([]byte(`{"amount":1000}`), signature))
}

func TestHMACVerifier_RejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"amount":10}`)
	signature := NewHMACVerifier("secret-a").Sign(payload)

	assert.False(t, NewHMACVerifier("secret-b").Verify(payload, signature))
}

func TestHMACVerifier_RejectsGarbageSignature(t *testing.T) {
	verifier := NewHMACVerifier("shared-secret")

	assert.False(t, verifier.Verify([]byte("payload"), "not-a-signature"))
	assert.False(t, verifier.Verify([]byte("payload"), ""))
}

func TestNoopRedactor_PassesThrough(t *testing.T) {
	payload := map[string]interface{}{"email": "user@example.com"}

	result := NoopRedactor{}.Redact(payload, []string{"email"})
	assert.Equal(t, payload, result)
}
