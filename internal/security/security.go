package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verifier checks the X-Signature of adapter-originated traffic before
// the publish pipeline runs. The bus never implements other cryptography;
// anything beyond this primitive belongs to the security collaborators.
type Verifier interface {
	Verify(payload []byte, signature string) bool
}

// Redactor strips PII fields from a payload before it leaves the trust
// boundary. Supplied by an external collaborator; the bus only invokes it.
type Redactor interface {
	Redact(payload map[string]interface{}, piiFields []string) map[string]interface{}
}

// HMACVerifier verifies HMAC-SHA256 signatures over the raw payload with
// a shared secret, using constant-time comparison.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the signature a caller must present. Exposed for adapter
// SDKs and tests.
func (v *HMACVerifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// NoopRedactor passes payloads through unchanged. Used when no PII
// redaction collaborator is configured.
type NoopRedactor struct{}

func (NoopRedactor) Redact(payload map[string]interface{}, piiFields []string) map[string]interface{} {
	return payload
}
