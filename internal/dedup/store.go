package dedup

import (
	"context"
	"time"

	"contextbus/pkg/models"
)

// Record is what the store keeps for an accepted publish inside the
// rolling window. MessageID is the acceptance result replayed to callers
// on a duplicate; ExpiresAt is computed here, reclamation belongs to the
// store.
type Record struct {
	MessageID   string    `json:"message_id"`
	ProcessedAt time.Time `json:"processed_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Store is the contract the bus requires of the external dedup table.
// CheckAndRecord must be atomic per key: exactly one of two concurrent
// calls with the same key inserts, the other observes the winner's record.
type Store interface {
	// CheckAndRecord stores rec under key unless a live record already
	// exists. Returns the record now held for the key and whether this
	// call inserted it.
	CheckAndRecord(ctx context.Context, key string, rec Record, ttl time.Duration) (Record, bool, error)
	// Remove compensates a CheckAndRecord whose publish was rejected
	// downstream, so the rejected message is not mistaken for a
	// successful publish on retry.
	Remove(ctx context.Context, key string) error
	Close() error
}

// KeyFor computes the effective dedup key. A client-supplied idempotency
// key takes precedence and is scoped per tenant and event type; otherwise
// the message id (scoped per tenant) identifies the publish.
func KeyFor(env *models.MessageEnvelope) string {
	if env.IdempotencyKey != "" {
		return env.TenantID + "|" + env.EventType + "|ik|" + env.IdempotencyKey
	}
	return env.TenantID + "|mid|" + env.MessageID
}
