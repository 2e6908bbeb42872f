package dlq

import (
	"context"
	"time"

	"contextbus/internal/dispatch"
	"contextbus/pkg/models"
)

// Entry is a permanently failed message held for inspection and manual
// replay. RetainedUntil is computed by the bus; reclamation past it
// belongs to the backing store.
type Entry struct {
	MessageID      string                   `json:"message_id" bson:"message_id"`
	TenantID       string                   `json:"tenant_id" bson:"tenant_id"`
	EventType      string                   `json:"event_type" bson:"event_type"`
	Envelope       *models.MessageEnvelope  `json:"envelope" bson:"envelope"`
	ConsumerID     string                   `json:"consumer_id" bson:"consumer_id"`
	FailureReason  string                   `json:"failure_reason" bson:"failure_reason"`
	AttemptHistory []dispatch.AttemptRecord `json:"attempt_history" bson:"attempt_history"`
	MovedAt        time.Time                `json:"moved_at" bson:"moved_at"`
	RetainedUntil  time.Time                `json:"retained_until" bson:"retained_until"`
}

// Filter narrows a tenant's DLQ listing.
type Filter struct {
	EventType  string
	ConsumerID string
	Since      time.Time
	Limit      int
}

// Store is the append/inspect contract the bus requires of the DLQ
// backing store. Every operation is tenant-scoped; there is no
// cross-tenant listing.
type Store interface {
	Enqueue(ctx context.Context, entry Entry) error
	List(ctx context.Context, tenantID string, filter Filter) ([]Entry, error)
	Get(ctx context.Context, tenantID, messageID string) (Entry, bool, error)
	Close(ctx context.Context) error
}
