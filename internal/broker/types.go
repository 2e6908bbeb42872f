package broker

import (
	"context"

	"contextbus/pkg/models"
)

// Producer relays accepted envelopes to peer bus nodes over the broker.
type Producer interface {
	Publish(ctx context.Context, topic string, env *models.MessageEnvelope) error
	Close() error
}

// Consumer feeds envelopes arriving from peer nodes into the local
// accept pipeline.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
}

type HandlerFunc func(ctx context.Context, env *models.MessageEnvelope) error
