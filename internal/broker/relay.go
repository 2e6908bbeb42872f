package broker

import (
	"context"

	"contextbus/internal/logger"
	"contextbus/internal/publish"
	"contextbus/pkg/models"
)

type remoteKey struct{}

func markRemote(ctx context.Context) context.Context {
	return context.WithValue(ctx, remoteKey{}, true)
}

func isRemote(ctx context.Context) bool {
	v, _ := ctx.Value(remoteKey{}).(bool)
	return v
}

// EgressSink decorates the local dispatch sink with peer federation:
// once a message is queued locally it is mirrored to the egress topic.
// Envelopes that arrived from a peer are not mirrored back, so a message
// crosses the federation link at most once.
type EgressSink struct {
	local    publish.Sink
	producer Producer
	topic    string
	logger   logger.Logger
}

func NewEgressSink(local publish.Sink, producer Producer, topic string, log logger.Logger) *EgressSink {
	return &EgressSink{
		local:    local,
		producer: producer,
		topic:    topic,
		logger:   log,
	}
}

func (s *EgressSink) Enqueue(ctx context.Context, env *models.MessageEnvelope) error {
	if err := s.local.Enqueue(ctx, env); err != nil {
		return err
	}

	if isRemote(ctx) {
		return nil
	}

	// Relay is best effort: local acceptance stands even when the peer
	// link is down.
	if err := s.producer.Publish(ctx, s.topic, env); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to relay envelope to peers",
			"topic", s.topic,
			"error", err,
		)
	}
	return nil
}

// Submitter re-runs the accept pipeline for envelopes arriving from
// peers so remote traffic honors the same validation, dedup, and rate
// limits as local traffic.
type Submitter interface {
	Publish(ctx context.Context, env *models.MessageEnvelope) (*publish.Receipt, error)
}

// IngressHandler adapts the accept pipeline into a broker consumer
// handler. The dedup window collapses envelopes that looped back.
func IngressHandler(submitter Submitter, log logger.Logger) HandlerFunc {
	return func(ctx context.Context, env *models.MessageEnvelope) error {
		ctx = markRemote(ctx)

		receipt, err := submitter.Publish(ctx, env)
		if err != nil {
			return err
		}
		if receipt.Duplicate {
			log.DebugwCtx(ctx, "Peer envelope collapsed by dedup window",
				"original_message_id", receipt.MessageID,
			)
		}
		return nil
	}
}
