package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"contextbus/internal/correlation"
	"contextbus/internal/dispatch"
	"contextbus/internal/logger"
	"contextbus/internal/publish"
	buserrors "contextbus/pkg/errors"
	"contextbus/pkg/metrics"
	"contextbus/pkg/models"
)

// Submitter re-enters a replayed message at the front of the accept
// pipeline so it earns a fresh dedup record, quota charge, and dispatch.
type Submitter interface {
	Publish(ctx context.Context, env *models.MessageEnvelope) (*publish.Receipt, error)
}

// Service owns DLQ retention policy and manual replay on top of a Store.
type Service struct {
	store     Store
	submitter Submitter
	retention time.Duration
	logger    logger.Logger
}

func NewService(store Store, submitter Submitter, retentionDays int, log logger.Logger) *Service {
	if retentionDays <= 0 {
		retentionDays = 14
	}
	return &Service{
		store:     store,
		submitter: submitter,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    log,
	}
}

// DeadLetter records a permanently failed delivery. Stamps MovedAt and
// the retention deadline; the attempt history arrives complete from the
// retry engine.
func (s *Service) DeadLetter(ctx context.Context, env *models.MessageEnvelope, consumerID, reason string, history []dispatch.AttemptRecord) error {
	now := time.Now().UTC()
	entry := Entry{
		MessageID:      env.MessageID,
		TenantID:       env.TenantID,
		EventType:      env.EventType,
		Envelope:       env,
		ConsumerID:     consumerID,
		FailureReason:  reason,
		AttemptHistory: history,
		MovedAt:        now,
		RetainedUntil:  now.Add(s.retention),
	}

	if err := s.store.Enqueue(ctx, entry); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to persist dead letter",
			"consumer_id", consumerID,
			"error", err,
		)
		return fmt.Errorf("failed to persist dead letter: %w", err)
	}

	metrics.DLQMessagesTotal.WithLabelValues(env.TenantID, env.EventType, reason).Inc()
	s.logger.WarnwCtx(ctx, "Message dead lettered",
		"consumer_id", consumerID,
		"reason", reason,
		"attempts", len(history),
	)
	return nil
}

func (s *Service) List(ctx context.Context, tenantID string, filter Filter) ([]Entry, error) {
	return s.store.List(ctx, tenantID, filter)
}

func (s *Service) Get(ctx context.Context, tenantID, messageID string) (Entry, error) {
	entry, found, err := s.store.Get(ctx, tenantID, messageID)
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, buserrors.ErrNotFound.WithDetail("message_id", messageID)
	}
	return entry, nil
}

// Replay resubmits a dead-lettered message as a new publish. The replay
// gets a fresh message id and timestamp, keeps the original trace for
// lineage, and drops the idempotency key so the dedup window does not
// collapse it into the failed original. The original entry is retained
// for audit.
func (s *Service) Replay(ctx context.Context, tenantID, messageID string) (*publish.Receipt, error) {
	entry, err := s.Get(ctx, tenantID, messageID)
	if err != nil {
		return nil, err
	}

	original := entry.Envelope
	replay := *original
	replay.MessageID = uuid.NewString()
	replay.IdempotencyKey = ""
	replay.Timestamp = time.Now().UTC()
	correlation.Derive(original, &replay)

	receipt, err := s.submitter.Publish(ctx, &replay)
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Replay rejected",
			"original_message_id", messageID,
			"error", err,
		)
		return nil, err
	}

	s.logger.InfowCtx(ctx, "Dead letter replayed",
		"original_message_id", messageID,
		"replay_message_id", receipt.MessageID,
	)
	return receipt, nil
}
