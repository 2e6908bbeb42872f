package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"contextbus/pkg/models"
)

// State of one (message_id, consumer_id) delivery timeline.
type State string

const (
	StatePending      State = "pending"
	StateDelivering   State = "delivering"
	StateRetrying     State = "retrying"
	StateSucceeded    State = "succeeded"
	StateDeadLettered State = "dead_lettered"
)

// AttemptRecord captures one delivery attempt for the audit trail that
// accompanies a dead-lettered message.
type AttemptRecord struct {
	Attempt   int       `json:"attempt"`
	At        time.Time `json:"at"`
	ErrorKind string    `json:"error_kind"`
	Error     string    `json:"error"`
}

// Attempt is the persisted retry state for one consumer's timeline on
// one message. Created on first failure, mutated on every subsequent
// failure, deleted on success or promotion to the DLQ.
type Attempt struct {
	MessageID     string                  `json:"message_id"`
	ConsumerID    string                  `json:"consumer_id"`
	Envelope      *models.MessageEnvelope `json:"envelope"`
	State         State                   `json:"state"`
	AttemptCount  int                     `json:"attempt_count"`
	LastErrorKind string                  `json:"last_error_kind"`
	NextRetryAt   time.Time               `json:"next_retry_at"`
	History       []AttemptRecord         `json:"history"`
}

// AttemptStore persists retry state keyed by (message_id, consumer_id)
// so in-flight retries survive a scheduler restart when backed by a
// durable store.
type AttemptStore interface {
	Save(ctx context.Context, attempt *Attempt) error
	Delete(ctx context.Context, messageID, consumerID string) error
	// Due returns attempts whose NextRetryAt has passed, earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*Attempt, error)
}

type attemptKey struct {
	messageID  string
	consumerID string
}

type MemoryAttemptStore struct {
	mu       sync.Mutex
	attempts map[attemptKey]*Attempt
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{
		attempts: make(map[attemptKey]*Attempt),
	}
}

func (s *MemoryAttemptStore) Save(ctx context.Context, attempt *Attempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *attempt
	cp.History = append([]AttemptRecord(nil), attempt.History...)
	s.attempts[attemptKey{attempt.MessageID, attempt.ConsumerID}] = &cp
	return nil
}

func (s *MemoryAttemptStore) Delete(ctx context.Context, messageID, consumerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, attemptKey{messageID, consumerID})
	return nil
}

func (s *MemoryAttemptStore) Due(ctx context.Context, now time.Time, limit int) ([]*Attempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*Attempt, 0)
	for _, attempt := range s.attempts {
		if attempt.State == StateRetrying && !attempt.NextRetryAt.After(now) {
			cp := *attempt
			cp.History = append([]AttemptRecord(nil), attempt.History...)
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(due[j].NextRetryAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}
