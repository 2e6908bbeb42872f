package dispatch

import (
	"context"
	"fmt"
	"sync"

	"contextbus/pkg/cel"
	"contextbus/pkg/models"
)

// Consumer is the capability a subscriber registers per event type.
// Return nil to acknowledge; a retryable bus error gets backoff, a
// permanent one dead-letters immediately. Unclassified errors are
// treated as retryable.
type Consumer interface {
	ID() string
	Handle(ctx context.Context, env *models.MessageEnvelope) error
}

type ConsumerFunc struct {
	ConsumerID string
	Fn         func(ctx context.Context, env *models.MessageEnvelope) error
}

func (c ConsumerFunc) ID() string {
	return c.ConsumerID
}

func (c ConsumerFunc) Handle(ctx context.Context, env *models.MessageEnvelope) error {
	return c.Fn(ctx, env)
}

type subscription struct {
	consumer Consumer
	filter   string
}

// Registry holds the consumer bindings per event type. Populated at
// initialization and read-mostly afterwards, with a narrow locked write
// path for dynamic (un)subscription.
type Registry struct {
	mu        sync.RWMutex
	bindings  map[string][]subscription
	evaluator *cel.Evaluator
}

func NewRegistry() (*Registry, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create filter evaluator: %w", err)
	}
	return &Registry{
		bindings:  make(map[string][]subscription),
		evaluator: evaluator,
	}, nil
}

// Subscribe binds a consumer to an event type, optionally gated by a CEL
// filter expression over the envelope.
func (r *Registry) Subscribe(eventType string, consumer Consumer, filter string) error {
	if eventType == "" {
		return fmt.Errorf("event type is required")
	}
	if consumer == nil || consumer.ID() == "" {
		return fmt.Errorf("consumer with a non-empty id is required")
	}
	if filter != "" {
		if err := r.evaluator.ValidateFilter(filter); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.bindings[eventType] {
		if sub.consumer.ID() == consumer.ID() {
			return fmt.Errorf("consumer %s already subscribed to %s", consumer.ID(), eventType)
		}
	}
	r.bindings[eventType] = append(r.bindings[eventType], subscription{consumer: consumer, filter: filter})
	return nil
}

func (r *Registry) Unsubscribe(eventType, consumerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.bindings[eventType]
	for i, sub := range subs {
		if sub.consumer.ID() == consumerID {
			r.bindings[eventType] = append(subs[:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

// ConsumersFor resolves the ordered consumer set for an envelope,
// applying subscription filters. A filter evaluation error excludes the
// subscription rather than failing the whole dispatch.
func (r *Registry) ConsumersFor(ctx context.Context, env *models.MessageEnvelope) ([]Consumer, []error) {
	r.mu.RLock()
	subs := make([]subscription, len(r.bindings[env.EventType]))
	copy(subs, r.bindings[env.EventType])
	r.mu.RUnlock()

	consumers := make([]Consumer, 0, len(subs))
	var errs []error
	for _, sub := range subs {
		if sub.filter != "" {
			match, err := r.evaluator.EvaluateFilter(ctx, sub.filter, env)
			if err != nil {
				errs = append(errs, fmt.Errorf("filter for consumer %s: %w", sub.consumer.ID(), err))
				continue
			}
			if !match {
				continue
			}
		}
		consumers = append(consumers, sub.consumer)
	}
	return consumers, errs
}

// Lookup finds one bound consumer, used by the retry scheduler to
// redeliver to a specific subscriber.
func (r *Registry) Lookup(eventType, consumerID string) (Consumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sub := range r.bindings[eventType] {
		if sub.consumer.ID() == consumerID {
			return sub.consumer, true
		}
	}
	return nil, false
}
