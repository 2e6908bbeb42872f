package dlq

import (
	"context"
	"sync"

	"contextbus/internal/constants"
)

type entryKey struct {
	tenantID  string
	messageID string
}

// MemoryStore keeps DLQ entries in process, partitioned by tenant.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[entryKey]Entry
	order   []entryKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[entryKey]Entry),
	}
}

func (s *MemoryStore) Enqueue(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := entryKey{entry.TenantID, entry.MessageID}
	if _, exists := s.entries[key]; !exists {
		s.order = append(s.order, key)
	}
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) List(ctx context.Context, tenantID string, filter Filter) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultListLimit
	}
	if limit > constants.MaxListLimit {
		limit = constants.MaxListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Entry, 0)
	for _, key := range s.order {
		if key.tenantID != tenantID {
			continue
		}
		entry := s.entries[key]
		if filter.EventType != "" && entry.EventType != filter.EventType {
			continue
		}
		if filter.ConsumerID != "" && entry.ConsumerID != filter.ConsumerID {
			continue
		}
		if !filter.Since.IsZero() && entry.MovedAt.Before(filter.Since) {
			continue
		}
		results = append(results, entry)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, messageID string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[entryKey{tenantID, messageID}]
	return entry, ok, nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
