package dedup

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type shard struct {
	mu      sync.Mutex
	records map[string]Record
}

// MemoryStore is a sharded in-process dedup table. Sharding keeps
// concurrent publishes for different tenants from contending on one lock;
// a background sweep reclaims expired entries.
type MemoryStore struct {
	shards    [shardCount]*shard
	stopSweep chan struct{}
	stopOnce  sync.Once
}

func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		stopSweep: make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]Record)}
	}

	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	go s.sweep(sweepInterval)

	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) CheckAndRecord(ctx context.Context, key string, rec Record, ttl time.Duration) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := time.Now()
	if existing, ok := sh.records[key]; ok && existing.ExpiresAt.After(now) {
		return existing, false, nil
	}

	sh.records[key] = rec
	return rec, true, nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.records, key)
	return nil
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			for _, sh := range s.shards {
				sh.mu.Lock()
				for key, rec := range sh.records {
					if !rec.ExpiresAt.After(now) {
						delete(sh.records, key)
					}
				}
				sh.mu.Unlock()
			}
		case <-s.stopSweep:
			return
		}
	}
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopSweep)
	})
	return nil
}
