package revocation

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// MemoryStore is an in-process Store sharded by token hash.
// Expired entries are removed lazily on lookup and on writes to their shard.
type MemoryStore struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// NewMemoryStore creates an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	s := &MemoryStore{now: now}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]time.Time)}
	}
	return s
}

func (s *MemoryStore) shardFor(token string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return s.shards[h.Sum32()%shardCount]
}

// Revoke records token until expiresAt. Tokens already past expiry are not stored.
func (s *MemoryStore) Revoke(_ context.Context, token string, expiresAt time.Time) error {
	now := s.now()
	sh := s.shardFor(token)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	for t, exp := range sh.entries {
		if !now.Before(exp) {
			delete(sh.entries, t)
		}
	}
	if now.Before(expiresAt) {
		sh.entries[token] = expiresAt
	}
	return nil
}

// IsRevoked reports whether token is revoked and still unexpired.
func (s *MemoryStore) IsRevoked(_ context.Context, token string) (bool, error) {
	now := s.now()
	sh := s.shardFor(token)

	sh.mu.RLock()
	exp, ok := sh.entries[token]
	sh.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if now.Before(exp) {
		return true, nil
	}

	sh.mu.Lock()
	// Re-check: a concurrent Revoke may have extended the entry.
	if exp, ok := sh.entries[token]; ok && !now.Before(exp) {
		delete(sh.entries, token)
	}
	sh.mu.Unlock()
	return false, nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
