package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// NonceStore remembers issued state nonces so each can be used once.
type NonceStore interface {
	// Remember records nonce for ttl.
	Remember(ctx context.Context, nonce string, ttl time.Duration) error
	// Consume deletes nonce and reports whether it was present.
	Consume(ctx context.Context, nonce string) (bool, error)
}

var (
	_ NonceStore = (*MemoryNonceStore)(nil)
	_ NonceStore = (*RedisNonceStore)(nil)
)

// MemoryNonceStore keeps nonces in process memory
type MemoryNonceStore struct {
	mu sync.Mutex
	c  *gocache.Cache
}

// NewMemoryNonceStore creates a store whose expired entries are purged every cleanup interval.
func NewMemoryNonceStore(defaultTTL, cleanup time.Duration) *MemoryNonceStore {
	return &MemoryNonceStore{c: gocache.New(defaultTTL, cleanup)}
}

func (s *MemoryNonceStore) Remember(_ context.Context, nonce string, ttl time.Duration) error {
	if err := s.c.Add(nonce, struct{}{}, ttl); err != nil {
		return fmt.Errorf("nonce already recorded: %w", err)
	}
	return nil
}

func (s *MemoryNonceStore) Consume(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.c.Get(nonce); !ok {
		return false, nil
	}
	s.c.Delete(nonce)
	return true, nil
}

// RedisNonceStore shares nonces between instances
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisNonceStore creates a store on client.
func NewRedisNonceStore(client redis.UniversalClient) *RedisNonceStore {
	return &RedisNonceStore{client: client, prefix: "oidc_state_nonce:"}
}

func (s *RedisNonceStore) Remember(ctx context.Context, nonce string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.prefix+nonce, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to record nonce: %w", err)
	}
	if !ok {
		return fmt.Errorf("nonce already recorded")
	}
	return nil
}

func (s *RedisNonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	err := s.client.GetDel(ctx, s.prefix+nonce).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume nonce: %w", err)
	}
	return true, nil
}
