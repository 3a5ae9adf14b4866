package state

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// checkConsumeOnce runs the single-use contract against any NonceStore.
func checkConsumeOnce(t *testing.T, s NonceStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Remember(ctx, "n1", time.Minute))
	require.Error(t, s.Remember(ctx, "n1", time.Minute), "duplicate Remember must fail")

	ok, err := s.Consume(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok, "first Consume")

	ok, err = s.Consume(ctx, "n1")
	require.NoError(t, err)
	require.False(t, ok, "second Consume")

	ok, err = s.Consume(ctx, "never-issued")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryNonceStore_ConsumeOnce(t *testing.T) {
	t.Parallel()
	checkConsumeOnce(t, NewMemoryNonceStore(time.Minute, time.Minute))
}

func TestMemoryNonceStore_Expiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemoryNonceStore(time.Minute, time.Minute)
	require.NoError(t, s.Remember(ctx, "short", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	ok, err := s.Consume(ctx, "short")
	require.NoError(t, err)
	require.False(t, ok, "expired nonce must not be accepted")
}

func TestRedisNonceStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisNonceStore(client)
	checkConsumeOnce(t, s)

	require.NoError(t, s.Remember(ctx, "n2", time.Minute))
	ttl, err := client.TTL(ctx, "oidc_state_nonce:n2").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}
