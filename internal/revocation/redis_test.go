package revocation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisStore_KeyDoesNotLeakToken(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	s := NewRedisStore(client, "")
	key := s.key("eyJhbGciOiJIUzI1NiJ9.payload.signature")

	require.True(t, strings.HasPrefix(key, defaultKeyPrefix))
	require.NotContains(t, key, "payload")
	require.Len(t, key, len(defaultKeyPrefix)+64)
	require.Equal(t, key, s.key("eyJhbGciOiJIUzI1NiJ9.payload.signature"))

	custom := NewRedisStore(client, "portal:revoked:")
	require.True(t, strings.HasPrefix(custom.key("x"), "portal:revoked:"))
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
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
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisStore_Integration(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	s := NewRedisStore(client, "")

	const tok = "eyJhbGciOiJIUzI1NiJ9.integration.signature"
	revoked, err := s.IsRevoked(ctx, tok)
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, s.Revoke(ctx, tok, time.Now().Add(time.Hour)))
	revoked, err = s.IsRevoked(ctx, tok)
	require.NoError(t, err)
	require.True(t, revoked)

	ttl, err := client.TTL(ctx, s.key(tok)).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 59*time.Minute)
	require.LessOrEqual(t, ttl, time.Hour)

	// A token past its expiry is rejected by the codec anyway and is not stored.
	const old = "eyJhbGciOiJIUzI1NiJ9.expired.signature"
	require.NoError(t, s.Revoke(ctx, old, time.Now().Add(-time.Minute)))
	n, err := client.Exists(ctx, s.key(old)).Result()
	require.NoError(t, err)
	require.Zero(t, n)
}
