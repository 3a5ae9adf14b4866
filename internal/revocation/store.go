// Package revocation records logged-out tokens until they would have expired.
package revocation

import (
	"context"
	"time"
)

// Store records revoked tokens. Entries are only meaningful until the
// token's own expiry; implementations may forget them afterwards.
type Store interface {
	Revoke(ctx context.Context, token string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
