package oidc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxJWKSBytes = 1 << 20

// JWKSManager fetches and caches provider key sets
type JWKSManager struct {
	client *http.Client
	retry  RetryPolicy
	cache  *cache.Cache
	group  singleflight.Group
	log    *zap.Logger
}

// NewJWKSManager creates a JWKS manager caching sets for ttl.
func NewJWKSManager(client *http.Client, retry RetryPolicy, ttl time.Duration, log *zap.Logger) *JWKSManager {
	if client == nil {
		client = NewHTTPClient(0)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &JWKSManager{
		client: client,
		retry:  retry,
		cache:  cache.New(ttl, 2*ttl),
		log:    log,
	}
}

// GetJWKS retrieves the key set at jwksURL, with caching
func (m *JWKSManager) GetJWKS(ctx context.Context, jwksURL string) (jwk.Set, error) {
	if v, ok := m.cache.Get(jwksURL); ok {
		return v.(jwk.Set), nil
	}
	v, err, _ := m.group.Do(jwksURL, func() (any, error) {
		var keys jwk.Set
		err := m.retry.do(ctx, m.log, "jwks", func(ctx context.Context) error {
			var err error
			keys, err = m.fetchJWKS(ctx, jwksURL)
			return err
		})
		if err != nil {
			return nil, err
		}
		m.cache.SetDefault(jwksURL, keys)
		return keys, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	return v.(jwk.Set), nil
}

// Invalidate drops a cached key set, e.g. after an unknown kid.
func (m *JWKSManager) Invalidate(jwksURL string) {
	m.cache.Delete(jwksURL)
}

func (m *JWKSManager) fetchJWKS(ctx context.Context, jwksURL string) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{URL: jwksURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS response: %w", err)
	}

	keys, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	return keys, nil
}
