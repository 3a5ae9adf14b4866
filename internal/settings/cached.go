package settings

import (
	"context"
	"errors"
	"time"

	"github.com/benvon/portal-identity/internal/models"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Cached memoizes another Source for a short TTL. Concurrent misses for the
// same portal share one lookup.
type Cached struct {
	src     Source
	cache   *cache.Cache
	group   singleflight.Group
	domains *cache.Cache
	dgroup  singleflight.Group
}

// NewCached wraps src with a cache of the given TTL.
func NewCached(src Source, ttl time.Duration) *Cached {
	return &Cached{
		src:     src,
		cache:   cache.New(ttl, 2*ttl),
		domains: cache.New(ttl, 2*ttl),
	}
}

// ResolveDomain implements DomainResolver when the wrapped source does.
// Unclaimed domains are cached too, so requests on the default host do not
// reach the source every time.
func (c *Cached) ResolveDomain(ctx context.Context, domain string) (string, error) {
	resolver, ok := c.src.(DomainResolver)
	if !ok {
		return "", errors.New("settings source cannot resolve domains")
	}
	domain = models.NormalizeDomain(domain)
	if domain == "" {
		return "", nil
	}
	if v, ok := c.domains.Get(domain); ok {
		return v.(string), nil
	}
	v, err, _ := c.dgroup.Do(domain, func() (any, error) {
		portalID, err := resolver.ResolveDomain(ctx, domain)
		if err != nil {
			return "", err
		}
		c.domains.SetDefault(domain, portalID)
		return portalID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Get implements Source. Lookup errors are not cached.
func (c *Cached) Get(ctx context.Context, portalID string) (*models.PortalSettings, error) {
	if v, ok := c.cache.Get(portalID); ok {
		return v.(*models.PortalSettings), nil
	}
	v, err, _ := c.group.Do(portalID, func() (any, error) {
		s, err := c.src.Get(ctx, portalID)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(portalID, s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.PortalSettings), nil
}

// Invalidate drops the cached settings of a portal.
func (c *Cached) Invalidate(portalID string) {
	c.cache.Delete(portalID)
}
