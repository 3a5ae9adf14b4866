package middleware

import (
	"fmt"
	"net/http"

	"github.com/benvon/portal-identity/internal/autherr"
	logpkg "github.com/benvon/portal-identity/internal/logger"
	"github.com/benvon/portal-identity/internal/request"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	stdlibmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

const (
	// DefaultRate guards the login, callback and token endpoints
	DefaultRate = "10-S"

	rateLimitPrefix = "portal_ratelimit"
)

// NewRateLimitStore returns a Redis-backed limiter store when client is
// non-nil, otherwise a process-local one.
func NewRateLimitStore(client *redis.Client) (limiter.Store, error) {
	if client == nil {
		return memorystore.NewStoreWithOptions(limiter.StoreOptions{Prefix: rateLimitPrefix}), nil
	}
	store, err := redisstore.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: rateLimitPrefix})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis rate limit store: %w", err)
	}
	return store, nil
}

// RateLimit limits requests per client IP and portal. Rejections are
// answered with 429 and RATE_LIMITED.
func RateLimit(store limiter.Store, formatted string, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	if formatted == "" {
		formatted = DefaultRate
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %q: %w", formatted, err)
	}

	mw := stdlibmw.NewMiddleware(limiter.New(store, rate),
		stdlibmw.WithKeyGetter(func(r *http.Request) string {
			return request.PortalFromContext(r) + "|" + request.ClientIP(r)
		}),
		stdlibmw.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			respondErrorJSON(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", logger)
		}),
		stdlibmw.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("rate_limit_store_error", zap.String("error", logpkg.SanitizeError(err)))
			respondErrorJSON(w, r, http.StatusInternalServerError, string(autherr.KindInternal), autherr.PublicMessage(err), logger)
		}),
	)
	return mw.Handler, nil
}
