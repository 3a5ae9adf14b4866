package request

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/benvon/portal-identity/internal/models"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	tokenContextKey     contextKey = "token"
	portalContextKey    contextKey = "portal"

	// PortalHeader selects the tenant of a request
	PortalHeader = "X-Portal-ID"
)

// PrincipalContextKey returns the context key used for the principal. Exposed for tests that inject non-principal values.
func PrincipalContextKey() contextKey { return principalContextKey }

// ClientIP extracts the client IP from the request, respecting X-Forwarded-For and X-Real-IP.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return r.RemoteAddr
}

// WithPrincipal returns a context carrying the authenticated principal and the token it presented.
func WithPrincipal(ctx context.Context, p *models.Principal, token string) context.Context {
	ctx = context.WithValue(ctx, principalContextKey, p)
	return context.WithValue(ctx, tokenContextKey, token)
}

// PrincipalFromContext returns the principal from the request context, or nil if missing or wrong type.
func PrincipalFromContext(r *http.Request) *models.Principal {
	p, _ := r.Context().Value(principalContextKey).(*models.Principal)
	return p
}

// TokenFromContext returns the verified token string of the request, or "".
func TokenFromContext(r *http.Request) string {
	t, _ := r.Context().Value(tokenContextKey).(string)
	return t
}

// WithPortal returns a context carrying the resolved portal ID.
func WithPortal(ctx context.Context, portalID string) context.Context {
	return context.WithValue(ctx, portalContextKey, portalID)
}

// PortalFromContext returns the portal resolved for the request, or "".
func PortalFromContext(r *http.Request) string {
	p, _ := r.Context().Value(portalContextKey).(string)
	return p
}

// ExplicitPortal returns the portal named by the request header, without defaulting.
func ExplicitPortal(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(PortalHeader))
}

// Domain returns the host the client addressed: the Origin host when
// present, else X-Forwarded-Host, else Host. The result is normalized.
func Domain(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" && origin != "null" {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			return models.NormalizeDomain(u.Host)
		}
	}
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		return models.NormalizeDomain(strings.Split(fwd, ",")[0])
	}
	return models.NormalizeDomain(r.Host)
}

// BaseURL reconstructs scheme://host[:port] of the request as the client
// addressed it. Default ports are omitted.
func BaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}

	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	return scheme + "://" + host
}
