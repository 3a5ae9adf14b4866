package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/benvon/portal-identity/internal/autherr"
	logpkg "github.com/benvon/portal-identity/internal/logger"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/benvon/portal-identity/internal/request"
	"github.com/benvon/portal-identity/internal/revocation"
	"github.com/benvon/portal-identity/internal/token"
	"go.uber.org/zap"
)

// Authenticator verifies local tokens and consults the revocation store.
type Authenticator struct {
	tokens  *token.Codec
	revoked revocation.Store
	logger  *zap.Logger
}

// NewAuthenticator creates the token-checking middleware set.
func NewAuthenticator(tokens *token.Codec, revoked revocation.Store, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{tokens: tokens, revoked: revoked, logger: logger}
}

// Required rejects requests without a valid, unrevoked token.
func (a *Authenticator) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := token.FromRequest(r)
		if raw == "" {
			respondAuthError(w, r, autherr.New(autherr.KindInvalidCredentials, "missing bearer token"), a.logger)
			return
		}
		p, err := a.principal(r, raw)
		if err != nil {
			respondAuthError(w, r, err, a.logger)
			return
		}
		next.ServeHTTP(w, r.WithContext(request.WithPrincipal(r.Context(), p, raw)))
	})
}

// Optional attaches the principal when a valid token is presented and
// otherwise lets the request through anonymously.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := token.FromRequest(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		p, err := a.principal(r, raw)
		if err != nil {
			a.logger.Debug("optional_auth_ignored_token", zap.String("kind", string(autherr.KindOf(err))))
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(request.WithPrincipal(r.Context(), p, raw)))
	})
}

// principal verifies the signature and expiry before the revocation lookup.
func (a *Authenticator) principal(r *http.Request, raw string) (*models.Principal, error) {
	claims, err := a.tokens.Verify(raw)
	if err != nil {
		return nil, err
	}
	revoked, err := a.revoked.IsRevoked(r.Context(), raw)
	if err != nil {
		a.logger.Error("revocation_lookup_failed", zap.String("error", logpkg.SanitizeError(err)))
		return nil, autherr.Wrap(autherr.KindInternal, "failed to check token revocation", err)
	}
	if revoked {
		a.logger.Info("revoked_token_presented", zap.String("token", logpkg.RedactToken(raw)))
		return nil, autherr.New(autherr.KindRevoked, "token has been revoked")
	}
	return claims.Principal(), nil
}

// RequirePrincipal admits only principals of the given type that belong to
// the portal resolved for the request. It must run after Required.
func RequirePrincipal(pt models.PrincipalType, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := request.PrincipalFromContext(r)
			if p == nil {
				respondAuthError(w, r, autherr.New(autherr.KindInvalidCredentials, "authentication required"), logger)
				return
			}
			if p.Type != pt {
				respondAuthError(w, r, autherr.Newf(autherr.KindForbidden, "%s access required", strings.ToLower(string(pt))), logger)
				return
			}
			if portal := request.PortalFromContext(r); portal != "" && p.PortalID != "" && p.PortalID != portal {
				respondAuthError(w, r, autherr.New(autherr.KindForbidden, "token belongs to another portal"), logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PortalResolver maps a request domain to a portal id, "" when no portal
// claims the domain.
type PortalResolver interface {
	ResolveDomain(ctx context.Context, domain string) (string, error)
}

// Portal resolves the tenant from the X-Portal-ID header, then from the
// domain the request was addressed to, falling back to defaultPortal. A nil
// resolver skips the domain lookup.
func Portal(defaultPortal string, resolver PortalResolver, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			portal := request.ExplicitPortal(r)
			if portal == "" && resolver != nil {
				if domain := request.Domain(r); domain != "" {
					resolved, err := resolver.ResolveDomain(r.Context(), domain)
					if err != nil {
						logger.Error("portal_domain_resolution_failed",
							zap.String("domain", logpkg.SanitizeString(domain, 253)),
							zap.Error(err),
						)
						respondAuthError(w, r, autherr.Wrap(autherr.KindInternal, "failed to resolve portal", err), logger)
						return
					}
					portal = resolved
				}
			}
			if portal == "" {
				portal = defaultPortal
			}
			next.ServeHTTP(w, r.WithContext(request.WithPortal(r.Context(), portal)))
		})
	}
}

// respondAuthError writes an autherr as the standard error body.
func respondAuthError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	kind := autherr.KindOf(err)
	if kind == autherr.KindInternal {
		logger.Error("auth_middleware_error", zap.String("error", logpkg.SanitizeError(err)))
	}
	respondErrorJSON(w, r, autherr.StatusFor(kind), string(kind), autherr.PublicMessage(err), logger)
}
