package bearer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/benvon/portal-identity/internal/services/identity"
	"github.com/benvon/portal-identity/internal/settings"
	"github.com/benvon/portal-identity/internal/token"
	"github.com/lestrrat-go/jwx/v2/jws"
	"go.uber.org/zap"
)

const (
	claimProvider = "provider"
	claimPortal   = "portal"
)

// Provisioner resolves an external profile to a developer account.
type Provisioner interface {
	LoginOrProvision(ctx context.Context, p identity.ExternalProfile) (*models.Developer, error)
}

// Authenticator exchanges partner assertions for local developer tokens.
type Authenticator struct {
	settings settings.Source
	accounts Provisioner
	tokens   *token.Codec
	keySets  *KeySetCache
	now      func() time.Time
	log      *zap.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides the time source used for exp checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// WithKeySetCache shares a compiled key set cache.
func WithKeySetCache(c *KeySetCache) Option {
	return func(a *Authenticator) { a.keySets = c }
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(src settings.Source, accounts Provisioner, tokens *token.Codec, log *zap.Logger, opts ...Option) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Authenticator{
		settings: src,
		accounts: accounts,
		tokens:   tokens,
		keySets:  NewKeySetCache(time.Hour),
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate verifies assertion and returns a developer token for the
// identity it asserts.
func (a *Authenticator) Authenticate(ctx context.Context, grantType, assertion string) (*token.Issued, error) {
	if grantType != models.JWTBearerGrantURN {
		return nil, autherr.Newf(autherr.KindUnsupportedGrant, "grant type %q is not supported", grantType)
	}
	assertion = strings.TrimSpace(assertion)
	if assertion == "" {
		return nil, autherr.New(autherr.KindInvalidRequest, "assertion is required")
	}

	// Nothing read here is trusted until the signature is verified below.
	msg, err := jws.Parse([]byte(assertion))
	if err != nil || len(msg.Signatures()) != 1 {
		return nil, autherr.Wrap(autherr.KindMalformedClaims, "assertion is not a compact JWS", err)
	}
	headers := msg.Signatures()[0].ProtectedHeaders()
	kid := headers.KeyID()
	if kid == "" {
		return nil, autherr.New(autherr.KindClaimsMissing, "assertion header has no kid")
	}
	claims, err := identity.DecodeClaims(msg.Payload())
	if err != nil {
		return nil, autherr.Wrap(autherr.KindMalformedClaims, "assertion payload is not a JSON object", err)
	}
	provider := stringClaim(claims, claimProvider)
	if provider == "" {
		return nil, autherr.New(autherr.KindClaimsMissing, "assertion has no provider claim")
	}
	portalID := stringClaim(claims, claimPortal)
	if portalID == "" {
		return nil, autherr.New(autherr.KindClaimsMissing, "assertion has no portal claim")
	}

	portal, err := a.settings.Get(ctx, portalID)
	if err != nil {
		if errors.Is(err, settings.ErrPortalNotFound) {
			return nil, autherr.Newf(autherr.KindProviderNotFound, "no JWT-Bearer provider %s", provider)
		}
		return nil, autherr.Wrap(autherr.KindInternal, "failed to load portal settings", err)
	}
	cfg := portal.FindOAuth2(provider, models.GrantTypeJWTBearer)
	if cfg == nil || !cfg.Enabled || cfg.JWTBearerConfig == nil || len(cfg.JWTBearerConfig.PublicKeys) == 0 {
		return nil, autherr.Newf(autherr.KindProviderNotFound, "no JWT-Bearer provider %s", provider)
	}

	keys, err := a.keySets.Get(portalID, portal.UpdatedAt, cfg)
	if err != nil {
		a.log.Error("jwt_bearer_keyset_invalid",
			zap.String("portal_id", portalID),
			zap.String("provider", provider),
			zap.Error(err),
		)
		return nil, autherr.Wrap(autherr.KindInternal, "provider key configuration is invalid", err)
	}
	key, ok := keys.Key(kid)
	if !ok {
		return nil, autherr.Newf(autherr.KindKeyNotFound, "no key %s for provider %s", kid, provider)
	}

	// The registered algorithm decides verification; a header naming any
	// other algorithm is rejected outright.
	if string(headers.Algorithm()) != string(key.Algorithm) {
		return nil, autherr.New(autherr.KindInvalidSignature, "assertion algorithm does not match the registered key")
	}
	if _, err := jws.Verify([]byte(assertion), jws.WithKey(algorithms[key.Algorithm], key.key)); err != nil {
		return nil, autherr.Wrap(autherr.KindInvalidSignature, "assertion signature is invalid", err)
	}

	if err := a.checkTimes(claims); err != nil {
		return nil, err
	}

	profile, err := identity.MapProfile(claims, cfg.IdentityMapping, identity.BearerFields)
	if err != nil {
		return nil, err
	}
	profile.PortalID = portalID
	profile.Provider = provider
	profile.AuthType = models.AuthTypeOAuth2

	dev, err := a.accounts.LoginOrProvision(ctx, profile)
	if err != nil {
		return nil, err
	}

	issued, err := a.tokens.Issue(models.PrincipalDeveloper, dev.ID, token.PortalClaims(dev.PortalID))
	if err != nil {
		return nil, err
	}
	a.log.Info("jwt_bearer_authenticated",
		zap.String("portal_id", portalID),
		zap.String("provider", provider),
		zap.String("kid", kid),
		zap.String("developer_id", dev.ID),
	)
	return issued, nil
}

// checkTimes requires iat <= exp and exp in the future.
func (a *Authenticator) checkTimes(claims map[string]any) error {
	iat, okIat := identity.NumericDate(claims, "iat")
	exp, okExp := identity.NumericDate(claims, "exp")
	if !okIat || !okExp || iat > exp {
		return autherr.New(autherr.KindMalformedClaims, "assertion iat and exp must be present with iat <= exp")
	}
	if exp <= a.now().Unix() {
		return autherr.New(autherr.KindTokenExpired, "assertion has expired")
	}
	return nil
}

func stringClaim(claims map[string]any, name string) string {
	s, _ := claims[name].(string)
	return strings.TrimSpace(s)
}
