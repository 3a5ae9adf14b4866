package oidc

import (
	"context"
	"errors"
	"time"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/services/identity"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Verifier extracts claims from ID tokens
type Verifier struct {
	jwksManager *JWKSManager
	now         func() time.Time
}

// NewVerifier creates a new ID token verifier
func NewVerifier(jwksManager *JWKSManager, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{jwksManager: jwksManager, now: now}
}

// Claims returns the claims of an ID token. When the provider publishes a
// JWKS the signature, issuer and audience are verified; otherwise the token
// is only decoded. Expiry is always enforced.
func (v *Verifier) Claims(ctx context.Context, rawIDToken string, ep *Endpoints, clientID string) (map[string]any, error) {
	msg, err := jws.Parse([]byte(rawIDToken))
	if err != nil {
		return nil, autherr.Wrap(autherr.KindMalformedClaims, "ID token is not a compact JWS", err)
	}
	claims, err := identity.DecodeClaims(msg.Payload())
	if err != nil {
		return nil, autherr.Wrap(autherr.KindMalformedClaims, "ID token payload is malformed", err)
	}

	if ep.JWKSURI != "" {
		if err := v.verify(ctx, rawIDToken, ep, clientID); err != nil {
			return nil, err
		}
		return claims, nil
	}

	exp, ok := identity.NumericDate(claims, "exp")
	if !ok {
		return nil, autherr.New(autherr.KindMalformedClaims, "ID token has no exp claim")
	}
	if exp <= v.now().Unix() {
		return nil, autherr.New(autherr.KindTokenExpired, "ID token has expired")
	}
	return claims, nil
}

func (v *Verifier) verify(ctx context.Context, raw string, ep *Endpoints, clientID string) error {
	err := v.parse(ctx, raw, ep, clientID)
	if err != nil && !jwt.IsValidationError(err) && autherr.KindOf(err) != autherr.KindExternalServiceUnavailable {
		// The provider may have rotated keys since the set was cached.
		v.jwksManager.Invalidate(ep.JWKSURI)
		err = v.parse(ctx, raw, ep, clientID)
	}
	if err == nil {
		return nil
	}

	switch {
	case autherr.KindOf(err) == autherr.KindExternalServiceUnavailable:
		return err
	case errors.Is(err, jwt.ErrTokenExpired()):
		return autherr.Wrap(autherr.KindTokenExpired, "ID token has expired", err)
	case jwt.IsValidationError(err):
		return autherr.Wrap(autherr.KindInvalidCredentials, "ID token was not issued for this client", err)
	default:
		return autherr.Wrap(autherr.KindInvalidSignature, "ID token signature is invalid", err)
	}
}

func (v *Verifier) parse(ctx context.Context, raw string, ep *Endpoints, clientID string) error {
	keys, err := v.jwksManager.GetJWKS(ctx, ep.JWKSURI)
	if err != nil {
		if autherr.KindOf(err) == autherr.KindExternalServiceUnavailable {
			return err
		}
		return autherr.Wrap(autherr.KindExternalServiceUnavailable, "failed to get JWKS", err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(keys, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(v.now)),
		jwt.WithAudience(clientID),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	}
	if ep.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(ep.Issuer))
	}
	_, err = jwt.Parse([]byte(raw), opts...)
	return err
}
