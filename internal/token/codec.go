// Package token issues and verifies the portal's own HS256 bearer tokens.
package token

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// CookieName is the cookie that carries a token for browser sessions
	CookieName = "auth_token"

	claimPrincipalType = "principalType"
	claimPrincipalID   = "principalId"

	// ClaimPortalID carries the portal an account belongs to
	ClaimPortalID = "portalId"

	// DefaultTTL is used when no TTL is configured
	DefaultTTL = 2 * time.Hour
)

var reservedClaims = map[string]struct{}{
	claimPrincipalType: {},
	claimPrincipalID:   {},
	"iat":              {},
	"exp":              {},
	"nbf":              {},
	"iss":              {},
	"jti":              {},
}

// Claims are the verified contents of a local token
type Claims struct {
	// ID is unique per issued token, so sessions revoke independently.
	ID            string
	PrincipalType models.PrincipalType
	PrincipalID   string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Extra         map[string]any
}

// Principal returns the principal the token speaks for.
func (c *Claims) Principal() *models.Principal {
	p := &models.Principal{Type: c.PrincipalType, ID: c.PrincipalID}
	if portal, ok := c.Extra[ClaimPortalID].(string); ok {
		p.PortalID = portal
	}
	return p
}

// PortalClaims returns the extra claims binding a token to a portal.
func PortalClaims(portalID string) map[string]any {
	return map[string]any{ClaimPortalID: portalID}
}

// Issued is a freshly minted token
type Issued struct {
	Token     string
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

// Codec signs and verifies tokens with a shared secret
type Codec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Option configures a Codec
type Option func(*Codec)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithIssuer sets the iss claim written and required on verify.
func WithIssuer(issuer string) Option {
	return func(c *Codec) { c.issuer = issuer }
}

// NewCodec creates a codec. A non-positive ttl selects DefaultTTL.
func NewCodec(secret string, ttl time.Duration, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Codec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the lifetime of issued tokens.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue mints a token for the principal. Extra claims may not use reserved names.
func (c *Codec) Issue(principalType models.PrincipalType, principalID string, extra map[string]any) (*Issued, error) {
	if !principalType.Valid() {
		return nil, autherr.Newf(autherr.KindInvalidRequest, "unknown principal type %q", principalType)
	}
	if principalID == "" {
		return nil, autherr.New(autherr.KindInvalidRequest, "principal id is required")
	}

	now := c.now().Truncate(time.Second)
	exp := now.Add(c.ttl)

	claims := jwt.MapClaims{}
	for k, v := range extra {
		if _, reserved := reservedClaims[k]; reserved {
			return nil, autherr.Newf(autherr.KindInvalidRequest, "claim %q is reserved", k)
		}
		claims[k] = v
	}
	claims[claimPrincipalType] = string(principalType)
	claims[claimPrincipalID] = principalID
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(exp)
	claims["jti"] = uuid.NewString()
	if c.issuer != "" {
		claims["iss"] = c.issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "failed to sign token", err)
	}

	return &Issued{Token: signed, ExpiresAt: exp, ExpiresIn: c.ttl}, nil
}

// Verify checks the signature first and only then the claims.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, autherr.New(autherr.KindInvalidCredentials, "token is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	mapClaims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, mapClaims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, classify(err)
	}

	return claimsFromMap(mapClaims)
}

// ExpiresAt verifies the token and returns its expiry.
func (c *Codec) ExpiresAt(tokenString string) (time.Time, error) {
	claims, err := c.Verify(tokenString)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return autherr.Wrap(autherr.KindTokenExpired, "token has expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return autherr.Wrap(autherr.KindInvalidSignature, "token signature is invalid", err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return autherr.Wrap(autherr.KindInvalidSignature, "token is malformed", err)
	default:
		return autherr.Wrap(autherr.KindInvalidCredentials, "token is invalid", err)
	}
}

func claimsFromMap(m jwt.MapClaims) (*Claims, error) {
	pt, _ := m[claimPrincipalType].(string)
	pid, _ := m[claimPrincipalID].(string)
	if !models.PrincipalType(pt).Valid() || pid == "" {
		return nil, autherr.New(autherr.KindInvalidCredentials, "token does not name a principal")
	}

	jti, _ := m["jti"].(string)
	claims := &Claims{
		ID:            jti,
		PrincipalType: models.PrincipalType(pt),
		PrincipalID:   pid,
		Extra:         map[string]any{},
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	for k, v := range m {
		if _, reserved := reservedClaims[k]; !reserved {
			claims.Extra[k] = v
		}
	}
	return claims, nil
}

// FromRequest extracts a token from the Authorization header, falling back
// to the session cookie. It returns "" when neither is present.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
		return ""
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}
