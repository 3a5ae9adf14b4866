// Package bearer authenticates partner-signed JWT-Bearer assertions
// (RFC 7523) against per-provider key registries.
package bearer

import (
	"fmt"
	"strings"
	"time"

	"github.com/benvon/portal-identity/internal/models"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/patrickmn/go-cache"
)

// Algorithm is an accepted asymmetric signature algorithm.
type Algorithm string

const (
	RS256 Algorithm = "RS256"
	RS384 Algorithm = "RS384"
	RS512 Algorithm = "RS512"
	PS256 Algorithm = "PS256"
	PS384 Algorithm = "PS384"
	PS512 Algorithm = "PS512"
	ES256 Algorithm = "ES256"
	ES384 Algorithm = "ES384"
	ES512 Algorithm = "ES512"
)

var algorithms = map[Algorithm]jwa.SignatureAlgorithm{
	RS256: jwa.RS256,
	RS384: jwa.RS384,
	RS512: jwa.RS512,
	PS256: jwa.PS256,
	PS384: jwa.PS384,
	PS512: jwa.PS512,
	ES256: jwa.ES256,
	ES384: jwa.ES384,
	ES512: jwa.ES512,
}

// ParseAlgorithm resolves a configured algorithm name, ignoring case.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := algorithms[a]; !ok {
		return "", fmt.Errorf("unsupported signature algorithm %q", s)
	}
	return a, nil
}

// keyType returns the key type an algorithm needs.
func (a Algorithm) keyType() jwa.KeyType {
	if strings.HasPrefix(string(a), "ES") {
		return jwa.EC
	}
	return jwa.RSA
}

// Key is a compiled public key with the algorithm it must be used with.
type Key struct {
	Kid       string
	Algorithm Algorithm
	key       jwk.Key
}

// KeySet is the compiled key registry of one JWT-Bearer provider.
type KeySet struct {
	Provider string
	keys     map[string]*Key
}

// CompileKeySet parses every key of a JWT-Bearer config. It fails on
// duplicate kids, unsupported algorithms and unparsable or mismatched keys.
func CompileKeySet(cfg *models.OAuth2Config) (*KeySet, error) {
	if cfg.JWTBearerConfig == nil || len(cfg.JWTBearerConfig.PublicKeys) == 0 {
		return nil, fmt.Errorf("provider %s has no public keys", cfg.Provider)
	}
	ks := &KeySet{Provider: cfg.Provider, keys: make(map[string]*Key, len(cfg.JWTBearerConfig.PublicKeys))}
	for _, pk := range cfg.JWTBearerConfig.PublicKeys {
		if pk.Kid == "" {
			return nil, fmt.Errorf("provider %s: key without kid", cfg.Provider)
		}
		if _, dup := ks.keys[pk.Kid]; dup {
			return nil, fmt.Errorf("provider %s: duplicate kid %q", cfg.Provider, pk.Kid)
		}
		alg, err := ParseAlgorithm(pk.Algorithm)
		if err != nil {
			return nil, fmt.Errorf("provider %s, kid %s: %w", cfg.Provider, pk.Kid, err)
		}
		key, err := parsePublicKey(pk.Format, pk.Value)
		if err != nil {
			return nil, fmt.Errorf("provider %s, kid %s: %w", cfg.Provider, pk.Kid, err)
		}
		if key.KeyType() != alg.keyType() {
			return nil, fmt.Errorf("provider %s, kid %s: %s key cannot be used with %s", cfg.Provider, pk.Kid, key.KeyType(), alg)
		}
		ks.keys[pk.Kid] = &Key{Kid: pk.Kid, Algorithm: alg, key: key}
	}
	return ks, nil
}

// Key returns the key registered under kid.
func (ks *KeySet) Key(kid string) (*Key, bool) {
	k, ok := ks.keys[kid]
	return k, ok
}

// Len returns the number of keys.
func (ks *KeySet) Len() int {
	return len(ks.keys)
}

func parsePublicKey(format models.KeyFormat, value string) (jwk.Key, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("key value is empty")
	}

	var (
		key jwk.Key
		err error
	)
	switch models.KeyFormat(strings.ToUpper(string(format))) {
	case models.KeyFormatPEM:
		key, err = jwk.ParseKey([]byte(normalizePEM(value)), jwk.WithPEM(true))
	case models.KeyFormatJWK:
		key, err = jwk.ParseKey([]byte(value))
	default:
		return nil, fmt.Errorf("unsupported key format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s key: %w", format, err)
	}

	switch key.KeyType() {
	case jwa.RSA, jwa.EC:
	default:
		return nil, fmt.Errorf("key type %s is not an asymmetric signing key", key.KeyType())
	}
	// Private keys pasted by mistake are reduced to their public half.
	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	return pub, nil
}

// normalizePEM accepts a bare base64 SubjectPublicKeyInfo body and wraps it
// in PEM armor.
func normalizePEM(value string) string {
	if strings.Contains(value, "-----BEGIN") {
		return value
	}
	body := strings.Join(strings.Fields(value), "")
	var b strings.Builder
	b.WriteString("-----BEGIN PUBLIC KEY-----\n")
	for len(body) > 64 {
		b.WriteString(body[:64])
		b.WriteByte('\n')
		body = body[64:]
	}
	b.WriteString(body)
	b.WriteString("\n-----END PUBLIC KEY-----\n")
	return b.String()
}

// KeySetCache memoizes compiled key sets per portal, provider and settings
// version, so a config change is picked up on the next request.
type KeySetCache struct {
	cache *cache.Cache
}

// NewKeySetCache creates a cache whose entries expire ttl after they were
// compiled, however often they are read.
func NewKeySetCache(ttl time.Duration) *KeySetCache {
	return &KeySetCache{cache: cache.New(ttl, 2*ttl)}
}

// Get returns the compiled key set of cfg, compiling it on first use.
func (c *KeySetCache) Get(portalID string, version time.Time, cfg *models.OAuth2Config) (*KeySet, error) {
	key := fmt.Sprintf("%s|%s|%d", portalID, cfg.Provider, version.UnixNano())
	if v, ok := c.cache.Get(key); ok {
		return v.(*KeySet), nil
	}
	ks, err := CompileKeySet(cfg)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, ks)
	return ks, nil
}
