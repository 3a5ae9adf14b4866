// Package state encodes the OAuth2 "state" parameter of the OIDC flow.
//
// A state is a compact JWS (HS256) over a JSON payload. It carries the flow
// mode explicitly, so a callback never has to guess whether it completes a
// login or a binding.
package state

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// DefaultTTL bounds the time between redirect and callback
const DefaultTTL = 10 * time.Minute

const nonceBytes = 16

// FlowMode selects what a completed callback does
type FlowMode string

const (
	FlowLogin   FlowMode = "LOGIN"
	FlowBinding FlowMode = "BINDING"
)

// ParseFlowMode accepts the two known modes, case-insensitively. An empty
// string selects FlowLogin.
func ParseFlowMode(s string) (FlowMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(FlowLogin):
		return FlowLogin, nil
	case string(FlowBinding):
		return FlowBinding, nil
	default:
		return "", autherr.Newf(autherr.KindInvalidRequest, "unknown flow mode %q", s)
	}
}

// Valid reports whether m is a known mode.
func (m FlowMode) Valid() bool {
	return m == FlowLogin || m == FlowBinding
}

// Payload is the decoded content of a state
type Payload struct {
	PortalID  string    `json:"o"`
	Provider  string    `json:"p"`
	Mode      FlowMode  `json:"m"`
	Nonce     string    `json:"n"`
	CreatedAt time.Time `json:"-"`
	APIPrefix string    `json:"a,omitempty"`
}

type wirePayload struct {
	Payload
	CreatedAtMillis int64 `json:"t"`
}

// Codec signs and checks states
type Codec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewCodec creates a codec keyed by secret. A non-positive ttl selects DefaultTTL.
func NewCodec(secret []byte, ttl time.Duration, now func() time.Time) (*Codec, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("state secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	// Derived key: a state signature never equals a token signature.
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("oidc-state"))
	return &Codec{key: mac.Sum(nil), ttl: ttl, now: now}, nil
}

// TTL returns how long a state stays valid.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Encode creates a state with a fresh random nonce.
func (c *Codec) Encode(portalID, provider string, mode FlowMode, apiPrefix string) (string, *Payload, error) {
	if !mode.Valid() {
		return "", nil, autherr.Newf(autherr.KindInvalidRequest, "unknown flow mode %q", mode)
	}
	nonce, err := newNonce()
	if err != nil {
		return "", nil, autherr.Wrap(autherr.KindInternal, "failed to generate nonce", err)
	}

	p := Payload{
		PortalID:  portalID,
		Provider:  provider,
		Mode:      mode,
		Nonce:     nonce,
		CreatedAt: c.now().UTC().Truncate(time.Millisecond),
		APIPrefix: apiPrefix,
	}
	raw, err := json.Marshal(wirePayload{Payload: p, CreatedAtMillis: p.CreatedAt.UnixMilli()})
	if err != nil {
		return "", nil, autherr.Wrap(autherr.KindInternal, "failed to encode state", err)
	}

	signed, err := jws.Sign(raw, jws.WithKey(jwa.HS256, c.key))
	if err != nil {
		return "", nil, autherr.Wrap(autherr.KindInternal, "failed to sign state", err)
	}
	return string(signed), &p, nil
}

// Decode verifies the signature, then the payload shape, then the age. Only
// HS256 under the derived key is accepted.
func (c *Codec) Decode(s string) (*Payload, error) {
	if s == "" {
		return nil, autherr.New(autherr.KindStateMalformed, "state is malformed")
	}
	raw, err := jws.Verify([]byte(s), jws.WithKey(jwa.HS256, c.key))
	if err != nil {
		return nil, autherr.Wrap(autherr.KindStateMalformed, "state signature mismatch", err)
	}

	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, autherr.Wrap(autherr.KindStateMalformed, "state is malformed", err)
	}
	if w.Provider == "" || w.Nonce == "" || w.CreatedAtMillis <= 0 || !w.Mode.Valid() {
		return nil, autherr.New(autherr.KindStateMalformed, "state is incomplete")
	}

	p := w.Payload
	p.CreatedAt = time.UnixMilli(w.CreatedAtMillis).UTC()
	if c.now().Sub(p.CreatedAt) > c.ttl {
		return nil, autherr.New(autherr.KindStateExpired, "state has expired")
	}
	return &p, nil
}

func newNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
