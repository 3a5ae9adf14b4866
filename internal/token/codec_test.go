package token

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/benvon/portal-identity/internal/revocation"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-with-enough-entropy-0123456789"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCodec(t *testing.T, ttl time.Duration) (*Codec, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c, err := NewCodec(testSecret, ttl, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	return c, clock
}

func TestCodec_IssueVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	c, clock := newTestCodec(t, time.Hour)

	issued, err := c.Issue(models.PrincipalDeveloper, "dev-1", map[string]any{"portal": "portal-1"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !issued.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", issued.ExpiresAt, clock.Now().Add(time.Hour))
	}

	claims, err := c.Verify(issued.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.PrincipalType != models.PrincipalDeveloper || claims.PrincipalID != "dev-1" {
		t.Errorf("Unexpected principal: %+v", claims)
	}
	if claims.Extra["portal"] != "portal-1" {
		t.Errorf("Expected extra claim to survive, got %v", claims.Extra)
	}
	if !claims.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Errorf("claims.ExpiresAt = %v, want %v", claims.ExpiresAt, issued.ExpiresAt)
	}
}

func TestCodec_SessionsRevokeIndependently(t *testing.T) {
	t.Parallel()

	c, clock := newTestCodec(t, time.Hour)
	first, err := c.Issue(models.PrincipalDeveloper, "dev-1", PortalClaims("portal-a"))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	second, err := c.Issue(models.PrincipalDeveloper, "dev-1", PortalClaims("portal-a"))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if first.Token == second.Token {
		t.Fatal("two sessions issued in the same second share a token")
	}

	firstClaims, err := c.Verify(first.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	secondClaims, err := c.Verify(second.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if firstClaims.ID == "" || firstClaims.ID == secondClaims.ID {
		t.Errorf("token ids = %q / %q, want distinct non-empty", firstClaims.ID, secondClaims.ID)
	}
	if _, ok := firstClaims.Extra["jti"]; ok {
		t.Error("jti must not appear among extra claims")
	}

	store := revocation.NewMemoryStore(clock.Now)
	ctx := context.Background()
	if err := store.Revoke(ctx, first.Token, first.ExpiresAt); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if revoked, err := store.IsRevoked(ctx, first.Token); err != nil || !revoked {
		t.Errorf("IsRevoked(first) = %v, %v; want true", revoked, err)
	}
	if revoked, err := store.IsRevoked(ctx, second.Token); err != nil || revoked {
		t.Errorf("IsRevoked(second) = %v, %v; want false", revoked, err)
	}
	if _, err := c.Verify(second.Token); err != nil {
		t.Errorf("Verify(second) error = %v", err)
	}
}

func TestCodec_VerifyExpiry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		advance time.Duration
		wantErr error
	}{
		{"just before expiry", time.Hour - time.Second, nil},
		{"exactly at expiry", time.Hour, autherr.ErrTokenExpired},
		{"after expiry", 2 * time.Hour, autherr.ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, clock := newTestCodec(t, time.Hour)
			issued, err := c.Issue(models.PrincipalAdministrator, "admin-1", nil)
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}
			clock.Advance(tt.advance)

			_, err = c.Verify(issued.Token)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Verify() unexpected error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCodec_VerifyRejectsTampering(t *testing.T) {
	t.Parallel()

	c, clock := newTestCodec(t, time.Hour)
	issued, err := c.Issue(models.PrincipalDeveloper, "dev-1", nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	other, err := NewCodec("a-different-secret-entirely-0123456789", time.Hour, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	if _, err := other.Verify(issued.Token); !errors.Is(err, autherr.ErrInvalidSignature) {
		t.Errorf("Verify() with other secret error = %v, want InvalidSignature", err)
	}

	parts := strings.Split(issued.Token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)
	if _, err := c.Verify(tampered); !errors.Is(err, autherr.ErrInvalidSignature) {
		t.Errorf("Verify(tampered) error = %v, want InvalidSignature", err)
	}
}

func TestCodec_SignatureCheckedBeforeExpiry(t *testing.T) {
	t.Parallel()

	c, clock := newTestCodec(t, time.Hour)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		claimPrincipalType: string(models.PrincipalDeveloper),
		claimPrincipalID:   "dev-1",
		"exp":              clock.Now().Add(-time.Hour).Unix(),
	})
	signed, err := forged.SignedString([]byte("attacker-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	_, err = c.Verify(signed)
	if !errors.Is(err, autherr.ErrInvalidSignature) {
		t.Errorf("Verify() error = %v, want InvalidSignature for expired forged token", err)
	}
}

func TestCodec_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	c, clock := newTestCodec(t, time.Hour)
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		claimPrincipalType: string(models.PrincipalAdministrator),
		claimPrincipalID:   "admin-1",
		"exp":              clock.Now().Add(time.Hour).Unix(),
	})
	signed, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := c.Verify(signed); !errors.Is(err, autherr.ErrInvalidSignature) {
		t.Errorf("Verify(alg=none) error = %v, want InvalidSignature", err)
	}
}

func TestCodec_IssueRejectsReservedClaims(t *testing.T) {
	t.Parallel()

	c, _ := newTestCodec(t, time.Hour)
	for _, name := range []string{"exp", "principalId", "principalType", "iat", "jti"} {
		if _, err := c.Issue(models.PrincipalDeveloper, "dev-1", map[string]any{name: "x"}); !errors.Is(err, autherr.ErrInvalidRequest) {
			t.Errorf("Issue() with reserved %q error = %v, want InvalidRequest", name, err)
		}
	}
	if _, err := c.Issue(models.PrincipalType("ROBOT"), "x", nil); !errors.Is(err, autherr.ErrInvalidRequest) {
		t.Errorf("Issue() with unknown principal type error = %v", err)
	}
}

func TestNewCodec_RequiresSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewCodec("", time.Hour); err == nil {
		t.Error("Expected error for empty secret")
	}
	c, err := NewCodec(testSecret, 0)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	if c.TTL() != DefaultTTL {
		t.Errorf("TTL() = %v, want %v", c.TTL(), DefaultTTL)
	}
}

func TestFromRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{"bearer header", "Bearer abc.def.ghi", "", "abc.def.ghi"},
		{"lowercase scheme", "bearer abc", "", "abc"},
		{"cookie fallback", "", "from-cookie", "from-cookie"},
		{"header wins", "Bearer from-header", "from-cookie", "from-header"},
		{"basic scheme ignored", "Basic dXNlcjpwYXNz", "from-cookie", ""},
		{"none", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.Header.Add("Cookie", CookieName+"="+tt.cookie)
			}
			if got := FromRequest(r); got != tt.want {
				t.Errorf("FromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}
