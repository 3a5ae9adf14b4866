package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benvon/portal-identity/internal/autherr"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func TestNewClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     ClientOptions
		validate func(*testing.T, *Client)
	}{
		{
			name: "confidential client",
			opts: ClientOptions{
				ClientID:     "test-client-id",
				ClientSecret: "test-secret",
				Scopes:       "openid email profile",
				RedirectURI:  "http://localhost:3000/callback",
			},
			validate: func(t *testing.T, client *Client) {
				if client.config.ClientID != "test-client-id" {
					t.Errorf("Expected ClientID 'test-client-id', got '%s'", client.config.ClientID)
				}
				if client.config.ClientSecret != "test-secret" {
					t.Errorf("Expected ClientSecret 'test-secret', got '%s'", client.config.ClientSecret)
				}
				if client.config.Endpoint.AuthStyle != oauth2.AuthStyleInParams {
					t.Errorf("Expected credentials in params, got style %d", client.config.Endpoint.AuthStyle)
				}
				if len(client.config.Scopes) != 3 {
					t.Errorf("Expected 3 scopes, got %v", client.config.Scopes)
				}
			},
		},
		{
			name: "comma separated scopes",
			opts: ClientOptions{ClientID: "id", Scopes: "openid,email, profile"},
			validate: func(t *testing.T, client *Client) {
				want := []string{"openid", "email", "profile"}
				if len(client.config.Scopes) != len(want) {
					t.Fatalf("Expected %v, got %v", want, client.config.Scopes)
				}
				for i := range want {
					if client.config.Scopes[i] != want[i] {
						t.Errorf("scope %d: expected %q, got %q", i, want[i], client.config.Scopes[i])
					}
				}
			},
		},
		{
			name: "defaults http client",
			opts: ClientOptions{ClientID: "id"},
			validate: func(t *testing.T, client *Client) {
				if client.http == nil || client.http.Timeout != defaultHTTPTimeout {
					t.Errorf("Expected default http client with %s timeout", defaultHTTPTimeout)
				}
			},
		},
	}

	ep := &Endpoints{AuthorizationEndpoint: "https://auth.example.com/authorize", TokenEndpoint: "https://auth.example.com/token"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := NewClient(ep, tt.opts)
			if client == nil || client.config == nil {
				t.Fatal("Client is nil")
			}
			tt.validate(t, client)
		})
	}
}

func TestClient_AuthCodeURL(t *testing.T) {
	t.Parallel()

	client := NewClient(&Endpoints{AuthorizationEndpoint: "https://auth.example.com/authorize"}, ClientOptions{
		ClientID:    "test-client-id",
		Scopes:      "openid email",
		RedirectURI: "http://localhost:3000/callback",
	})

	raw := client.AuthCodeURL("test-state-123")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("AuthCodeURL returned an invalid URL: %v", err)
	}
	q := u.Query()
	checks := map[string]string{
		"response_type": "code",
		"client_id":     "test-client-id",
		"redirect_uri":  "http://localhost:3000/callback",
		"scope":         "openid email",
		"state":         "test-state-123",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s: expected %q, got %q", k, want, got)
		}
	}
}

func TestClient_UserInfo(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch {
		case r.Header.Get("Authorization") != "Bearer good":
			w.WriteHeader(http.StatusUnauthorized)
		case n == 1:
			w.WriteHeader(http.StatusBadGateway)
		default:
			writeJSON(w, http.StatusOK, map[string]any{"sub": json.Number("12345678901234567890"), "name": "Big"})
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(&Endpoints{}, ClientOptions{Retry: RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}})

	claims, err := client.UserInfo(context.Background(), srv.URL, "good")
	if err != nil {
		t.Fatalf("UserInfo() error = %v", err)
	}
	if got, _ := claims["sub"].(json.Number); got.String() != "12345678901234567890" {
		t.Errorf("large numeric subject changed: %q", got)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected one retry, got %d calls", calls.Load())
	}

	_, err = client.UserInfo(context.Background(), srv.URL, "bad")
	if autherr.KindOf(err) != autherr.KindInvalidCredentials {
		t.Errorf("Expected INVALID_CREDENTIALS, got %v", err)
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "5xx status", err: &statusError{StatusCode: 503}, want: true},
		{name: "4xx status", err: &statusError{StatusCode: 404}, want: false},
		{name: "oauth2 5xx", err: &oauth2.RetrieveError{Response: &http.Response{StatusCode: 500}}, want: true},
		{name: "oauth2 4xx", err: &oauth2.RetrieveError{Response: &http.Response{StatusCode: 400}}, want: false},
		{name: "network", err: &url.Error{Op: "Get", URL: "http://x", Err: errors.New("connection refused")}, want: true},
		{name: "timeout", err: context.DeadlineExceeded, want: true},
		{name: "cancelled", err: context.Canceled, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_LinearBackoff(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 3, Backoff: 20 * time.Millisecond}
	var calls int
	start := time.Now()
	err := p.do(context.Background(), zap.NewNop(), "test", func(context.Context) error {
		calls++
		return &statusError{StatusCode: 500}
	})
	elapsed := time.Since(start)

	if autherr.KindOf(err) != autherr.KindExternalServiceUnavailable {
		t.Errorf("Expected EXTERNAL_SERVICE_UNAVAILABLE, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	// 1x + 2x backoff between three attempts.
	if elapsed < 60*time.Millisecond {
		t.Errorf("Expected at least 60ms of backoff, got %s", elapsed)
	}
}

func TestCallbackTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		policy      RetryPolicy
		httpTimeout time.Duration
		wantBudget  time.Duration
	}{
		{"defaults", DefaultRetryPolicy(), 10 * time.Second, 36 * time.Second},
		{"zero values", RetryPolicy{}, 0, 30 * time.Second},
		{"single attempt", RetryPolicy{MaxAttempts: 1, Backoff: time.Second}, 5 * time.Second, 5 * time.Second},
		{"four attempts", RetryPolicy{MaxAttempts: 4, Backoff: time.Second}, 2 * time.Second, 14 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.policy.Budget(tt.httpTimeout); got != tt.wantBudget {
				t.Errorf("Budget() = %v, want %v", got, tt.wantBudget)
			}
			want := 4*tt.wantBudget + 5*time.Second
			if got := CallbackTimeout(tt.policy, tt.httpTimeout); got != want {
				t.Errorf("CallbackTimeout() = %v, want %v", got, want)
			}
		})
	}

	// The default callback outlasts the default request timeout by a wide margin.
	if got := CallbackTimeout(DefaultRetryPolicy(), 0); got < 2*time.Minute {
		t.Errorf("CallbackTimeout(defaults) = %v, want at least 2m", got)
	}
}
