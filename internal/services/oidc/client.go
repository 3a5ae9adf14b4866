package oidc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/services/identity"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const maxUserInfoBytes = 1 << 20

// Client wraps the authorization-code calls against one provider
type Client struct {
	config *oauth2.Config
	http   *http.Client
	retry  RetryPolicy
	log    *zap.Logger
}

// ClientOptions carries what a Client needs besides the endpoints.
type ClientOptions struct {
	ClientID     string
	ClientSecret string
	Scopes       string
	RedirectURI  string
	HTTPClient   *http.Client
	Retry        RetryPolicy
	Log          *zap.Logger
}

// NewClient creates a client for the resolved endpoints
func NewClient(ep *Endpoints, opts ClientOptions) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient(0)
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	config := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		RedirectURL:  opts.RedirectURI,
		Scopes:       ParseScopes(opts.Scopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:  ep.AuthorizationEndpoint,
			TokenURL: ep.TokenEndpoint,
			// Credentials go in the form body, which every provider accepts.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return &Client{config: config, http: opts.HTTPClient, retry: opts.Retry, log: opts.Log}
}

// ParseScopes splits a space or comma separated scope list.
func ParseScopes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
}

// AuthCodeURL returns the authorization URL
func (c *Client) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state)
}

// ExchangeCode exchanges an authorization code for tokens. A 4xx from the
// token endpoint means the code or client credentials were rejected.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	var tok *oauth2.Token
	err := c.retry.do(ctx, c.log, "token_exchange", func(ctx context.Context) error {
		var err error
		tok, err = c.config.Exchange(ctx, code)
		return err
	})
	if err != nil {
		return nil, classify(err, "token exchange")
	}
	return tok, nil
}

// UserInfo fetches the userinfo document with an access token.
func (c *Client) UserInfo(ctx context.Context, userInfoURL, accessToken string) (map[string]any, error) {
	var claims map[string]any
	err := c.retry.do(ctx, c.log, "userinfo", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch userinfo: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return &statusError{URL: userInfoURL, StatusCode: resp.StatusCode}
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
		if err != nil {
			return fmt.Errorf("failed to read userinfo: %w", err)
		}
		claims, err = identity.DecodeClaims(body)
		if err != nil {
			return autherr.Wrap(autherr.KindMalformedClaims, "userinfo response is not a JSON object", err)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, "userinfo request")
	}
	return claims, nil
}

func classify(err error, op string) error {
	var ae *autherr.Error
	if errors.As(err, &ae) {
		return err
	}
	if clientRejected(err) {
		return autherr.Wrap(autherr.KindInvalidCredentials, op+" was rejected by the provider", err)
	}
	return autherr.Wrap(autherr.KindExternalServiceUnavailable, op+" failed", err)
}
