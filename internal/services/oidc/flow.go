// Package oidc implements the relying-party side of the OIDC
// authorization-code flow used for developer login and account binding.
package oidc

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/logger"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/benvon/portal-identity/internal/services/identity"
	"github.com/benvon/portal-identity/internal/state"
	"github.com/benvon/portal-identity/internal/token"
	"go.uber.org/zap"
)

// DefaultAPIPrefix is used when the authorize request names none.
const DefaultAPIPrefix = "/api/v1"

const callbackPath = "/developers/oidc/callback"

var apiPrefixPattern = regexp.MustCompile(`^(/[A-Za-z0-9._~-]+)*$`)

// Step names a stage of the callback, as logged on failure.
type Step string

const (
	StepInit             Step = "INIT"
	StepRedirected       Step = "REDIRECTED"
	StepCallbackReceived Step = "CALLBACK_RECEIVED"
	StepTokenExchanged   Step = "TOKEN_EXCHANGED"
	StepClaimsExtracted  Step = "CLAIMS_EXTRACTED"
	StepLoginDone        Step = "LOGIN_DONE"
	StepBindDone         Step = "BIND_DONE"
)

// Accounts is the identity side of a completed callback.
type Accounts interface {
	LoginOrProvision(ctx context.Context, p identity.ExternalProfile) (*models.Developer, error)
	Bind(ctx context.Context, developerID string, p identity.ExternalProfile) error
}

// AuthorizeRequest starts a flow.
type AuthorizeRequest struct {
	PortalID  string
	Provider  string
	Mode      state.FlowMode
	APIPrefix string
	// BaseURL is scheme://host of the incoming request.
	BaseURL string
}

// CallbackRequest completes a flow.
type CallbackRequest struct {
	// PortalID is the portal the request names explicitly, or "". The
	// portal recorded in the state is used either way; a mismatch fails.
	PortalID string
	Code     string
	State    string
	BaseURL  string
	// Caller is the verified developer for BINDING callbacks.
	Caller *models.Principal
}

// CallbackResult is the outcome of a successful callback.
type CallbackResult struct {
	Mode        state.FlowMode
	Provider    string
	DeveloperID string
	APIPrefix   string
	// Token is set for LOGIN only.
	Token *token.Issued
}

// Flow drives authorization-code logins and bindings
type Flow struct {
	provider *Provider
	verifier *Verifier
	states   *state.Codec
	nonces   state.NonceStore
	accounts Accounts
	tokens   *token.Codec
	http     *http.Client
	retry    RetryPolicy
	log      *zap.Logger
}

// FlowDeps are the collaborators of a Flow.
type FlowDeps struct {
	Provider   *Provider
	Verifier   *Verifier
	States     *state.Codec
	Nonces     state.NonceStore
	Accounts   Accounts
	Tokens     *token.Codec
	HTTPClient *http.Client
	Retry      RetryPolicy
	Log        *zap.Logger
}

// NewFlow creates a flow orchestrator.
func NewFlow(d FlowDeps) *Flow {
	if d.HTTPClient == nil {
		d.HTTPClient = NewHTTPClient(0)
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Flow{
		provider: d.Provider,
		verifier: d.Verifier,
		states:   d.States,
		nonces:   d.Nonces,
		accounts: d.Accounts,
		tokens:   d.Tokens,
		http:     d.HTTPClient,
		retry:    d.Retry,
		log:      d.Log,
	}
}

// ListProviders returns the enabled OIDC providers of a portal.
func (f *Flow) ListProviders(ctx context.Context, portalID string) ([]ProviderInfo, error) {
	return f.provider.ListEnabled(ctx, portalID)
}

// BuildAuthorizationURL returns the provider URL the browser is sent to.
func (f *Flow) BuildAuthorizationURL(ctx context.Context, req AuthorizeRequest) (string, error) {
	prefix, err := normalizeAPIPrefix(req.APIPrefix)
	if err != nil {
		return "", err
	}
	if !req.Mode.Valid() {
		return "", autherr.Newf(autherr.KindInvalidRequest, "unknown flow mode %q", req.Mode)
	}

	cfg, err := f.provider.GetConfig(ctx, req.PortalID, req.Provider)
	if err != nil {
		return "", err
	}
	ep, err := f.provider.ResolveEndpoints(ctx, &cfg.AuthCodeConfig)
	if err != nil {
		return "", err
	}

	encoded, payload, err := f.states.Encode(req.PortalID, cfg.Provider, req.Mode, prefix)
	if err != nil {
		return "", err
	}
	if err := f.nonces.Remember(ctx, payload.Nonce, f.states.TTL()); err != nil {
		return "", autherr.Wrap(autherr.KindInternal, "failed to record state nonce", err)
	}

	url := f.client(cfg, ep, redirectURI(cfg, req.BaseURL, prefix)).AuthCodeURL(encoded)
	f.log.Info("oidc_authorize_redirect",
		zap.String("portal_id", req.PortalID),
		zap.String("provider", cfg.Provider),
		zap.String("mode", string(req.Mode)),
		zap.String("step", string(StepRedirected)),
	)
	return url, nil
}

// HandleCallback completes a flow started by BuildAuthorizationURL.
func (f *Flow) HandleCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	step := StepCallbackReceived
	payload, err := f.states.Decode(req.State)
	if err != nil {
		return nil, f.fail(step, req.PortalID, "", err)
	}
	log := f.log.With(
		zap.String("portal_id", payload.PortalID),
		zap.String("provider", payload.Provider),
		zap.String("mode", string(payload.Mode)),
	)
	if req.PortalID != "" && req.PortalID != payload.PortalID {
		return nil, f.fail(step, req.PortalID, payload.Provider,
			autherr.New(autherr.KindStateMalformed, "state was issued for another portal"))
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, f.fail(step, payload.PortalID, payload.Provider,
			autherr.New(autherr.KindInvalidRequest, "authorization code is required"))
	}
	fresh, err := f.nonces.Consume(ctx, payload.Nonce)
	if err != nil {
		return nil, f.fail(step, payload.PortalID, payload.Provider,
			autherr.Wrap(autherr.KindInternal, "failed to consume state nonce", err))
	}
	if !fresh {
		return nil, f.fail(step, payload.PortalID, payload.Provider,
			autherr.New(autherr.KindStateReplayed, "state has already been used"))
	}
	if payload.Mode == state.FlowBinding && !isDeveloper(req.Caller, payload.PortalID) {
		return nil, f.fail(step, payload.PortalID, payload.Provider,
			autherr.New(autherr.KindInvalidCredentials, "binding requires a signed-in developer"))
	}

	// Settings may have changed since the redirect.
	cfg, err := f.provider.GetConfig(ctx, payload.PortalID, payload.Provider)
	if err != nil {
		return nil, f.fail(step, payload.PortalID, payload.Provider, err)
	}
	ep, err := f.provider.ResolveEndpoints(ctx, &cfg.AuthCodeConfig)
	if err != nil {
		return nil, f.fail(step, payload.PortalID, payload.Provider, err)
	}
	client := f.client(cfg, ep, redirectURI(cfg, req.BaseURL, payload.APIPrefix))

	tok, err := client.ExchangeCode(ctx, req.Code)
	if err != nil {
		return nil, f.fail(step, payload.PortalID, payload.Provider, err)
	}
	step = StepTokenExchanged
	log.Debug("oidc_token_exchanged", zap.String("step", string(step)))

	claims, err := f.claims(ctx, client, tok.AccessToken, idToken(tok.Extra("id_token")), ep, cfg)
	if err != nil {
		return nil, f.fail(step, payload.PortalID, payload.Provider, err)
	}
	profile, err := identity.MapProfile(claims, cfg.IdentityMapping, identity.OIDCFields)
	if err != nil {
		return nil, f.fail(step, payload.PortalID, payload.Provider, err)
	}
	profile.PortalID = payload.PortalID
	profile.Provider = cfg.Provider
	profile.AuthType = models.AuthTypeOIDC
	step = StepClaimsExtracted

	result := &CallbackResult{Mode: payload.Mode, Provider: cfg.Provider, APIPrefix: payload.APIPrefix}
	switch payload.Mode {
	case state.FlowBinding:
		if err := f.accounts.Bind(ctx, req.Caller.ID, profile); err != nil {
			return nil, f.fail(step, payload.PortalID, payload.Provider, err)
		}
		result.DeveloperID = req.Caller.ID
		step = StepBindDone
	default:
		dev, err := f.accounts.LoginOrProvision(ctx, profile)
		if err != nil {
			return nil, f.fail(step, payload.PortalID, payload.Provider, err)
		}
		issued, err := f.tokens.Issue(models.PrincipalDeveloper, dev.ID, token.PortalClaims(dev.PortalID))
		if err != nil {
			return nil, f.fail(step, payload.PortalID, payload.Provider, err)
		}
		result.DeveloperID = dev.ID
		result.Token = issued
		step = StepLoginDone
	}

	log.Info("oidc_callback_completed",
		zap.String("step", string(step)),
		zap.String("developer_id", result.DeveloperID),
	)
	return result, nil
}

// claims prefers the ID token and falls back to the userinfo endpoint.
func (f *Flow) claims(ctx context.Context, client *Client, accessToken, rawIDToken string, ep *Endpoints, cfg *models.OIDCConfig) (map[string]any, error) {
	if rawIDToken != "" {
		return f.verifier.Claims(ctx, rawIDToken, ep, cfg.AuthCodeConfig.ClientID)
	}
	if accessToken == "" {
		return nil, autherr.New(autherr.KindExternalServiceUnavailable, "provider returned neither an ID token nor an access token")
	}
	if ep.UserInfoEndpoint == "" {
		return nil, autherr.New(autherr.KindClaimsMissing, "provider returned no ID token and has no userinfo endpoint")
	}
	f.log.Debug("oidc_userinfo_fallback", zap.String("provider", cfg.Provider))
	return client.UserInfo(ctx, ep.UserInfoEndpoint, accessToken)
}

func (f *Flow) client(cfg *models.OIDCConfig, ep *Endpoints, redirect string) *Client {
	return NewClient(ep, ClientOptions{
		ClientID:     cfg.AuthCodeConfig.ClientID,
		ClientSecret: cfg.AuthCodeConfig.ClientSecret,
		Scopes:       cfg.AuthCodeConfig.Scopes,
		RedirectURI:  redirect,
		HTTPClient:   f.http,
		Retry:        f.retry,
		Log:          f.log,
	})
}

func (f *Flow) fail(step Step, portalID, provider string, err error) error {
	f.log.Warn("oidc_callback_failed",
		zap.String("step", string(step)),
		zap.String("portal_id", logger.SanitizeID(portalID)),
		zap.String("provider", logger.SanitizeString(provider, 64)),
		zap.String("error_kind", string(autherr.KindOf(err))),
		zap.String("error", logger.SanitizeError(err)),
	)
	return err
}

// redirectURI is the configured redirect URI, or the callback route
// under the request's base URL.
func redirectURI(cfg *models.OIDCConfig, baseURL, apiPrefix string) string {
	if cfg.AuthCodeConfig.RedirectURI != "" {
		return cfg.AuthCodeConfig.RedirectURI
	}
	return strings.TrimRight(baseURL, "/") + apiPrefix + callbackPath
}

func normalizeAPIPrefix(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return DefaultAPIPrefix, nil
	}
	p = strings.TrimRight(p, "/")
	if !apiPrefixPattern.MatchString(p) {
		return "", autherr.Newf(autherr.KindInvalidRequest, "invalid api prefix %q", p)
	}
	return p, nil
}

func isDeveloper(p *models.Principal, portalID string) bool {
	return p != nil && p.Type == models.PrincipalDeveloper && p.ID != "" &&
		(p.PortalID == "" || p.PortalID == portalID)
}

func idToken(v any) string {
	s, _ := v.(string)
	return s
}
