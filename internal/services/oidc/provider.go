package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/benvon/portal-identity/internal/settings"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const discoveryPath = "/.well-known/openid-configuration"

// Discovery is the subset of an OpenID Provider metadata document we use.
type Discovery struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// Endpoints are the resolved URLs of one provider.
type Endpoints struct {
	Issuer                string
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserInfoEndpoint      string
	JWKSURI               string
}

// ProviderInfo describes an enabled provider for the login page.
type ProviderInfo struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
	LogoURL  string `json:"logo_url,omitempty"`
}

// Provider resolves portal OIDC configuration and discovery documents
type Provider struct {
	settings settings.Source
	client   *http.Client
	retry    RetryPolicy
	docs     *cache.Cache
	group    singleflight.Group
	log      *zap.Logger
}

// NewProvider creates a provider resolver. Discovery documents are cached
// for discoveryTTL.
func NewProvider(src settings.Source, client *http.Client, retry RetryPolicy, discoveryTTL time.Duration, log *zap.Logger) *Provider {
	if client == nil {
		client = NewHTTPClient(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if discoveryTTL <= 0 {
		discoveryTTL = time.Hour
	}
	return &Provider{
		settings: src,
		client:   client,
		retry:    retry,
		docs:     cache.New(discoveryTTL, 2*discoveryTTL),
		log:      log,
	}
}

// GetConfig returns the enabled OIDC config of provider in portalID.
func (p *Provider) GetConfig(ctx context.Context, portalID, provider string) (*models.OIDCConfig, error) {
	s, err := p.settings.Get(ctx, portalID)
	if err != nil {
		if errors.Is(err, settings.ErrPortalNotFound) {
			return nil, autherr.Newf(autherr.KindProviderNotFound, "portal %s not found", portalID)
		}
		return nil, autherr.Wrap(autherr.KindInternal, "failed to load portal settings", err)
	}
	cfg := s.FindOIDC(provider)
	if cfg == nil || !cfg.Enabled {
		return nil, autherr.Newf(autherr.KindProviderDisabled, "OIDC provider %s is not enabled", provider)
	}
	return cfg, nil
}

// ListEnabled returns the enabled OIDC providers of a portal. An unknown
// portal has none.
func (p *Provider) ListEnabled(ctx context.Context, portalID string) ([]ProviderInfo, error) {
	s, err := p.settings.Get(ctx, portalID)
	if err != nil {
		if errors.Is(err, settings.ErrPortalNotFound) {
			return []ProviderInfo{}, nil
		}
		return nil, autherr.Wrap(autherr.KindInternal, "failed to load portal settings", err)
	}
	out := make([]ProviderInfo, 0, len(s.OIDCConfigs))
	for _, c := range s.OIDCConfigs {
		if !c.Enabled {
			continue
		}
		out = append(out, ProviderInfo{Provider: c.Provider, Name: c.Name, LogoURL: c.LogoURL})
	}
	return out, nil
}

// ResolveEndpoints returns the configured endpoints, filling the missing
// ones from the issuer's discovery document.
func (p *Provider) ResolveEndpoints(ctx context.Context, cfg *models.AuthCodeConfig) (*Endpoints, error) {
	ep := &Endpoints{
		Issuer:                cfg.Issuer,
		AuthorizationEndpoint: cfg.AuthorizationEndpoint,
		TokenEndpoint:         cfg.TokenEndpoint,
		UserInfoEndpoint:      cfg.UserInfoEndpoint,
		JWKSURI:               cfg.JWKSURI,
	}
	if cfg.HasExplicitEndpoints() {
		return ep, nil
	}
	if cfg.Issuer == "" {
		return nil, autherr.New(autherr.KindInternal, "provider has neither explicit endpoints nor an issuer")
	}

	doc, err := p.Discover(ctx, cfg.Issuer)
	if err != nil {
		return nil, err
	}
	if ep.AuthorizationEndpoint == "" {
		ep.AuthorizationEndpoint = doc.AuthorizationEndpoint
	}
	if ep.TokenEndpoint == "" {
		ep.TokenEndpoint = doc.TokenEndpoint
	}
	if ep.UserInfoEndpoint == "" {
		ep.UserInfoEndpoint = doc.UserInfoEndpoint
	}
	if ep.JWKSURI == "" {
		ep.JWKSURI = doc.JWKSURI
	}
	if ep.AuthorizationEndpoint == "" || ep.TokenEndpoint == "" {
		return nil, autherr.Newf(autherr.KindExternalServiceUnavailable, "discovery document of %s lacks required endpoints", cfg.Issuer)
	}
	return ep, nil
}

// Discover fetches and caches the discovery document of issuer.
// Concurrent misses for one issuer share a single fetch.
func (p *Provider) Discover(ctx context.Context, issuer string) (*Discovery, error) {
	issuer = strings.TrimRight(issuer, "/")
	if v, ok := p.docs.Get(issuer); ok {
		return v.(*Discovery), nil
	}

	v, err, _ := p.group.Do(issuer, func() (any, error) {
		var doc Discovery
		err := p.retry.do(ctx, p.log, "discovery", func(ctx context.Context) error {
			return getJSON(ctx, p.client, issuer+discoveryPath, &doc)
		})
		if err != nil {
			return nil, err
		}
		p.docs.SetDefault(issuer, &doc)
		p.log.Debug("oidc_discovery_fetched", zap.String("issuer", issuer))
		return &doc, nil
	})
	if err != nil {
		if autherr.KindOf(err) == autherr.KindExternalServiceUnavailable {
			return nil, err
		}
		return nil, autherr.Wrap(autherr.KindExternalServiceUnavailable, "failed to fetch discovery document", err)
	}
	return v.(*Discovery), nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &statusError{URL: url, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return nil
}
