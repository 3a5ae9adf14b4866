package settings

import (
	"context"
	"fmt"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/benvon/portal-identity/internal/validation"
)

// Validator checks portal settings before they are stored.
type Validator struct {
	// Discover fetches the discovery document of issuer. Required when a
	// provider omits explicit endpoints.
	Discover func(ctx context.Context, issuer string) error
	// CompileKeys parses the key set of a JWT-Bearer config.
	CompileKeys func(cfg *models.OAuth2Config) error
}

// Validate returns an InvalidRequest error describing the first problem
// found. Domains are normalized in place first.
func (v *Validator) Validate(ctx context.Context, s *models.PortalSettings) error {
	s.NormalizeDomains()
	if err := validation.Struct(s); err != nil {
		return err
	}

	seen := make(map[string]string)
	for i := range s.OIDCConfigs {
		cfg := &s.OIDCConfigs[i]
		if _, dup := seen[cfg.Provider]; dup {
			return autherr.Newf(autherr.KindInvalidRequest, "duplicate provider %q", cfg.Provider)
		}
		seen[cfg.Provider] = "oidc"
		if err := v.validateOIDC(ctx, cfg); err != nil {
			return err
		}
	}

	for i := range s.OAuth2Configs {
		cfg := &s.OAuth2Configs[i]
		if kind, dup := seen[cfg.Provider]; dup {
			return autherr.Newf(autherr.KindInvalidRequest, "provider %q already used by an %s config", cfg.Provider, kind)
		}
		seen[cfg.Provider] = "oauth2"
		if err := v.validateOAuth2(cfg); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateOIDC(ctx context.Context, cfg *models.OIDCConfig) error {
	ac := &cfg.AuthCodeConfig
	if ac.HasExplicitEndpoints() {
		return nil
	}
	if ac.Issuer == "" {
		return autherr.Newf(autherr.KindInvalidRequest,
			"provider %q needs an issuer or explicit authorization, token and userinfo endpoints", cfg.Provider)
	}
	if v.Discover == nil {
		return nil
	}
	if err := v.Discover(ctx, ac.Issuer); err != nil {
		return autherr.Wrap(autherr.KindInvalidRequest,
			fmt.Sprintf("provider %q: discovery of %s failed", cfg.Provider, ac.Issuer), err)
	}
	return nil
}

func (v *Validator) validateOAuth2(cfg *models.OAuth2Config) error {
	if cfg.JWTBearerConfig == nil {
		return autherr.Newf(autherr.KindInvalidRequest, "provider %q has no jwt_bearer_config", cfg.Provider)
	}
	kids := make(map[string]struct{}, len(cfg.JWTBearerConfig.PublicKeys))
	for _, k := range cfg.JWTBearerConfig.PublicKeys {
		if _, dup := kids[k.Kid]; dup {
			return autherr.Newf(autherr.KindInvalidRequest, "provider %q: duplicate kid %q", cfg.Provider, k.Kid)
		}
		kids[k.Kid] = struct{}{}
	}
	if v.CompileKeys == nil {
		return nil
	}
	if err := v.CompileKeys(cfg); err != nil {
		return autherr.Wrap(autherr.KindInvalidRequest, fmt.Sprintf("provider %q: invalid keys", cfg.Provider), err)
	}
	return nil
}
