package models

import (
	"strings"
	"time"
)

// PortalSettings is the identity-related configuration of one portal
type PortalSettings struct {
	PortalID              string `json:"portal_id" yaml:"portal_id" validate:"required"`
	AutoApproveDevelopers bool   `json:"auto_approve_developers" yaml:"auto_approve_developers"`
	// Domains are the host names the portal is served on. They resolve the
	// portal of requests that do not name one.
	Domains       []string       `json:"domains,omitempty" yaml:"domains,omitempty" validate:"dive,hostname_rfc1123"`
	OIDCConfigs   []OIDCConfig   `json:"oidc_configs" yaml:"oidc_configs" validate:"dive"`
	OAuth2Configs []OAuth2Config `json:"oauth2_configs" yaml:"oauth2_configs" validate:"dive"`
	UpdatedAt     time.Time      `json:"updated_at" yaml:"updated_at"`
}

// FindOIDC returns the OIDC config with the given provider key, or nil.
func (s *PortalSettings) FindOIDC(provider string) *OIDCConfig {
	for i := range s.OIDCConfigs {
		if s.OIDCConfigs[i].Provider == provider {
			return &s.OIDCConfigs[i]
		}
	}
	return nil
}

// FindOAuth2 returns the OAuth2 config with the given provider key and grant, or nil.
func (s *PortalSettings) FindOAuth2(provider string, grant GrantType) *OAuth2Config {
	for i := range s.OAuth2Configs {
		c := &s.OAuth2Configs[i]
		if c.Provider == provider && c.GrantType == grant {
			return c
		}
	}
	return nil
}

// HasEnabledProvider reports whether any enabled OIDC or OAuth2 config uses the key.
func (s *PortalSettings) HasEnabledProvider(provider string) bool {
	if c := s.FindOIDC(provider); c != nil && c.Enabled {
		return true
	}
	for i := range s.OAuth2Configs {
		if s.OAuth2Configs[i].Provider == provider && s.OAuth2Configs[i].Enabled {
			return true
		}
	}
	return false
}

// NormalizeDomain lower-cases a host name and strips any port.
func NormalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
		return host
	}
	if i := strings.LastIndex(host, ":"); i >= 0 && strings.Count(host, ":") == 1 {
		host = host[:i]
	}
	return strings.TrimSuffix(host, ".")
}

// NormalizeDomains rewrites Domains in canonical form, dropping blanks and
// duplicates.
func (s *PortalSettings) NormalizeDomains() {
	if len(s.Domains) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(s.Domains))
	out := s.Domains[:0:0]
	for _, d := range s.Domains {
		d = NormalizeDomain(d)
		if _, dup := seen[d]; d == "" || dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	s.Domains = out
}

// ServesDomain reports whether the portal is served on domain.
func (s *PortalSettings) ServesDomain(domain string) bool {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return false
	}
	for _, d := range s.Domains {
		if NormalizeDomain(d) == domain {
			return true
		}
	}
	return false
}
