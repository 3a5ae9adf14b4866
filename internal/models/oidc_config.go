package models

// IdentityMapping names the claims that carry a user's identity fields.
// Empty fields fall back to the provider type's defaults.
type IdentityMapping struct {
	UserIDField   string            `json:"user_id_field,omitempty" yaml:"user_id_field,omitempty"`
	UserNameField string            `json:"user_name_field,omitempty" yaml:"user_name_field,omitempty"`
	EmailField    string            `json:"email_field,omitempty" yaml:"email_field,omitempty"`
	CustomFields  map[string]string `json:"custom_fields,omitempty" yaml:"custom_fields,omitempty"`
}

// AuthCodeConfig holds the client registration and endpoints of an OIDC provider
type AuthCodeConfig struct {
	ClientID              string `json:"client_id" yaml:"client_id" validate:"required"`
	ClientSecret          string `json:"client_secret,omitempty" yaml:"client_secret,omitempty" validate:"required"`
	Scopes                string `json:"scopes" yaml:"scopes" validate:"required"`
	Issuer                string `json:"issuer,omitempty" yaml:"issuer,omitempty" validate:"omitempty,url"`
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty" yaml:"authorization_endpoint,omitempty" validate:"omitempty,url"`
	TokenEndpoint         string `json:"token_endpoint,omitempty" yaml:"token_endpoint,omitempty" validate:"omitempty,url"`
	UserInfoEndpoint      string `json:"userinfo_endpoint,omitempty" yaml:"userinfo_endpoint,omitempty" validate:"omitempty,url"`
	JWKSURI               string `json:"jwks_uri,omitempty" yaml:"jwks_uri,omitempty" validate:"omitempty,url"`
	RedirectURI           string `json:"redirect_uri,omitempty" yaml:"redirect_uri,omitempty" validate:"omitempty,url"`
}

// HasExplicitEndpoints reports whether discovery can be skipped.
func (c *AuthCodeConfig) HasExplicitEndpoints() bool {
	return c.AuthorizationEndpoint != "" && c.TokenEndpoint != "" && c.UserInfoEndpoint != ""
}

// OIDCConfig configures one OIDC login provider of a portal
type OIDCConfig struct {
	Provider        string          `json:"provider" yaml:"provider" validate:"required,max=64"`
	Name            string          `json:"name" yaml:"name"`
	LogoURL         string          `json:"logo_url,omitempty" yaml:"logo_url,omitempty"`
	Enabled         bool            `json:"enabled" yaml:"enabled"`
	AuthCodeConfig  AuthCodeConfig  `json:"auth_code_config" yaml:"auth_code_config"`
	IdentityMapping IdentityMapping `json:"identity_mapping" yaml:"identity_mapping"`
}
