package commands

import (
	"bytes"
	"testing"

	"github.com/benvon/portal-identity/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOIDCOptions_Build(t *testing.T) {
	t.Parallel()

	cfg := oidcOptions{
		issuer:       "https://accounts.example.com/",
		clientID:     "client",
		clientSecret: "secret",
		scopes:       "openid email",
		disabled:     true,
	}.build("google")

	assert.Equal(t, "google", cfg.Name)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "https://accounts.example.com", cfg.AuthCodeConfig.Issuer)
	assert.Equal(t, "openid email", cfg.AuthCodeConfig.Scopes)
}

func TestPutOIDC_ReplacesByProvider(t *testing.T) {
	t.Parallel()

	s := &models.PortalSettings{PortalID: "portal-a"}
	putOIDC(s, models.OIDCConfig{Provider: "google", Name: "Google"})
	putOIDC(s, models.OIDCConfig{Provider: "okta", Name: "Okta"})
	putOIDC(s, models.OIDCConfig{Provider: "google", Name: "Google Workspace"})

	require.Len(t, s.OIDCConfigs, 2)
	assert.Equal(t, "Google Workspace", s.FindOIDC("google").Name)
}

func TestPutBearerKey(t *testing.T) {
	t.Parallel()

	key := func(kid string) *models.PublicKeyConfig {
		return &models.PublicKeyConfig{Kid: kid, Format: models.KeyFormatPEM, Algorithm: "RS256", Value: "pem-" + kid}
	}

	tests := []struct {
		name     string
		existing []models.PublicKeyConfig
		kid      string
		key      *models.PublicKeyConfig
		wantOK   bool
		wantKids []string
	}{
		{name: "first key creates provider", kid: "k1", key: key("k1"), wantOK: true, wantKids: []string{"k1"}},
		{name: "second key appended", existing: []models.PublicKeyConfig{*key("k1")}, kid: "k2", key: key("k2"), wantOK: true, wantKids: []string{"k1", "k2"}},
		{name: "same kid replaced", existing: []models.PublicKeyConfig{*key("k1"), *key("k2")}, kid: "k1", key: key("k1"), wantOK: true, wantKids: []string{"k2", "k1"}},
		{name: "remove key", existing: []models.PublicKeyConfig{*key("k1"), *key("k2")}, kid: "k1", wantOK: true, wantKids: []string{"k2"}},
		{name: "remove unknown key", existing: []models.PublicKeyConfig{*key("k1")}, kid: "k9", wantOK: false, wantKids: []string{"k1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := &models.PortalSettings{PortalID: "portal-a"}
			if tt.existing != nil {
				s.OAuth2Configs = []models.OAuth2Config{{
					Provider:        "partner",
					Name:            "Partner",
					GrantType:       models.GrantTypeJWTBearer,
					JWTBearerConfig: &models.JWTBearerConfig{PublicKeys: tt.existing},
				}}
			}
			original := append([]models.PublicKeyConfig(nil), tt.existing...)

			ok := putBearerKey(s, "partner", "", true, tt.kid, tt.key)
			assert.Equal(t, tt.wantOK, ok)

			cfg := s.FindOAuth2("partner", models.GrantTypeJWTBearer)
			require.NotNil(t, cfg)
			assert.True(t, cfg.Enabled)
			assert.NotEmpty(t, cfg.Name)
			var kids []string
			for _, k := range cfg.JWTBearerConfig.PublicKeys {
				kids = append(kids, k.Kid)
			}
			assert.Equal(t, tt.wantKids, kids)
			assert.Equal(t, original, tt.existing, "input slice must not be modified in place")
		})
	}

	t.Run("remove from missing provider", func(t *testing.T) {
		t.Parallel()

		s := &models.PortalSettings{PortalID: "portal-a"}
		assert.False(t, putBearerKey(s, "partner", "", true, "k1", nil))
		assert.Empty(t, s.OAuth2Configs)
	})
}

func TestPrintPortal_HidesSecrets(t *testing.T) {
	t.Parallel()

	s := &models.PortalSettings{
		PortalID: "portal-a",
		Domains:  []string{"dev.example.com"},
		OIDCConfigs: []models.OIDCConfig{{
			Provider: "google", Name: "Google", Enabled: true,
			AuthCodeConfig: models.AuthCodeConfig{ClientID: "client", ClientSecret: "top-secret", Scopes: "openid"},
		}},
		OAuth2Configs: []models.OAuth2Config{{
			Provider: "partner", Name: "Partner", GrantType: models.GrantTypeJWTBearer,
			JWTBearerConfig: &models.JWTBearerConfig{PublicKeys: []models.PublicKeyConfig{
				{Kid: "k1", Format: models.KeyFormatPEM, Algorithm: "RS256", Value: "-----BEGIN PUBLIC KEY-----"},
			}},
		}},
	}

	var buf bytes.Buffer
	printPortal(&buf, s)
	out := buf.String()

	assert.Contains(t, out, "Portal: portal-a")
	assert.Contains(t, out, "Domains: dev.example.com")
	assert.Contains(t, out, "OIDC google")
	assert.Contains(t, out, "Key k1: PEM RS256")
	assert.NotContains(t, out, "top-secret")
	assert.NotContains(t, out, "BEGIN PUBLIC KEY")
}

func TestEditDomains(t *testing.T) {
	t.Parallel()

	s := &models.PortalSettings{PortalID: "portal-a", Domains: []string{"dev.example.com"}}

	require.NoError(t, editDomains(s, []string{"API.example.com:443", "dev.example.com"}, nil))
	assert.Equal(t, []string{"dev.example.com", "api.example.com"}, s.Domains)

	require.NoError(t, editDomains(s, nil, []string{"Dev.Example.com"}))
	assert.Equal(t, []string{"api.example.com"}, s.Domains)

	assert.Error(t, editDomains(s, nil, []string{"missing.example.com"}))
	assert.Equal(t, []string{"api.example.com"}, s.Domains)
}
