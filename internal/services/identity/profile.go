package identity

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/models"
)

// ExternalProfile is an identity asserted by an external provider.
type ExternalProfile struct {
	PortalID    string
	Provider    string
	AuthType    models.AuthType
	Subject     string
	DisplayName string
	Email       string
	// Attributes holds values resolved from the mapping's custom fields.
	Attributes map[string]string
	Raw        map[string]any
}

// FieldDefaults names the claims read when a mapping leaves a field empty.
type FieldDefaults struct {
	UserID   string
	UserName string
	Email    string
	// Fallbacks are tried when the default claim is absent.
	UserIDFallback   string
	UserNameFallback string
}

var (
	// OIDCFields reads standard OIDC claims, falling back to GitHub-style
	// userinfo ("id", "login").
	OIDCFields = FieldDefaults{
		UserID:           "sub",
		UserName:         "name",
		Email:            "email",
		UserIDFallback:   "id",
		UserNameFallback: "login",
	}
	// BearerFields reads the claims of a partner JWT-Bearer assertion.
	BearerFields = FieldDefaults{
		UserID:   "userId",
		UserName: "name",
		Email:    "email",
	}
)

// MapProfile extracts subject, display name and email from claims. Subject and
// display name are required; a missing one yields ClaimsMissing.
func MapProfile(claims map[string]any, mapping models.IdentityMapping, defaults FieldDefaults) (ExternalProfile, error) {
	subject := resolve(claims, mapping.UserIDField, defaults.UserID, defaults.UserIDFallback)
	name := resolve(claims, mapping.UserNameField, defaults.UserName, defaults.UserNameFallback)
	email := resolve(claims, mapping.EmailField, defaults.Email, "")

	if subject == "" {
		return ExternalProfile{}, autherr.New(autherr.KindClaimsMissing, "user id claim is missing")
	}
	if name == "" {
		return ExternalProfile{}, autherr.New(autherr.KindClaimsMissing, "user name claim is missing")
	}

	p := ExternalProfile{
		Subject:     subject,
		DisplayName: name,
		Email:       email,
		Raw:         claims,
	}
	if len(mapping.CustomFields) > 0 {
		p.Attributes = make(map[string]string, len(mapping.CustomFields))
		for attr, claim := range mapping.CustomFields {
			if v := claimString(lookup(claims, claim)); v != "" {
				p.Attributes[attr] = v
			}
		}
	}
	return p, nil
}

// resolve reads the configured claim, or the default and then the fallback
// when no claim is configured.
func resolve(claims map[string]any, configured, def, fallback string) string {
	if configured != "" {
		return claimString(lookup(claims, configured))
	}
	if v := claimString(lookup(claims, def)); v != "" {
		return v
	}
	if fallback == "" {
		return ""
	}
	return claimString(lookup(claims, fallback))
}

// lookup follows a dotted path through nested objects.
func lookup(claims map[string]any, path string) any {
	if path == "" {
		return nil
	}
	if v, ok := claims[path]; ok {
		return v
	}
	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func (p *ExternalProfile) rawJSON() []byte {
	if len(p.Raw) == 0 {
		return []byte(`{}`)
	}
	b, err := json.Marshal(p.Raw)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}
