package models

// GrantType of an OAuth2 provider configuration
type GrantType string

const (
	GrantTypeJWTBearer GrantType = "JWT_BEARER"
)

// JWTBearerGrantURN is the grant_type value of an RFC 7523 token request.
const JWTBearerGrantURN = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// KeyFormat of a configured public key
type KeyFormat string

const (
	KeyFormatPEM KeyFormat = "PEM"
	KeyFormatJWK KeyFormat = "JWK"
)

// PublicKeyConfig is one trusted signing key of a JWT-Bearer partner
type PublicKeyConfig struct {
	Kid       string    `json:"kid" yaml:"kid" validate:"required"`
	Format    KeyFormat `json:"format" yaml:"format" validate:"required,key_format"`
	Algorithm string    `json:"algorithm" yaml:"algorithm" validate:"required,signature_alg"`
	Value     string    `json:"value" yaml:"value" validate:"required"`
}

// JWTBearerConfig lists the keys accepted for assertions
type JWTBearerConfig struct {
	PublicKeys []PublicKeyConfig `json:"public_keys" yaml:"public_keys" validate:"required,min=1,dive"`
}

// OAuth2Config configures one OAuth2 grant provider of a portal
type OAuth2Config struct {
	Provider        string           `json:"provider" yaml:"provider" validate:"required,max=64"`
	Name            string           `json:"name" yaml:"name"`
	Enabled         bool             `json:"enabled" yaml:"enabled"`
	GrantType       GrantType        `json:"grant_type" yaml:"grant_type" validate:"required,eq=JWT_BEARER"`
	JWTBearerConfig *JWTBearerConfig `json:"jwt_bearer_config,omitempty" yaml:"jwt_bearer_config,omitempty" validate:"required"`
	IdentityMapping IdentityMapping  `json:"identity_mapping" yaml:"identity_mapping"`
}
