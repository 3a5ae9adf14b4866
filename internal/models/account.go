package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeveloperStatus is the approval state of a developer account
type DeveloperStatus string

const (
	DeveloperStatusPending  DeveloperStatus = "PENDING"
	DeveloperStatusApproved DeveloperStatus = "APPROVED"
)

// AuthType records how a developer account was first created
type AuthType string

const (
	AuthTypeBuiltin AuthType = "BUILTIN"
	AuthTypeOIDC    AuthType = "OIDC"
	AuthTypeOAuth2  AuthType = "OAUTH2"
)

// Developer is a portal-scoped developer account
type Developer struct {
	ID           string          `json:"developer_id" db:"id"`
	PortalID     string          `json:"portal_id" db:"portal_id"`
	Username     *string         `json:"username,omitempty" db:"username"`
	PasswordHash *string         `json:"-" db:"password_hash"`
	Email        *string         `json:"email,omitempty" db:"email"`
	Status       DeveloperStatus `json:"status" db:"status"`
	AuthType     AuthType        `json:"auth_type" db:"auth_type"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// NewDeveloperID generates a developer identifier.
func NewDeveloperID() string {
	return "dev-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// HasPassword reports whether the developer can log in with a password.
func (d *Developer) HasPassword() bool {
	return d.PasswordHash != nil && *d.PasswordHash != ""
}

// IsApproved reports whether the developer may receive tokens.
func (d *Developer) IsApproved() bool {
	return d.Status == DeveloperStatusApproved
}

// Administrator is a portal operator account
type Administrator struct {
	ID           string    `json:"admin_id" db:"id"`
	PortalID     string    `json:"portal_id" db:"portal_id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// NewAdministratorID generates an administrator identifier.
func NewAdministratorID() string {
	return "admin-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
