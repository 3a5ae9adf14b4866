package models

// PrincipalType identifies which kind of account a token speaks for
type PrincipalType string

const (
	PrincipalAdministrator PrincipalType = "ADMINISTRATOR"
	PrincipalDeveloper     PrincipalType = "DEVELOPER"
)

// Valid reports whether t is a known principal type.
func (t PrincipalType) Valid() bool {
	return t == PrincipalAdministrator || t == PrincipalDeveloper
}

// Principal is the authenticated caller carried by a local token
type Principal struct {
	Type     PrincipalType `json:"principal_type"`
	ID       string        `json:"principal_id"`
	PortalID string        `json:"portal_id,omitempty"`
}

// IsDeveloper reports whether the principal is a developer.
func (p *Principal) IsDeveloper() bool {
	return p != nil && p.Type == PrincipalDeveloper
}

// IsAdministrator reports whether the principal is an administrator.
func (p *Principal) IsAdministrator() bool {
	return p != nil && p.Type == PrincipalAdministrator
}
