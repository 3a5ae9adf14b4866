package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExternalIdentity links an account at an external provider to a developer.
// (PortalID, Provider, Subject) is unique.
type ExternalIdentity struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	PortalID    string          `json:"portal_id" db:"portal_id"`
	Provider    string          `json:"provider" db:"provider"`
	Subject     string          `json:"subject" db:"subject"`
	DisplayName *string         `json:"display_name,omitempty" db:"display_name"`
	RawProfile  json.RawMessage `json:"-" db:"raw_profile"`
	DeveloperID string          `json:"developer_id" db:"developer_id"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
