package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEvent is a recorded identity lifecycle event
type AuditEvent struct {
	EventID     uuid.UUID       `json:"event_id" db:"event_id"`
	EventType   string          `json:"event_type" db:"event_type"`
	PortalID    string          `json:"portal_id" db:"portal_id"`
	DeveloperID string          `json:"developer_id" db:"developer_id"`
	Provider    *string         `json:"provider,omitempty" db:"provider"`
	Subject     *string         `json:"subject,omitempty" db:"subject"`
	Metadata    json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	OccurredAt  time.Time       `json:"occurred_at" db:"occurred_at"`
	RecordedAt  time.Time       `json:"recorded_at" db:"recorded_at"`
}
