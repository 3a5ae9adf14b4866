package queue

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an identity lifecycle event. It doubles as the routing key.
type EventType string

const (
	// EventDeveloperDeleting is published before a developer account is removed
	EventDeveloperDeleting EventType = "developer.deleting"
	// EventIdentityBound is published when an external identity is linked
	EventIdentityBound EventType = "identity.bound"
	// EventIdentityUnbound is published when an external identity is unlinked
	EventIdentityUnbound EventType = "identity.unbound"
	// EventDeveloperProvisioned is published when a login creates a developer
	EventDeveloperProvisioned EventType = "developer.provisioned"
)

// Event is an identity lifecycle notification
type Event struct {
	ID          uuid.UUID         `json:"id"`
	Type        EventType         `json:"type"`
	PortalID    string            `json:"portal_id"`
	DeveloperID string            `json:"developer_id"`
	Provider    string            `json:"provider,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
}

// NewEvent creates a new event
func NewEvent(eventType EventType, portalID, developerID string) *Event {
	return &Event{
		ID:          uuid.New(),
		Type:        eventType,
		PortalID:    portalID,
		DeveloperID: developerID,
		Metadata:    make(map[string]string),
		CreatedAt:   time.Now().UTC(),
		MaxRetries:  3,
	}
}

// WithIdentity sets the provider and subject the event refers to.
func (e *Event) WithIdentity(provider, subject string) *Event {
	e.Provider = provider
	e.Subject = subject
	return e
}

// CanRetry checks if the event can be redelivered
func (e *Event) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// IncrementRetry increments the retry count
func (e *Event) IncrementRetry() {
	e.RetryCount++
}
