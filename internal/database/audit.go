package database

import (
	"context"
	"fmt"

	"github.com/benvon/portal-identity/internal/models"
)

// AuditRepository stores identity lifecycle events
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record inserts an event. Redelivered events are ignored, so Record is
// safe to call more than once per event.
func (r *AuditRepository) Record(ctx context.Context, ev *models.AuditEvent) error {
	metadata := ev.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identity_audit_events
			(event_id, event_type, portal_id, developer_id, provider, subject, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`, ev.EventID, ev.EventType, ev.PortalID, ev.DeveloperID, ev.Provider, ev.Subject, metadata, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// ListByDeveloper returns the events of a developer, newest first.
func (r *AuditRepository) ListByDeveloper(ctx context.Context, portalID, developerID string, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []*models.AuditEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT event_id, event_type, portal_id, developer_id, provider, subject, metadata, occurred_at, recorded_at
		FROM identity_audit_events
		WHERE portal_id = $1 AND developer_id = $2
		ORDER BY occurred_at DESC
		LIMIT $3
	`, portalID, developerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}
