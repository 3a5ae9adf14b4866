package database

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/portal-identity/internal/models"
	"github.com/jmoiron/sqlx"
)

// AdministratorRepository handles administrator database operations
type AdministratorRepository struct {
	db *DB
}

// NewAdministratorRepository creates a new administrator repository
func NewAdministratorRepository(db *DB) *AdministratorRepository {
	return &AdministratorRepository{db: db}
}

// Count returns the number of administrators of a portal.
func (r *AdministratorRepository) Count(ctx context.Context, portalID string) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM administrators WHERE portal_id = $1`, portalID); err != nil {
		return 0, fmt.Errorf("failed to count administrators: %w", err)
	}
	return n, nil
}

// CreateFirst inserts admin only if the portal has no administrator yet.
// It returns ErrDuplicate when one already exists.
func (r *AdministratorRepository) CreateFirst(ctx context.Context, portalID string, admin *models.Administrator) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Serialize concurrent bootstraps of the same portal.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "admin-init:"+portalID); err != nil {
			return fmt.Errorf("failed to lock portal for admin init: %w", err)
		}
		var n int
		if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM administrators WHERE portal_id = $1`, portalID); err != nil {
			return fmt.Errorf("failed to count administrators: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("portal %s already has an administrator: %w", portalID, ErrDuplicate)
		}

		now := time.Now().UTC()
		admin.PortalID = portalID
		admin.CreatedAt, admin.UpdatedAt = now, now
		_, err := tx.ExecContext(ctx, `
			INSERT INTO administrators (id, portal_id, username, password_hash, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, admin.ID, portalID, admin.Username, admin.PasswordHash, now, now)
		if err != nil {
			return fmt.Errorf("failed to create administrator: %w", translateError(err))
		}
		return nil
	})
}

// GetByUsername retrieves an administrator of a portal by username
func (r *AdministratorRepository) GetByUsername(ctx context.Context, portalID, username string) (*models.Administrator, error) {
	admin := &models.Administrator{}
	err := r.db.GetContext(ctx, admin, `
		SELECT id, portal_id, username, password_hash, created_at, updated_at
		FROM administrators WHERE portal_id = $1 AND username = $2
	`, portalID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to get administrator: %w", translateError(err))
	}
	return admin, nil
}

// GetByID retrieves an administrator by ID
func (r *AdministratorRepository) GetByID(ctx context.Context, id string) (*models.Administrator, error) {
	admin := &models.Administrator{}
	err := r.db.GetContext(ctx, admin, `
		SELECT id, portal_id, username, password_hash, created_at, updated_at
		FROM administrators WHERE id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get administrator: %w", translateError(err))
	}
	return admin, nil
}

// UpdatePassword replaces the password hash of an administrator.
func (r *AdministratorRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE administrators SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update administrator password: %w", err)
	}
	return expectAffected(res.RowsAffected())
}
