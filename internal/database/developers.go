package database

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/portal-identity/internal/models"
	"github.com/jmoiron/sqlx"
)

const developerColumns = `id, portal_id, username, password_hash, email, status, auth_type, created_at, updated_at`

// DeveloperRepository handles developer database operations
type DeveloperRepository struct {
	db *DB
}

// NewDeveloperRepository creates a new developer repository
func NewDeveloperRepository(db *DB) *DeveloperRepository {
	return &DeveloperRepository{db: db}
}

// Create inserts a developer. A taken username yields ErrDuplicate.
func (r *DeveloperRepository) Create(ctx context.Context, dev *models.Developer) error {
	return insertDeveloper(ctx, r.db, dev)
}

func insertDeveloper(ctx context.Context, ext sqlx.ExtContext, dev *models.Developer) error {
	now := time.Now().UTC()
	dev.CreatedAt, dev.UpdatedAt = now, now
	query := `
		INSERT INTO developers (` + developerColumns + `)
		VALUES (:id, :portal_id, :username, :password_hash, :email, :status, :auth_type, :created_at, :updated_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, dev); err != nil {
		return fmt.Errorf("failed to create developer: %w", translateError(err))
	}
	return nil
}

// GetByID retrieves a developer by ID
func (r *DeveloperRepository) GetByID(ctx context.Context, id string) (*models.Developer, error) {
	return getDeveloper(ctx, r.db, `SELECT `+developerColumns+` FROM developers WHERE id = $1`, id)
}

// GetByUsername retrieves a developer of a portal by username
func (r *DeveloperRepository) GetByUsername(ctx context.Context, portalID, username string) (*models.Developer, error) {
	return getDeveloper(ctx, r.db, `SELECT `+developerColumns+` FROM developers WHERE portal_id = $1 AND username = $2`, portalID, username)
}

func getDeveloper(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*models.Developer, error) {
	dev := &models.Developer{}
	if err := sqlx.GetContext(ctx, q, dev, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get developer: %w", translateError(err))
	}
	return dev, nil
}

// UsernameTaken reports whether username is in use within the portal.
func (r *DeveloperRepository) UsernameTaken(ctx context.Context, portalID, username string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM developers WHERE portal_id = $1 AND username = $2)`,
		portalID, username)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return exists, nil
}

// UpdatePassword replaces the password hash of a developer.
func (r *DeveloperRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE developers SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update developer password: %w", err)
	}
	return expectAffected(res.RowsAffected())
}

// UpdateStatus changes the approval state of a developer.
func (r *DeveloperRepository) UpdateStatus(ctx context.Context, id string, status models.DeveloperStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE developers SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update developer status: %w", err)
	}
	return expectAffected(res.RowsAffected())
}

func expectAffected(n int64, err error) error {
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
