package database

import (
	"context"
	"fmt"

	"github.com/benvon/portal-identity/internal/models"
	"github.com/jmoiron/sqlx"
)

const identityColumns = `id, portal_id, provider, subject, display_name, raw_profile, developer_id, created_at`

// UnbindGuard inspects a locked developer and its identities before an
// identity is removed. A non-nil error aborts the removal.
type UnbindGuard func(dev *models.Developer, identities []*models.ExternalIdentity) error

// IdentityRepository handles external identity bindings
type IdentityRepository struct {
	db *DB
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(db *DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// FindIdentity returns the binding of (portal, provider, subject).
func (r *IdentityRepository) FindIdentity(ctx context.Context, portalID, provider, subject string) (*models.ExternalIdentity, error) {
	ident := &models.ExternalIdentity{}
	err := r.db.GetContext(ctx, ident, `
		SELECT `+identityColumns+`
		FROM developer_external_identities
		WHERE portal_id = $1 AND provider = $2 AND subject = $3
	`, portalID, provider, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", translateError(err))
	}
	return ident, nil
}

// GetDeveloper retrieves the developer that owns identities.
func (r *IdentityRepository) GetDeveloper(ctx context.Context, developerID string) (*models.Developer, error) {
	return getDeveloper(ctx, r.db, `SELECT `+developerColumns+` FROM developers WHERE id = $1`, developerID)
}

// UsernameTaken reports whether username is in use within the portal.
func (r *IdentityRepository) UsernameTaken(ctx context.Context, portalID, username string) (bool, error) {
	return NewDeveloperRepository(r.db).UsernameTaken(ctx, portalID, username)
}

// ListIdentities returns all bindings of a developer, oldest first.
func (r *IdentityRepository) ListIdentities(ctx context.Context, developerID string) ([]*models.ExternalIdentity, error) {
	return listIdentities(ctx, r.db, developerID)
}

func listIdentities(ctx context.Context, q sqlx.QueryerContext, developerID string) ([]*models.ExternalIdentity, error) {
	var out []*models.ExternalIdentity
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT `+identityColumns+`
		FROM developer_external_identities
		WHERE developer_id = $1
		ORDER BY created_at, id
	`, developerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	return out, nil
}

// CreateIdentity inserts a binding. An existing (portal, provider, subject) yields ErrDuplicate.
func (r *IdentityRepository) CreateIdentity(ctx context.Context, ident *models.ExternalIdentity) error {
	return insertIdentity(ctx, r.db, ident)
}

func insertIdentity(ctx context.Context, ext sqlx.ExtContext, ident *models.ExternalIdentity) error {
	if len(ident.RawProfile) == 0 {
		ident.RawProfile = []byte(`{}`)
	}
	query := `
		INSERT INTO developer_external_identities (` + identityColumns + `)
		VALUES (:id, :portal_id, :provider, :subject, :display_name, :raw_profile, :developer_id, :created_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, ident); err != nil {
		return fmt.Errorf("failed to create identity: %w", translateError(err))
	}
	return nil
}

// CreateDeveloperWithIdentity inserts a developer and its first binding atomically.
func (r *IdentityRepository) CreateDeveloperWithIdentity(ctx context.Context, dev *models.Developer, ident *models.ExternalIdentity) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertDeveloper(ctx, tx, dev); err != nil {
			return err
		}
		ident.DeveloperID = dev.ID
		return insertIdentity(ctx, tx, ident)
	})
}

// DeleteIdentity removes one binding while holding a lock on the developer
// row, so concurrent unbinds of the same developer are serialized.
func (r *IdentityRepository) DeleteIdentity(ctx context.Context, developerID, provider, subject string, guard UnbindGuard) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		dev, err := getDeveloper(ctx, tx, `SELECT `+developerColumns+` FROM developers WHERE id = $1 FOR UPDATE`, developerID)
		if err != nil {
			return err
		}
		identities, err := listIdentities(ctx, tx, developerID)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(dev, identities); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `
			DELETE FROM developer_external_identities
			WHERE developer_id = $1 AND provider = $2 AND subject = $3
		`, developerID, provider, subject)
		if err != nil {
			return fmt.Errorf("failed to delete identity: %w", err)
		}
		return expectAffected(res.RowsAffected())
	})
}

// DeleteDeveloper removes a developer's identities and then the developer.
func (r *IdentityRepository) DeleteDeveloper(ctx context.Context, developerID string) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM developer_external_identities WHERE developer_id = $1`, developerID); err != nil {
			return fmt.Errorf("failed to delete developer identities: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM developers WHERE id = $1`, developerID)
		if err != nil {
			return fmt.Errorf("failed to delete developer: %w", err)
		}
		return expectAffected(res.RowsAffected())
	})
}
