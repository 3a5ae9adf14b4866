package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benvon/portal-identity/internal/models"
)

// PortalRepository stores per-portal identity settings as JSONB
type PortalRepository struct {
	db *DB
}

// NewPortalRepository creates a new portal repository
func NewPortalRepository(db *DB) *PortalRepository {
	return &PortalRepository{db: db}
}

type portalRow struct {
	ID        string    `db:"id"`
	Settings  []byte    `db:"settings"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row *portalRow) decode() (*models.PortalSettings, error) {
	s := &models.PortalSettings{}
	if len(row.Settings) > 0 {
		if err := json.Unmarshal(row.Settings, s); err != nil {
			return nil, fmt.Errorf("failed to decode settings of portal %s: %w", row.ID, err)
		}
	}
	s.PortalID = row.ID
	s.UpdatedAt = row.UpdatedAt
	return s, nil
}

// Get returns the settings of a portal. A missing portal yields ErrNotFound.
func (r *PortalRepository) Get(ctx context.Context, portalID string) (*models.PortalSettings, error) {
	var row portalRow
	err := r.db.GetContext(ctx, &row, `SELECT id, settings, updated_at FROM portals WHERE id = $1`, portalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get portal settings: %w", translateError(err))
	}
	return row.decode()
}

// List returns the settings of every portal ordered by id.
func (r *PortalRepository) List(ctx context.Context) ([]*models.PortalSettings, error) {
	var rows []portalRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, settings, updated_at FROM portals ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list portals: %w", err)
	}
	out := make([]*models.PortalSettings, 0, len(rows))
	for i := range rows {
		s, err := rows[i].decode()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ResolveDomain returns the id of the portal served on domain. Domains are
// stored normalized, so domain must be too. Unclaimed domains yield
// ErrNotFound; when several portals claim one the lowest id wins.
func (r *PortalRepository) ResolveDomain(ctx context.Context, domain string) (string, error) {
	var id string
	err := r.db.GetContext(ctx, &id, `
		SELECT id FROM portals
		WHERE settings->'domains' @> jsonb_build_array($1::text)
		ORDER BY id
		LIMIT 1
	`, domain)
	if err != nil {
		return "", fmt.Errorf("failed to resolve portal domain: %w", translateError(err))
	}
	return id, nil
}

// Upsert writes the settings of a portal and stamps UpdatedAt.
func (r *PortalRepository) Upsert(ctx context.Context, settings *models.PortalSettings) error {
	settings.NormalizeDomains()
	settings.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode portal settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO portals (id, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO UPDATE SET settings = EXCLUDED.settings, updated_at = EXCLUDED.updated_at
	`, settings.PortalID, string(raw), settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert portal settings: %w", err)
	}
	return nil
}

// GetOrEmpty returns stored settings, or empty settings for an unknown portal.
func (r *PortalRepository) GetOrEmpty(ctx context.Context, portalID string) (*models.PortalSettings, error) {
	s, err := r.Get(ctx, portalID)
	if err == nil {
		return s, nil
	}
	if IsNotFound(err) {
		return &models.PortalSettings{PortalID: portalID}, nil
	}
	return nil, err
}

// PutOIDC inserts or replaces the OIDC config with the same provider key.
func (r *PortalRepository) PutOIDC(ctx context.Context, portalID string, cfg models.OIDCConfig) error {
	s, err := r.GetOrEmpty(ctx, portalID)
	if err != nil {
		return err
	}
	if existing := s.FindOIDC(cfg.Provider); existing != nil {
		*existing = cfg
	} else {
		s.OIDCConfigs = append(s.OIDCConfigs, cfg)
	}
	return r.Upsert(ctx, s)
}

// PutOAuth2 inserts or replaces the OAuth2 config with the same provider key and grant.
func (r *PortalRepository) PutOAuth2(ctx context.Context, portalID string, cfg models.OAuth2Config) error {
	s, err := r.GetOrEmpty(ctx, portalID)
	if err != nil {
		return err
	}
	if existing := s.FindOAuth2(cfg.Provider, cfg.GrantType); existing != nil {
		*existing = cfg
	} else {
		s.OAuth2Configs = append(s.OAuth2Configs, cfg)
	}
	return r.Upsert(ctx, s)
}

// DeleteProvider removes every OIDC and OAuth2 config using the provider key.
func (r *PortalRepository) DeleteProvider(ctx context.Context, portalID, provider string) error {
	s, err := r.Get(ctx, portalID)
	if err != nil {
		return err
	}
	removed := false
	oidc := s.OIDCConfigs[:0]
	for _, c := range s.OIDCConfigs {
		if c.Provider == provider {
			removed = true
			continue
		}
		oidc = append(oidc, c)
	}
	oauth2 := s.OAuth2Configs[:0]
	for _, c := range s.OAuth2Configs {
		if c.Provider == provider {
			removed = true
			continue
		}
		oauth2 = append(oauth2, c)
	}
	if !removed {
		return fmt.Errorf("provider %s: %w", provider, ErrNotFound)
	}
	s.OIDCConfigs, s.OAuth2Configs = oidc, oauth2
	return r.Upsert(ctx, s)
}
