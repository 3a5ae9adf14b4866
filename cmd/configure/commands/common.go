package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/benvon/portal-identity/internal/config"
	"github.com/benvon/portal-identity/internal/database"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/benvon/portal-identity/internal/services/bearer"
	"github.com/benvon/portal-identity/internal/services/oidc"
	"github.com/benvon/portal-identity/internal/settings"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const commandTimeout = 30 * time.Second

// withDB loads the configuration, opens the database and runs fn.
func withDB(fn func(ctx context.Context, cfg *config.Config, db *database.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return fn(ctx, cfg, db)
}

// newDiscoverer builds a provider resolver for one-off discovery checks.
func newDiscoverer(cfg *config.Config) *oidc.Provider {
	retry := oidc.RetryPolicy{MaxAttempts: cfg.OIDCMaxAttempts, Backoff: cfg.OIDCRetryBackoff}
	return oidc.NewProvider(settings.NewStaticSource(), oidc.NewHTTPClient(cfg.OIDCHTTPTimeout), retry, time.Minute, zap.NewNop())
}

// newValidator checks discovery and key sets the same way the server will
// use them.
func newValidator(discoverer *oidc.Provider) *settings.Validator {
	return &settings.Validator{
		Discover: func(ctx context.Context, issuer string) error {
			_, err := discoverer.Discover(ctx, issuer)
			return err
		},
		CompileKeys: func(cfg *models.OAuth2Config) error {
			_, err := bearer.CompileKeySet(cfg)
			return err
		},
	}
}

// saveValidated validates the portal with the change applied and stores it.
func saveValidated(ctx context.Context, cfg *config.Config, repo *database.PortalRepository, portalID string, apply func(*models.PortalSettings) error) error {
	current, err := repo.GetOrEmpty(ctx, portalID)
	if err != nil {
		return fmt.Errorf("failed to load portal %s: %w", portalID, err)
	}
	if err := apply(current); err != nil {
		return err
	}
	if err := newValidator(newDiscoverer(cfg)).Validate(ctx, current); err != nil {
		return err
	}
	if err := repo.Upsert(ctx, current); err != nil {
		return fmt.Errorf("failed to save portal %s: %w", portalID, err)
	}
	return nil
}

func addPortalFlag(cmd *cobra.Command, portalID *string) {
	cmd.Flags().StringVar(portalID, "portal", "", "Portal ID (defaults to DEFAULT_PORTAL_ID)")
}

func resolvePortal(cfg *config.Config, portalID string) string {
	if portalID != "" {
		return portalID
	}
	return cfg.DefaultPortalID
}
