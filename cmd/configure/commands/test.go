package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/portal-identity/internal/config"
	"github.com/benvon/portal-identity/internal/database"
	"github.com/benvon/portal-identity/internal/services/oidc"
	"github.com/benvon/portal-identity/internal/settings"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewTestCmd creates the test command
func NewTestCmd() *cobra.Command {
	var portalID, provider string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test OIDC configuration",
		Long:  "Resolve the endpoints of a stored OIDC provider and fetch its signing keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider == "" {
				return fmt.Errorf("--provider is required")
			}

			return withDB(func(ctx context.Context, cfg *config.Config, db *database.DB) error {
				id := resolvePortal(cfg, portalID)
				retry := oidc.RetryPolicy{MaxAttempts: cfg.OIDCMaxAttempts, Backoff: cfg.OIDCRetryBackoff}
				client := oidc.NewHTTPClient(cfg.OIDCHTTPTimeout)
				resolver := oidc.NewProvider(
					settings.NewDatabaseSource(database.NewPortalRepository(db)),
					client, retry, time.Minute, zap.NewNop(),
				)

				oidcCfg, err := resolver.GetConfig(ctx, id, provider)
				if err != nil {
					return fmt.Errorf("failed to get OIDC config: %w", err)
				}
				fmt.Printf("Testing OIDC configuration for provider %s in portal %s\n", provider, id)

				endpoints, err := resolver.ResolveEndpoints(ctx, &oidcCfg.AuthCodeConfig)
				if err != nil {
					return fmt.Errorf("failed to resolve endpoints: %w", err)
				}
				fmt.Printf("  Authorization: %s\n", endpoints.AuthorizationEndpoint)
				fmt.Printf("  Token:         %s\n", endpoints.TokenEndpoint)
				fmt.Printf("  Userinfo:      %s\n", endpoints.UserInfoEndpoint)

				if endpoints.JWKSURI == "" {
					fmt.Println("  JWKS:          not configured, ID tokens are checked for expiry only")
					return nil
				}
				keys, err := oidc.NewJWKSManager(client, retry, time.Minute, zap.NewNop()).GetJWKS(ctx, endpoints.JWKSURI)
				if err != nil {
					return fmt.Errorf("failed to fetch JWKS: %w", err)
				}
				fmt.Printf("  JWKS:          %s (%d keys)\n", endpoints.JWKSURI, keys.Len())
				fmt.Println("\nOIDC configuration looks valid")
				return nil
			})
		},
	}

	addPortalFlag(cmd, &portalID)
	cmd.Flags().StringVar(&provider, "provider", "", "Provider key to test")
	return cmd
}
