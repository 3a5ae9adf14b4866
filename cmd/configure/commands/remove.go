package commands

import (
	"context"
	"fmt"

	"github.com/benvon/portal-identity/internal/config"
	"github.com/benvon/portal-identity/internal/database"
	"github.com/spf13/cobra"
)

// NewRemoveCmd creates the provider removal command
func NewRemoveCmd() *cobra.Command {
	var portalID string

	cmd := &cobra.Command{
		Use:   "remove <provider>",
		Short: "Remove a provider from a portal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, cfg *config.Config, db *database.DB) error {
				id := resolvePortal(cfg, portalID)
				if err := database.NewPortalRepository(db).DeleteProvider(ctx, id, args[0]); err != nil {
					if database.IsNotFound(err) {
						return fmt.Errorf("provider %s is not configured for portal %s", args[0], id)
					}
					return fmt.Errorf("failed to remove provider: %w", err)
				}
				fmt.Printf("Removed provider %s from portal %s\n", args[0], id)
				return nil
			})
		},
	}
	addPortalFlag(cmd, &portalID)
	return cmd
}
