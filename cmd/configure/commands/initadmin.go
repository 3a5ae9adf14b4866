package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/benvon/portal-identity/internal/config"
	"github.com/benvon/portal-identity/internal/database"
	"github.com/benvon/portal-identity/internal/services/account"
	"github.com/spf13/cobra"
)

// adminPasswordEnv lets scripts avoid passing the password on the command line.
const adminPasswordEnv = "PORTAL_ADMIN_PASSWORD"

// NewInitAdminCmd creates the first administrator of a portal
func NewInitAdminCmd() *cobra.Command {
	var portalID, username, password string

	cmd := &cobra.Command{
		Use:   "init-admin",
		Short: "Create the first administrator of a portal",
		Long: "Create the first administrator of a portal. Fails once the portal has an administrator. " +
			"The password is read from --password or " + adminPasswordEnv + ".",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv(adminPasswordEnv)
			}
			if username == "" || password == "" {
				return fmt.Errorf("required: --username and --password (or %s)", adminPasswordEnv)
			}

			return withDB(func(ctx context.Context, cfg *config.Config, db *database.DB) error {
				id := resolvePortal(cfg, portalID)
				accounts := account.NewService(
					database.NewDeveloperRepository(db),
					database.NewAdministratorRepository(db),
					nil, nil, nil, nil,
				)
				admin, err := accounts.InitAdmin(ctx, id, account.RegisterRequest{
					Username: username,
					Password: password,
				})
				if err != nil {
					return fmt.Errorf("failed to create administrator: %w", err)
				}
				fmt.Printf("Created administrator %s (%s) for portal %s\n", username, admin.ID, id)
				return nil
			})
		},
	}

	addPortalFlag(cmd, &portalID)
	cmd.Flags().StringVar(&username, "username", "", "Administrator username")
	cmd.Flags().StringVar(&password, "password", "", "Administrator password")
	return cmd
}
