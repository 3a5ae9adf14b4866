package commands

import (
	"context"
	"fmt"

	"github.com/benvon/portal-identity/internal/config"
	"github.com/benvon/portal-identity/internal/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewMigrateCmd creates the schema migration command
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, cfg *config.Config, db *database.DB) error {
				if err := database.Migrate(db, zap.NewNop()); err != nil {
					return fmt.Errorf("failed to run migrations: %w", err)
				}
				version, dirty, err := database.MigrationVersion(db)
				if err != nil {
					return fmt.Errorf("failed to read migration version: %w", err)
				}
				fmt.Printf("Schema at version %d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	}
}
