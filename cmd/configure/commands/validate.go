package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/benvon/portal-identity/internal/config"
	"github.com/benvon/portal-identity/internal/settings"
	"github.com/spf13/cobra"
)

// NewValidateFileCmd checks a portal settings file before it is deployed
func NewValidateFileCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "validate-file <path>",
		Short: "Validate a portal settings file",
		Long:  "Parse a YAML portal settings file and check every provider. Discovery documents are fetched unless --offline is set.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0]) // #nosec G304 -- operator supplied path
			if err != nil {
				return fmt.Errorf("failed to read settings file: %w", err)
			}
			portals, err := settings.ParseFile(data)
			if err != nil {
				return err
			}

			var validator *settings.Validator
			if offline {
				validator = newValidator(nil)
				validator.Discover = nil
			} else {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				validator = newValidator(newDiscoverer(cfg))
			}

			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			for _, p := range portals {
				if err := validator.Validate(ctx, p); err != nil {
					return fmt.Errorf("portal %s: %w", p.PortalID, err)
				}
				printPortal(os.Stdout, p)
			}
			fmt.Printf("%d portal(s) valid\n", len(portals))
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip discovery requests")
	return cmd
}
