package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/benvon/portal-identity/internal/config"
	"github.com/benvon/portal-identity/internal/database"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	var portalID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured providers",
		Long:  "List the OIDC and JWT-Bearer providers of every portal, or of --portal only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, cfg *config.Config, db *database.DB) error {
				repo := database.NewPortalRepository(db)

				var portals []*models.PortalSettings
				if portalID != "" {
					p, err := repo.Get(ctx, portalID)
					if err != nil {
						return fmt.Errorf("failed to load portal %s: %w", portalID, err)
					}
					portals = append(portals, p)
				} else {
					all, err := repo.List(ctx)
					if err != nil {
						return fmt.Errorf("failed to list portals: %w", err)
					}
					portals = all
				}

				if len(portals) == 0 {
					fmt.Println("No portals configured")
					return nil
				}
				for _, p := range portals {
					printPortal(os.Stdout, p)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&portalID, "portal", "", "Only show this portal")
	return cmd
}

// printPortal writes a human readable summary. Client secrets and key
// material are never printed.
func printPortal(w io.Writer, p *models.PortalSettings) {
	_, _ = fmt.Fprintf(w, "Portal: %s (auto approve: %t)\n", p.PortalID, p.AutoApproveDevelopers)
	if len(p.Domains) > 0 {
		_, _ = fmt.Fprintf(w, "  Domains: %s\n", strings.Join(p.Domains, ", "))
	}
	if len(p.OIDCConfigs) == 0 && len(p.OAuth2Configs) == 0 {
		_, _ = fmt.Fprintln(w, "  No providers configured")
	}
	for _, c := range p.OIDCConfigs {
		_, _ = fmt.Fprintf(w, "  - OIDC %s (%s) enabled=%t\n", c.Provider, c.Name, c.Enabled)
		ac := c.AuthCodeConfig
		if ac.Issuer != "" {
			_, _ = fmt.Fprintf(w, "    Issuer: %s\n", ac.Issuer)
		}
		if ac.AuthorizationEndpoint != "" {
			_, _ = fmt.Fprintf(w, "    Authorization: %s\n", ac.AuthorizationEndpoint)
		}
		_, _ = fmt.Fprintf(w, "    Client ID: %s\n", ac.ClientID)
		_, _ = fmt.Fprintf(w, "    Scopes: %s\n", ac.Scopes)
		if ac.RedirectURI != "" {
			_, _ = fmt.Fprintf(w, "    Redirect URI: %s\n", ac.RedirectURI)
		}
	}
	for _, c := range p.OAuth2Configs {
		_, _ = fmt.Fprintf(w, "  - %s %s (%s) enabled=%t\n", c.GrantType, c.Provider, c.Name, c.Enabled)
		if c.JWTBearerConfig == nil {
			continue
		}
		for _, k := range c.JWTBearerConfig.PublicKeys {
			_, _ = fmt.Fprintf(w, "    Key %s: %s %s\n", k.Kid, k.Format, k.Algorithm)
		}
	}
	_, _ = fmt.Fprintln(w)
}
