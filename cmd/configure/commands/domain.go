package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/benvon/portal-identity/internal/config"
	"github.com/benvon/portal-identity/internal/database"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/spf13/cobra"
)

// NewDomainCmd creates the command that maps host names to a portal
func NewDomainCmd() *cobra.Command {
	var (
		portalID string
		add      []string
		remove   []string
	)

	cmd := &cobra.Command{
		Use:   "domain",
		Short: "Add or remove the host names a portal is served on",
		Long: `Requests without an X-Portal-ID header are routed to the portal whose
domains contain the request's Origin or Host. Unclaimed hosts use DEFAULT_PORTAL_ID.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(add) == 0 && len(remove) == 0 {
				return fmt.Errorf("nothing to do: pass --add or --remove")
			}
			return withDB(func(ctx context.Context, cfg *config.Config, db *database.DB) error {
				id := resolvePortal(cfg, portalID)
				var domains []string
				err := saveValidated(ctx, cfg, database.NewPortalRepository(db), id, func(s *models.PortalSettings) error {
					if err := editDomains(s, add, remove); err != nil {
						return err
					}
					domains = s.Domains
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Printf("Portal %s domains: %s\n", id, strings.Join(domains, ", "))
				return nil
			})
		},
	}

	addPortalFlag(cmd, &portalID)
	cmd.Flags().StringSliceVar(&add, "add", nil, "Host names to add")
	cmd.Flags().StringSliceVar(&remove, "remove", nil, "Host names to remove")
	return cmd
}

// editDomains applies additions then removals. Removing a domain the portal
// does not have is an error.
func editDomains(s *models.PortalSettings, add, remove []string) error {
	s.NormalizeDomains()
	for _, d := range remove {
		d = models.NormalizeDomain(d)
		kept := s.Domains[:0:0]
		for _, existing := range s.Domains {
			if existing != d {
				kept = append(kept, existing)
			}
		}
		if len(kept) == len(s.Domains) {
			return fmt.Errorf("portal %s is not served on %s", s.PortalID, d)
		}
		s.Domains = kept
	}
	s.Domains = append(s.Domains, add...)
	s.NormalizeDomains()
	return nil
}
