package main

import (
	"fmt"
	"os"

	"github.com/benvon/portal-identity/cmd/configure/commands"
	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "portal-identity-configure",
		Short: "Configuration tool for the portal identity service",
		Long:  "CLI tool for configuring portal identity providers, JWT-Bearer partners and administrators",
	}

	rootCmd.AddCommand(commands.NewMigrateCmd())
	rootCmd.AddCommand(commands.NewOIDCCmd())
	rootCmd.AddCommand(commands.NewJWTBearerCmd())
	rootCmd.AddCommand(commands.NewRemoveCmd())
	rootCmd.AddCommand(commands.NewDomainCmd())
	rootCmd.AddCommand(commands.NewListCmd())
	rootCmd.AddCommand(commands.NewTestCmd())
	rootCmd.AddCommand(commands.NewInitAdminCmd())
	rootCmd.AddCommand(commands.NewValidateFileCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
