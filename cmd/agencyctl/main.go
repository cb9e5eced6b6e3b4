package main

import (
	"fmt"
	"os"

	"github.com/agencyhq/backend/internal/logging"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "agencyctl",
		Short:         "Operator tasks for the agency backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			return logging.InitLogger(!verbose)
		},
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Development logging")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(purgeSessionsCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(confirmCommissionsCmd())
	rootCmd.AddCommand(seedCatalogCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
