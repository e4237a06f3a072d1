package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// buildVersion is stamped into telemetry as the service version.
var buildVersion = "dev"

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pakmux",
		Short: "Pakmux - one front end for every package manager",
		Long: `Pakmux unifies the package managers installed on this machine behind a
single command set. Operations are expressed once (install, remove,
update, search) and routed to apt, dnf, pacman, homebrew, winget,
chocolatey, or scoop in platform priority order.

Every mutating operation runs inside a journaled transaction: if one
package in a batch fails, everything already applied is rolled back,
and a crash mid-operation is recovered on the next run.

Pakmux also manages language toolchains (python, node, go, ...) with
per-project version resolution through pin files and manifests.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newRemoveCommand())
	rootCmd.AddCommand(newUpdateCommand())
	rootCmd.AddCommand(newSearchCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newInfoCommand())
	rootCmd.AddCommand(newWhatisCommand())
	rootCmd.AddCommand(newWhereCommand())
	rootCmd.AddCommand(newLangCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newRollbackCommand())
	rootCmd.AddCommand(newProfileCommand())
	rootCmd.AddCommand(newCacheCommand())
	rootCmd.AddCommand(newDoctorCommand())
	rootCmd.AddCommand(newShellCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
