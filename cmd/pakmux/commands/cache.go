package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pakmux/pakmux/pkg/cache"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the download cache",
		Long: `Toolchain archives are kept after install so reinstalling a version
never downloads it twice. Entries are re-dated on every reuse, so
clean only removes what nothing has touched for a while.`,
	}

	cmd.AddCommand(newCacheReportCommand())
	cmd.AddCommand(newCacheCleanCommand())

	return cmd
}

func newCacheReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show cache size and entry count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.cache.Report()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(report)
			}
			fmt.Printf("%s: %s\n", app.cache.Dir(), report)
			return nil
		},
	}

	return cmd
}

func newCacheCleanCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove cache entries nothing has used recently",
		Example: `  # The default keeps anything used in the last 30 days
  pakmux cache clean

  # More aggressive
  pakmux cache clean --older-than 72h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.cache.Clean(olderThan)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(result)
			}
			fmt.Printf("removed %d files, freed %s\n", result.Removed, cache.FormatSize(result.Freed))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "remove entries unused for this long")

	return cmd
}
