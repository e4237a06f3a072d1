package commands

import (
	"github.com/spf13/cobra"

	"github.com/pakmux/pakmux/pkg/action"
)

func newInstallCommand() *cobra.Command {
	var (
		backendName string
		assumeYes   bool
		dryRun      bool
		refresh     bool
	)

	cmd := &cobra.Command{
		Use:   "install <package>[@version]...",
		Short: "Install packages through the best available backend",
		Long: `Install one or more packages. Each package walks the platform's
backends in priority order; the first backend that knows it wins. A
version constraint after '@' is honored by backends that support
pinning and rejected by those that do not.

The whole command runs as one journaled transaction: if any package
fails, packages already installed in the same run are rolled back.`,
		Example: `  # Install a single package
  pakmux install ripgrep

  # Install several packages in one transaction
  pakmux install ripgrep jq fzf

  # Pin a version on backends that support it
  pakmux install ripgrep@14.1.0

  # Force a specific backend
  pakmux install ripgrep --backend brew`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := action.ParseTargets(args)
			if err != nil {
				return err
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			app.renderEvents()

			return runMutating(cmd.Context(), app, action.Action{
				Kind:    action.KindInstall,
				Targets: targets,
				Options: action.Options{
					AssumeYes: assumeYes,
					DryRun:    dryRun,
					Refresh:   refresh,
					Backend:   backendName,
				},
			})
		},
	}

	cmd.Flags().StringVarP(&backendName, "backend", "b", "", "use only this backend")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would happen without doing it")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "refresh backend metadata first")

	return cmd
}
