package commands

import (
	"github.com/spf13/cobra"

	"github.com/pakmux/pakmux/pkg/action"
)

func newUpdateCommand() *cobra.Command {
	var (
		backendName string
		assumeYes   bool
		dryRun      bool
		refresh     bool
	)

	cmd := &cobra.Command{
		Use:   "update [package...]",
		Short: "Update packages, or everything when none are named",
		Long: `Update the named packages, or every installed package when no names
are given. A bare update goes to the highest-priority backend that
accepts it; pass --backend to update a different one. Named updates
are routed like installs.`,
		Example: `  # Update everything on every backend
  pakmux update

  # Update specific packages
  pakmux update ripgrep jq

  # Refresh metadata, then update one backend only
  pakmux update --refresh --backend apt`,
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
				Kind:    action.KindUpdate,
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
