package commands

import (
	"github.com/spf13/cobra"

	"github.com/pakmux/pakmux/pkg/action"
)

func newRemoveCommand() *cobra.Command {
	var (
		backendName string
		assumeYes   bool
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "remove <package>...",
		Short: "Remove installed packages",
		Long: `Remove one or more packages through the backend that owns them. The
removal is journaled with enough detail to reinstall the same version
on rollback, as far as the backend still carries it.`,
		Example: `  # Remove a package
  pakmux remove ripgrep

  # Remove several packages in one transaction
  pakmux remove ripgrep jq`,
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
				Kind:    action.KindRemove,
				Targets: targets,
				Options: action.Options{
					AssumeYes: assumeYes,
					DryRun:    dryRun,
					Backend:   backendName,
				},
			})
		},
	}

	cmd.Flags().StringVarP(&backendName, "backend", "b", "", "use only this backend")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would happen without doing it")

	return cmd
}
