package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/backend"
)

func newSearchCommand() *cobra.Command {
	var backendName string

	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search every backend's catalog",
		Long: `Search all available backends for a term, in parallel, and merge the
results in backend priority order. A backend that fails or times out is
reported on stderr without hiding the others' results.`,
		Example: `  # Search every backend
  pakmux search ripgrep

  # Search one backend only
  pakmux search ripgrep --backend apt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			term := args[0]
			act := action.Action{
				Kind:    action.KindSearch,
				Targets: []action.Target{{Name: term}},
				Options: action.Options{Backend: backendName},
			}
			return runQuery(cmd.Context(), app, act, func(w io.Writer, queries []backend.QueryResult) {
				packages := backend.MergePackages(queries)
				if len(packages) == 0 {
					fmt.Fprintf(w, "nothing found for %q\n", term)
					return
				}
				renderPackages(w, packages, false)
			})
		},
	}

	cmd.Flags().StringVarP(&backendName, "backend", "b", "", "search only this backend")

	return cmd
}
