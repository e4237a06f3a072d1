package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/backend"
)

func newListCommand() *cobra.Command {
	var backendName string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages across all backends",
		Example: `  # Everything every backend has installed
  pakmux list

  # One backend only
  pakmux list --backend brew`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			act := action.Action{
				Kind:    action.KindList,
				Options: action.Options{Backend: backendName},
			}
			return runQuery(cmd.Context(), app, act, func(w io.Writer, queries []backend.QueryResult) {
				packages := backend.MergePackages(queries)
				if len(packages) == 0 {
					fmt.Fprintln(w, "no packages installed")
					return
				}
				renderPackages(w, packages, false)
				fmt.Fprintf(w, "%d packages\n", len(packages))
			})
		},
	}

	cmd.Flags().StringVarP(&backendName, "backend", "b", "", "list only this backend")

	return cmd
}
