package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/backend"
)

func newWhatisCommand() *cobra.Command {
	var backendName string

	cmd := &cobra.Command{
		Use:     "whatis <package>",
		Short:   "Show the one-line description of a package",
		Example: "  pakmux whatis ripgrep",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			name := args[0]
			act := action.Action{
				Kind:    action.KindWhatIs,
				Targets: []action.Target{{Name: name}},
				Options: action.Options{Backend: backendName},
			}
			return runQuery(cmd.Context(), app, act, func(w io.Writer, queries []backend.QueryResult) {
				packages := backend.MergePackages(queries)
				if len(packages) == 0 {
					fmt.Fprintf(w, "no backend knows %q\n", name)
					return
				}
				for _, pkg := range packages {
					fmt.Fprintf(w, "%s - %s\n", pkg.Name, pkg.Description)
				}
			})
		},
	}

	cmd.Flags().StringVarP(&backendName, "backend", "b", "", "ask only this backend")

	return cmd
}
