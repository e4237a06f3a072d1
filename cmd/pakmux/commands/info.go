package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/backend"
)

func newInfoCommand() *cobra.Command {
	var backendName string

	cmd := &cobra.Command{
		Use:   "info <package>",
		Short: "Show details for a package",
		Long: `Show what each backend knows about a package: version, install state,
and description. Backends that do not know the package are omitted.`,
		Example: `  pakmux info ripgrep
  pakmux info ripgrep --backend apt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			name := args[0]
			act := action.Action{
				Kind:    action.KindInfo,
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
					fmt.Fprintf(w, "%s %s (%s)\n", pkg.Name, pkg.Version, pkg.Backend)
					state := "no"
					if pkg.Installed {
						state = "yes"
					}
					fmt.Fprintf(w, "  installed: %s\n", state)
					if pkg.Description != "" {
						fmt.Fprintf(w, "  %s\n", pkg.Description)
					}
				}
			})
		},
	}

	cmd.Flags().StringVarP(&backendName, "backend", "b", "", "ask only this backend")

	return cmd
}
