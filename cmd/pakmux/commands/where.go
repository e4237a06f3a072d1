package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/backend"
	"github.com/pakmux/pakmux/pkg/dispatch"
	"github.com/pakmux/pakmux/pkg/version"
)

func newWhereCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "where <command-or-package>",
		Short: "Show what would run, or which backend provides a package",
		Long: `For an interposed language command (python, npm, cargo, ...), explain
the dispatch decision: which toolchain version would run from the
current directory and which precedence level selected it. For anything
else, ask the backends which one provides the package and where its
files live.`,
		Example: `  # Which python would run here, and why
  pakmux where python

  # Which backend provides ripgrep
  pakmux where ripgrep`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			name := args[0]
			if inv, ok := dispatch.Detect([]string{name}); ok {
				return whereDispatch(cmd.Context(), app, inv)
			}

			act := action.Action{
				Kind:    action.KindWhere,
				Targets: []action.Target{{Name: name}},
			}
			return runQuery(cmd.Context(), app, act, func(w io.Writer, queries []backend.QueryResult) {
				packages := backend.MergePackages(queries)
				if len(packages) == 0 {
					fmt.Fprintf(w, "no backend provides %q\n", name)
					return
				}
				renderPackages(w, packages, true)
			})
		},
	}

	return cmd
}

// whereDispatch explains the dispatch decision for one interposed
// command without executing anything.
func whereDispatch(ctx context.Context, a *app, inv *dispatch.Invocation) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to read working directory: %w", err)
	}

	res, err := a.resolver.Resolve(ctx, version.ResolutionContext{
		Language:   inv.Language,
		Binary:     inv.Command,
		WorkingDir: cwd,
		Environ:    envMap(os.Environ()),
	})
	if err != nil {
		// The dispatcher would fall back to the system binary here.
		res = &version.Resolution{
			Language: inv.Language,
			Version:  "system",
			Source:   version.SourceSystemBinary,
		}
	}

	exe := ""
	if res.Version == "system" {
		exe, _ = exec.LookPath(inv.Command)
	} else {
		exe = filepath.Join(res.Path, "bin", dispatch.BinaryName(inv.Command))
	}

	if jsonOutput {
		return printJSON(struct {
			Command     string `json:"command"`
			Language    string `json:"language"`
			Version     string `json:"version"`
			Source      string `json:"source"`
			Requirement string `json:"requirement,omitempty"`
			Executable  string `json:"executable,omitempty"`
		}{inv.Command, res.Language, res.Version, string(res.Source), res.Requirement, exe})
	}

	fmt.Printf("%s resolves to %s\n", inv.Command, res.Describe())
	if exe != "" {
		fmt.Printf("  would run %s\n", exe)
	} else {
		fmt.Printf("  nothing to run: %s is not on PATH\n", inv.Command)
	}
	return nil
}

// envMap converts environ entries to the lookup map the resolver reads.
func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, entry := range environ {
		if key, value, ok := strings.Cut(entry, "="); ok {
			m[key] = value
		}
	}
	return m
}
