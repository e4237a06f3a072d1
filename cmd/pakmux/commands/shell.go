package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pakmux/pakmux/pkg/dispatch"
)

func newShellCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Manage the interposition links",
		Long: `Interposition works through symlinks: python, npm, cargo, and friends
point at the pakmux binary in a directory early on PATH. When invoked
through one, pakmux resolves the right toolchain version and executes
it; the command behaves as itself in every other way.`,
	}

	cmd.AddCommand(newShellLinkCommand())
	cmd.AddCommand(newShellUnlinkCommand())

	return cmd
}

func newShellLinkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link [language...]",
		Short: "Create interposition links for languages",
		Long: `Create the symlinks that interpose language commands, for the named
languages or all of them. A name already taken by a foreign file is
reported and left alone.`,
		Example: `  # Interpose every managed language
  pakmux shell link

  # Just python and node
  pakmux shell link python node`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			linker, err := newLinker(app)
			if err != nil {
				return err
			}
			results, err := linker.Link(args...)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(results)
			}
			renderLinks(results)
			warnIfOffPath(app.cfg.BinDir)
			return nil
		},
	}

	return cmd
}

func newShellUnlinkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlink [language...]",
		Short: "Remove interposition links",
		Long: `Remove the interposition symlinks for the named languages, or all of
them. Only links pointing at pakmux are touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			linker, err := newLinker(app)
			if err != nil {
				return err
			}
			results, err := linker.Unlink(args...)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(results)
			}
			renderLinks(results)
			return nil
		},
	}

	return cmd
}

// newLinker builds a linker targeting the running pakmux executable,
// resolved through any symlink it was itself started as.
func newLinker(a *app) (*dispatch.Linker, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate the pakmux executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(self); err == nil {
		self = resolved
	}
	return dispatch.NewLinker(a.cfg.BinDir, self, a.tel.Logger), nil
}

func renderLinks(results []dispatch.LinkResult) {
	tw := newTable(os.Stdout)
	for _, res := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", res.Command, res.Status, res.Path)
	}
	tw.Flush()
}

// warnIfOffPath points out a bin directory the shell will not search.
func warnIfOffPath(binDir string) {
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if dir == binDir {
			return
		}
	}
	fmt.Fprintf(os.Stderr, "note: %s is not on PATH; add it before the system directories\n", binDir)
}
