package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pakmux/pakmux/pkg/engine"
	"github.com/pakmux/pakmux/pkg/profile"
)

func newProfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Export and import the managed toolchain set",
		Long: `A profile is a YAML snapshot of the toolchains pakmux manages:
languages, versions, scopes, and which version is the default. Export
one on a configured machine, import it on a fresh one.`,
	}

	cmd.AddCommand(newProfileExportCommand())
	cmd.AddCommand(newProfileImportCommand())

	return cmd
}

func newProfileExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write the installed toolchain set to a profile",
		Example: `  # To a file
  pakmux profile export dev.yaml

  # To stdout
  pakmux profile export -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := cmd.Context()

			exporter := profile.NewExporter(app.store, app.tel.Logger)
			path := args[0]

			if path == "-" {
				prof, err := exporter.Snapshot(ctx)
				if err != nil {
					return err
				}
				data, err := yaml.Marshal(prof)
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(data)
				return err
			}

			prof, err := exporter.Export(ctx, path)
			if err != nil {
				return err
			}
			fmt.Printf("exported %d toolchains to %s\n", len(prof.Languages), path)
			return nil
		},
	}

	return cmd
}

func newProfileImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Install everything a profile names",
		Long: `Install the toolchains a profile names and set its default markers.
Already-installed versions are skipped, so importing twice is safe.

The whole import is one transaction: if an install fails partway,
everything the import already did is rolled back.`,
		Example: `  pakmux profile import dev.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, err := profile.Load(args[0])
			if err != nil {
				return err
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			app.renderEvents()
			ctx := cmd.Context()

			importer := profile.NewImporter(app.installer, app.tel)
			op := fmt.Sprintf("profile import %s", filepath.Base(args[0]))

			var report *profile.Report
			err = transact(ctx, app, op, func(ctx context.Context, tx *engine.Tx) error {
				r, err := importer.Apply(ctx, tx, prof)
				report = r
				return err
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(report)
			}
			fmt.Printf("installed %d, already present %d\n", len(report.Installed), len(report.Skipped))
			for _, def := range report.Defaults {
				fmt.Printf("default: %s\n", def)
			}
			return nil
		},
	}

	return cmd
}
