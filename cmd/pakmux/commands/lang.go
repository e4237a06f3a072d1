package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pakmux/pakmux/pkg/engine"
	"github.com/pakmux/pakmux/pkg/version"
)

func newLangCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lang",
		Short: "Manage language toolchain versions",
		Long: fmt.Sprintf(`Install, remove, and select language toolchain versions. Managed
languages: %s.

Interposed commands (python, npm, go, ...) pick their version per
project through pin files and manifests; see pakmux shell link.`,
			strings.Join(version.KnownLanguages(), ", ")),
	}

	cmd.AddCommand(newLangListCommand())
	cmd.AddCommand(newLangInstallCommand())
	cmd.AddCommand(newLangUninstallCommand())
	cmd.AddCommand(newLangUseCommand())

	return cmd
}

func newLangListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [language]",
		Short: "List installed toolchain versions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := cmd.Context()

			language := ""
			if len(args) == 1 {
				language = args[0]
			}
			records, err := app.store.List(ctx, language)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(records)
			}
			if len(records) == 0 {
				if language != "" {
					fmt.Printf("no %s versions installed\n", language)
				} else {
					fmt.Println("no toolchains installed; try: pakmux lang install node 22.9.0")
				}
				return nil
			}

			defaults, err := collectDefaults(ctx, app, records)
			if err != nil {
				return err
			}

			tw := newTable(os.Stdout)
			fmt.Fprintln(tw, "LANGUAGE\tVERSION\tSCOPE\tDEFAULT\tINSTALLED")
			for _, rec := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					rec.Language, rec.Version, rec.Scope,
					strings.Join(defaults[rec.Language+"/"+rec.Version], ","),
					rec.InstalledAt.Local().Format("2006-01-02"))
			}
			return tw.Flush()
		},
	}

	return cmd
}

// collectDefaults maps each installed language/version to the scopes it
// is the default for.
func collectDefaults(ctx context.Context, a *app, records []*version.VersionRecord) (map[string][]string, error) {
	languages := make(map[string]bool)
	for _, rec := range records {
		languages[rec.Language] = true
	}

	defaults := make(map[string][]string)
	for lang := range languages {
		for _, scope := range []version.Scope{version.ScopeUser, version.ScopeSystem} {
			rec, err := a.store.Current(ctx, lang, scope)
			if err != nil {
				if errors.Is(err, version.ErrNotFound) {
					continue
				}
				return nil, err
			}
			key := rec.Language + "/" + rec.Version
			defaults[key] = append(defaults[key], string(scope))
		}
	}
	return defaults, nil
}

func newLangInstallCommand() *cobra.Command {
	var (
		scope      string
		archiveURL string
		setDefault bool
	)

	cmd := &cobra.Command{
		Use:   "install <language> <version>",
		Short: "Download and install a toolchain version",
		Long: `Download a language toolchain, extract it under the pakmux data
directory, and record it in the state database. node and go resolve
their archives from the official distribution sites; the other managed
languages need --url pointing at a binary archive that carries a bin
directory.

The download and extraction run inside a journaled transaction, so an
interrupted install leaves nothing behind.`,
		Example: `  # Install a node version for this user
  pakmux lang install node 22.9.0

  # Install and make it the user default in one go
  pakmux lang install go 1.23.2 --use

  # A language without a built-in distribution table
  pakmux lang install ruby 3.3.4 --url https://example.com/ruby-3.3.4-linux-x86_64.tar.gz`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := version.Scope(scope)
			if err := sc.Validate(); err != nil {
				return err
			}
			language, ver := args[0], args[1]

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			app.renderEvents()
			ctx := cmd.Context()

			if _, err := app.store.Get(ctx, language, ver); err == nil {
				if !setDefault {
					fmt.Printf("%s %s is already installed\n", language, ver)
					return nil
				}
				return setLangDefault(ctx, app, language, ver, sc)
			} else if !errors.Is(err, version.ErrNotFound) {
				return err
			}

			var rec *version.VersionRecord
			op := fmt.Sprintf("lang install %s %s", language, ver)
			err = transact(ctx, app, op, func(ctx context.Context, tx *engine.Tx) error {
				r, err := app.installer.Install(ctx, tx, version.InstallSpec{
					Language: language,
					Version:  ver,
					URL:      archiveURL,
					Scope:    sc,
				})
				if err != nil {
					return err
				}
				rec = r
				if setDefault {
					_, err = app.installer.Use(ctx, language, ver, sc)
					return err
				}
				return nil
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(rec)
			}
			fmt.Printf("installed %s %s to %s\n", language, ver, rec.InstallPath)
			if setDefault {
				fmt.Printf("%s %s is now the %s default\n", language, ver, sc)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "user", "install scope (user or system)")
	cmd.Flags().StringVar(&archiveURL, "url", "", "archive URL for languages without a distribution table")
	cmd.Flags().BoolVar(&setDefault, "use", false, "make it the default for its scope after installing")

	return cmd
}

func newLangUninstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uninstall <language> <version>",
		Short: "Remove an installed toolchain version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			language, ver := args[0], args[1]

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := cmd.Context()

			if _, err := app.store.Get(ctx, language, ver); err != nil {
				if errors.Is(err, version.ErrNotFound) {
					return fmt.Errorf("%s %s is not installed", language, ver)
				}
				return err
			}

			op := fmt.Sprintf("lang uninstall %s %s", language, ver)
			err = transact(ctx, app, op, func(ctx context.Context, _ *engine.Tx) error {
				return app.installer.Uninstall(ctx, language, ver)
			})
			if err != nil {
				return err
			}

			fmt.Printf("uninstalled %s %s\n", language, ver)
			return nil
		},
	}

	return cmd
}

func newLangUseCommand() *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "use <language> <version>",
		Short: "Select the default version for a scope",
		Long: `Make an installed version the default for its language. The default
is what interposed commands fall back to when no pin file, manifest,
or override names a version.`,
		Example: `  pakmux lang use node 22.9.0
  pakmux lang use go 1.23.2 --scope system`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := version.Scope(scope)
			if err := sc.Validate(); err != nil {
				return err
			}
			language, ver := args[0], args[1]

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := cmd.Context()

			if _, err := app.store.Get(ctx, language, ver); err != nil {
				if errors.Is(err, version.ErrNotFound) {
					return fmt.Errorf("%s %s is not installed; try: pakmux lang install %s %s",
						language, ver, language, ver)
				}
				return err
			}
			return setLangDefault(ctx, app, language, ver, sc)
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "user", "which default to set (user or system)")

	return cmd
}

// setLangDefault flips a scope default inside its own transaction so
// the change lands in history.
func setLangDefault(ctx context.Context, a *app, language, ver string, scope version.Scope) error {
	op := fmt.Sprintf("lang use %s %s", language, ver)
	err := transact(ctx, a, op, func(ctx context.Context, _ *engine.Tx) error {
		_, err := a.installer.Use(ctx, language, ver, scope)
		return err
	})
	if err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Printf("%s %s is now the %s default\n", language, ver, scope)
	}
	return nil
}
