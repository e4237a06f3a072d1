package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return printJSON(struct {
					Version   string `json:"version"`
					Commit    string `json:"commit"`
					BuildDate string `json:"build_date"`
					GoVersion string `json:"go_version"`
					Platform  string `json:"platform"`
				}{version, commit, buildDate, runtime.Version(), runtime.GOOS + "/" + runtime.GOARCH})
			}
			fmt.Printf("pakmux %s\n", version)
			fmt.Printf("  commit:   %s\n", commit)
			fmt.Printf("  built:    %s\n", buildDate)
			fmt.Printf("  go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}

	return cmd
}
