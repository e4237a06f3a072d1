package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the transaction journal",
		Long: `Show recorded transactions, newest first. Every mutating operation
lands here with its effects; pakmux rollback <id> undoes one.

A pending entry is an operation that never finished; it is recovered
automatically before the next mutating command, or explicitly with
pakmux rollback.`,
		Example: `  # The last 20 transactions
  pakmux history

  # Everything the journal still retains
  pakmux history --limit 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			txs, err := app.engine.History(limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(txs)
			}
			if len(txs) == 0 {
				fmt.Println("no transactions recorded")
				return nil
			}
			renderHistory(os.Stdout, txs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "how many transactions to show, 0 for all")

	return cmd
}
