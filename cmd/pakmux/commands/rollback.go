package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pakmux/pakmux/pkg/txn"
)

func newRollbackCommand() *cobra.Command {
	var last bool

	cmd := &cobra.Command{
		Use:   "rollback [transaction-id]",
		Short: "Undo a recorded transaction",
		Long: `Invert the effects of a transaction in reverse order: installed
packages are removed, removed packages reinstalled, created files
deleted, modified files restored from their backups.

An effect that cannot be inverted is reported and the rest are still
attempted, so the report always names exactly what is left.`,
		Example: `  # Undo a specific transaction from pakmux history
  pakmux rollback 20260815T120000.000000000-a1b2c3d4

  # Undo the most recent committed transaction
  pakmux rollback --last`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if last && len(args) == 1 {
				return fmt.Errorf("pass a transaction id or --last, not both")
			}
			if !last && len(args) == 0 {
				return fmt.Errorf("a transaction id is required (or --last)")
			}

			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			app.renderEvents()
			ctx := cmd.Context()

			id := ""
			if len(args) == 1 {
				id = args[0]
			} else {
				id, err = lastCommitted(app)
				if err != nil {
					return err
				}
			}

			report, err := app.engine.RollbackTransaction(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(report)
			}
			fmt.Printf("%s: %s\n", id, report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&last, "last", false, "roll back the most recent committed transaction")

	return cmd
}

// lastCommitted finds the newest committed transaction in the journal.
func lastCommitted(a *app) (string, error) {
	txs, err := a.engine.History(0)
	if err != nil {
		return "", err
	}
	for _, tx := range txs {
		if tx.Status == txn.StatusCommitted {
			return tx.ID, nil
		}
	}
	return "", fmt.Errorf("no committed transaction to roll back")
}
