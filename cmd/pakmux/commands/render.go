package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pakmux/pakmux/pkg/backend"
	"github.com/pakmux/pakmux/pkg/engine"
	"github.com/pakmux/pakmux/pkg/txn"
)

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTable returns a tab writer with the column settings every table in
// the CLI uses.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// renderResult prints the outcome of a mutating operation.
func renderResult(w io.Writer, res *engine.Result) {
	if res.Planned {
		renderPlan(w, res)
		return
	}
	for _, step := range res.Steps {
		target := step.Target.String()
		if target == "" {
			target = "everything"
		}
		fmt.Fprintf(w, "%s: %s\n", target, describeOutcome(step.Outcome))
	}
	fmt.Fprintf(w, "%s completed in %s (transaction %s)\n",
		res.Action.Kind, res.Duration.Round(time.Millisecond), res.TxID)
}

// renderPlan prints what a dry run would do.
func renderPlan(w io.Writer, res *engine.Result) {
	fmt.Fprintf(w, "plan: %s\n", res.Action.String())
	for _, step := range res.Steps {
		target := step.Target.String()
		if target == "" {
			target = "everything"
		}
		fmt.Fprintf(w, "  %s via %s\n", target, step.Backend)
	}
}

// describeOutcome renders one backend outcome for the terminal.
func describeOutcome(o *backend.Outcome) string {
	if o == nil {
		return "planned"
	}
	switch {
	case o.Message != "":
		return fmt.Sprintf("%s (%s)", o.Message, o.Backend)
	case o.Kind == backend.OutcomeAlreadySatisfied:
		return fmt.Sprintf("already satisfied (%s)", o.Backend)
	default:
		return fmt.Sprintf("%s (%s)", o.Kind, o.Backend)
	}
}

// renderPackages prints merged query rows as a table. The columns
// argument selects which optional columns appear.
func renderPackages(w io.Writer, packages []backend.Package, withLocation bool) {
	tw := newTable(w)
	if withLocation {
		fmt.Fprintln(tw, "NAME\tBACKEND\tLOCATION")
		for _, pkg := range packages {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", pkg.Name, pkg.Backend, pkg.Location)
		}
	} else {
		fmt.Fprintln(tw, "NAME\tVERSION\tBACKEND\tDESCRIPTION")
		for _, pkg := range packages {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", pkg.Name, pkg.Version, pkg.Backend, pkg.Description)
		}
	}
	tw.Flush()
}

// renderHistory prints journal transactions, newest first.
func renderHistory(w io.Writer, txs []*txn.Transaction) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tEFFECTS\tOPERATION")
	for _, tx := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			tx.ID, tx.Status, tx.StartedAt.Local().Format("2006-01-02 15:04:05"),
			len(tx.Effects), tx.Operation)
	}
	tw.Flush()
}
