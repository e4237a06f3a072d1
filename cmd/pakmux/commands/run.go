package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/backend"
	"github.com/pakmux/pakmux/pkg/engine"
)

// recoverPending rolls back whatever a crashed process left in the
// journal and tells the user about it.
func recoverPending(ctx context.Context, a *app) error {
	reports, err := a.engine.Recover(ctx)
	if err != nil {
		return err
	}
	for _, report := range reports {
		fmt.Fprintf(os.Stderr, "recovered interrupted transaction %s: %s\n",
			report.TransactionID, report)
	}
	return nil
}

// transact runs fn inside a journaled transaction, recovering pending
// work first so an earlier crash never blocks the command.
func transact(ctx context.Context, a *app, operation string, fn func(ctx context.Context, tx *engine.Tx) error) error {
	if err := recoverPending(ctx, a); err != nil {
		return err
	}
	_, err := a.engine.Transact(ctx, operation, fn)
	return err
}

// runMutating drives one state-changing action end to end: recover
// anything a crashed process left behind, confirm, run, render.
func runMutating(ctx context.Context, a *app, act action.Action) error {
	if err := recoverPending(ctx, a); err != nil {
		return err
	}

	ok, err := confirmPlan(ctx, a, act)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "aborted")
		return nil
	}

	res, err := a.engine.Run(ctx, act)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res)
	}
	renderResult(os.Stdout, res)
	return nil
}

// confirmPlan previews a mutating action and asks for consent. Dry
// runs, --yes, JSON output, and non-interactive sessions skip the
// prompt.
func confirmPlan(ctx context.Context, a *app, act action.Action) (bool, error) {
	if act.Options.AssumeYes || act.Options.DryRun || jsonOutput {
		return true, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true, nil
	}

	preview := act
	preview.Options.DryRun = true
	res, err := a.engine.Run(ctx, preview)
	if err != nil {
		return false, err
	}
	renderPlan(os.Stdout, res)

	fmt.Fprint(os.Stdout, "Proceed? [y/N] ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// runQuery drives one read-only action: fan out, report per-backend
// failures on stderr, render the rest.
func runQuery(ctx context.Context, a *app, act action.Action, render func(w io.Writer, queries []backend.QueryResult)) error {
	res, err := a.engine.Run(ctx, act)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res.Queries)
	}
	for _, q := range res.Queries {
		if q.Err != nil {
			fmt.Fprintf(os.Stderr, "warning: %s: %v\n", q.Backend, q.Err)
		}
	}
	render(os.Stdout, res.Queries)
	return nil
}
