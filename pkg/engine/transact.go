package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/privilege"
	"github.com/pakmux/pakmux/pkg/telemetry"
	"github.com/pakmux/pakmux/pkg/txn"
)

// Tx is the journaled work handle passed to Transact closures.
// Collaborators that mutate state outside the backend chain, like the
// language installer, record their effects through it so a crash mid
// work is recoverable.
type Tx struct {
	tx      *txn.Transaction
	journal *txn.Journal
}

// ID returns the transaction id.
func (t *Tx) ID() string {
	return t.tx.ID
}

// Record appends an effect to the transaction.
func (t *Tx) Record(eff txn.Effect) error {
	return t.journal.Record(t.tx, eff)
}

// BackupFile copies path into the transaction's backup directory and
// records the file-modified effect so rollback can restore it.
func (t *Tx) BackupFile(path string) (txn.Effect, error) {
	return t.journal.BackupFile(t.tx, path)
}

// Transact runs fn inside a journal transaction under the process
// lock. Effects fn records are rolled back if fn fails, and the
// returned error carries the rollback report.
func (e *Engine) Transact(ctx context.Context, operation string, fn func(ctx context.Context, t *Tx) error) (*txn.Transaction, error) {
	if err := e.guardPending(); err != nil {
		return nil, err
	}
	if err := e.lock.Acquire(ctx); err != nil {
		return nil, wrapError(operation, "could not acquire the process lock", err)
	}
	defer e.releaseLock()

	start := time.Now()
	tx, err := e.journal.Begin(operation)
	if err != nil {
		return nil, NewError(KindTransactionFailed, "could not begin a transaction").
			WithOperation(operation).Wrap(err)
	}

	ctx, span := e.tel.Tracer.StartOperationSpan(ctx, tx.ID, operation)
	defer span.End()
	e.tel.Events.PublishOperationStarted(tx.ID, operation, nil)
	e.tel.Metrics.RecordOperationStarted(operation)

	if err := fn(ctx, &Tx{tx: tx, journal: e.journal}); err != nil {
		cause := wrapError(operation, "operation failed", err)
		return nil, e.fail(ctx, tx, span, operation, start, cause)
	}

	if err := e.journal.Commit(tx); err != nil {
		e.tel.Events.PublishOperationFailed(tx.ID, "commit failed")
		telemetry.RecordError(span, err)
		return nil, NewError(KindTransactionFailed, fmt.Sprintf("could not commit transaction %s", tx.ID)).
			WithOperation(operation).Wrap(err)
	}

	duration := time.Since(start)
	e.tel.Events.PublishOperationCompleted(tx.ID, duration)
	e.tel.Metrics.RecordOperationCompleted(operation, "success", duration)
	telemetry.RecordSuccess(span)

	if err := e.journal.Prune(); err != nil {
		e.logger.WithError(err).Warnf("journal prune failed")
	}
	return tx, nil
}

// Recover rolls back every transaction left pending by a crashed or
// interrupted process. Callers run it before new mutating work; Run
// refuses to proceed while pending transactions remain.
func (e *Engine) Recover(ctx context.Context) ([]*txn.RollbackReport, error) {
	pending, err := e.journal.Pending()
	if err != nil {
		return nil, NewError(KindTransactionFailed, "could not inspect the transaction journal").Wrap(err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	for _, tx := range pending {
		if err := e.grantForEffects(ctx, tx.Effects); err != nil {
			return nil, err
		}
	}

	if err := e.lock.Acquire(ctx); err != nil {
		return nil, wrapError("recover", "could not acquire the process lock", err)
	}
	defer e.releaseLock()

	reports, err := e.journal.Recover(ctx, e.inverter())
	if err != nil {
		return nil, NewError(KindTransactionFailed, "recovery failed").Wrap(err)
	}
	for _, report := range reports {
		e.tel.Events.PublishRollbackCompleted(report.TransactionID, len(report.Failures))
	}
	return reports, nil
}

// RollbackTransaction undoes a transaction by id. Committed
// transactions can be undone; already rolled back or failed ones
// cannot.
func (e *Engine) RollbackTransaction(ctx context.Context, id string) (*txn.RollbackReport, error) {
	tx, err := e.journal.Get(id)
	if err != nil {
		return nil, NewError(KindTransactionFailed, fmt.Sprintf("no transaction %s", id)).Wrap(err)
	}
	if err := e.grantForEffects(ctx, tx.Effects); err != nil {
		return nil, err
	}

	if err := e.lock.Acquire(ctx); err != nil {
		return nil, wrapError("rollback "+id, "could not acquire the process lock", err)
	}
	defer e.releaseLock()

	e.tel.Events.PublishRollbackStarted(tx.ID, len(tx.Effects))
	report, err := e.journal.Rollback(ctx, tx, e.inverter())
	if err != nil {
		return nil, NewError(KindTransactionFailed, fmt.Sprintf("could not roll back %s", id)).Wrap(err)
	}
	e.tel.Events.PublishRollbackCompleted(tx.ID, len(report.Failures))
	return report, nil
}

// History returns the most recent transactions, newest first. A zero
// limit returns everything.
func (e *Engine) History(limit int) ([]*txn.Transaction, error) {
	return e.journal.List(limit)
}

// Pending returns transactions still awaiting recovery.
func (e *Engine) Pending() ([]*txn.Transaction, error) {
	return e.journal.Pending()
}

// grantForEffects decides privileges for inverting recorded effects.
// The first package effect's backend stands in for the whole set,
// since one grant covers the process.
func (e *Engine) grantForEffects(ctx context.Context, effects []txn.Effect) error {
	for _, eff := range effects {
		if eff.Type != txn.EffectPackageInstalled && eff.Type != txn.EffectPackageRemoved {
			continue
		}
		b, err := e.registry.Get(eff.Backend)
		if err != nil {
			// The inverter will report this effect as uninvertible.
			continue
		}
		act := action.Action{
			Kind:    action.KindRemove,
			Targets: []action.Target{{Name: eff.Package}},
			Options: action.Options{AssumeYes: true},
		}
		grant := e.arbiter.Decide(ctx, act, b)
		if grant.Decision == privilege.DecisionDenied {
			return NewError(KindPrivilegeDenied, grant.Reason).Wrap(privilege.ErrDenied)
		}
		return e.applyGrant(grant)
	}
	return nil
}
