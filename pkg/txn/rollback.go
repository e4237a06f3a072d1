package txn

import (
	"context"
	"fmt"
	"os"
)

// Inverter undoes package and repository effects. The journal inverts
// file effects itself (it owns the backups); everything that needs a
// backend goes through here. The engine supplies an implementation that
// dispatches to the backend named in the effect.
type Inverter interface {
	// Invert undoes a package_installed, package_removed, or
	// repository_added effect.
	Invert(ctx context.Context, eff Effect) error
}

// InversionFailure describes one effect that could not be inverted.
type InversionFailure struct {
	// Effect is the effect that remains applied.
	Effect Effect `toml:"effect" json:"effect"`

	// Reason is the inversion error message.
	Reason string `toml:"reason" json:"reason"`
}

// RollbackReport summarizes one rollback run. A report with failures
// means the system is in a partial state the user must resolve; every
// failure names the effect left applied.
type RollbackReport struct {
	// TransactionID is the transaction that was rolled back.
	TransactionID string `toml:"transaction_id" json:"transaction_id"`

	// Attempted is how many effects inversion was attempted for.
	Attempted int `toml:"attempted" json:"attempted"`

	// Inverted is how many effects were successfully undone.
	Inverted int `toml:"inverted" json:"inverted"`

	// Failures lists every effect that could not be inverted.
	Failures []InversionFailure `toml:"failures,omitempty" json:"failures,omitempty"`
}

// Complete returns true if every attempted inversion succeeded.
func (r *RollbackReport) Complete() bool {
	return len(r.Failures) == 0
}

// String renders the report for error messages.
func (r *RollbackReport) String() string {
	if r.Complete() {
		return fmt.Sprintf("rolled back %d/%d effects", r.Inverted, r.Attempted)
	}
	msg := fmt.Sprintf("rolled back %d/%d effects; not inverted:", r.Inverted, r.Attempted)
	for _, f := range r.Failures {
		msg += fmt.Sprintf("\n  %s: %s", f.Effect.String(), f.Reason)
	}
	return msg
}

// Rollback inverts the transaction's effects in reverse order. An
// inversion failure does not stop the loop: remaining effects are still
// inverted and every failure ends up in the report. The record moves to
// rolled_back when everything inverted, failed otherwise.
func (j *Journal) Rollback(ctx context.Context, tx *Transaction, inv Inverter) (*RollbackReport, error) {
	if tx.Status.IsTerminal() && tx.Status != StatusCommitted {
		return nil, fmt.Errorf("cannot roll back %s transaction %s", tx.Status, tx.ID)
	}

	report := &RollbackReport{
		TransactionID: tx.ID,
		Attempted:     len(tx.Effects),
	}

	log := j.logger.WithTransactionID(tx.ID)
	log.Warnf("rolling back %d effects", len(tx.Effects))

	for i := len(tx.Effects) - 1; i >= 0; i-- {
		eff := tx.Effects[i]
		// A cancelled rollback context means the user interrupted the
		// cleanup itself. Remaining effects go into the report as
		// failures instead of being silently skipped.
		if err := ctx.Err(); err != nil {
			report.Failures = append(report.Failures, InversionFailure{
				Effect: eff,
				Reason: err.Error(),
			})
			continue
		}
		if err := j.invertEffect(ctx, eff, inv); err != nil {
			log.WithError(err).Errorf("failed to invert effect: %s", eff.String())
			report.Failures = append(report.Failures, InversionFailure{
				Effect: eff,
				Reason: err.Error(),
			})
			continue
		}
		report.Inverted++
		log.Debugf("inverted effect: %s", eff.String())
	}

	status := StatusRolledBack
	if !report.Complete() {
		status = StatusFailed
	}
	if err := j.finish(tx, status); err != nil {
		return report, err
	}
	return report, nil
}

// invertEffect undoes a single effect. File effects are handled locally;
// package and repository effects are delegated to the inverter.
func (j *Journal) invertEffect(ctx context.Context, eff Effect, inv Inverter) error {
	switch eff.Type {
	case EffectFileCreated:
		// Path may be a directory tree the operation created, such as
		// an extracted toolchain root. Already gone counts as undone.
		if err := os.RemoveAll(eff.Path); err != nil {
			return fmt.Errorf("failed to remove created path: %w", err)
		}
		return nil

	case EffectFileModified:
		if eff.Checksum != "" {
			sum, err := fileChecksum(eff.BackupPath)
			if err != nil {
				return fmt.Errorf("backup unreadable: %w", err)
			}
			if sum != eff.Checksum {
				return fmt.Errorf("backup checksum mismatch for %s", eff.BackupPath)
			}
		}
		if err := copyFile(eff.BackupPath, eff.Path); err != nil {
			return fmt.Errorf("failed to restore backup: %w", err)
		}
		return nil

	case EffectPackageInstalled, EffectPackageRemoved, EffectRepositoryAdded:
		if inv == nil {
			return fmt.Errorf("no inverter available for %s", eff.Type)
		}
		return inv.Invert(ctx, eff)

	default:
		return fmt.Errorf("unknown effect type %q", eff.Type)
	}
}

// Recover rolls back every Pending record left by a crashed process.
// It runs on startup before any new mutating transaction begins, so a
// half-applied operation can never be built upon.
func (j *Journal) Recover(ctx context.Context, inv Inverter) ([]*RollbackReport, error) {
	pending, err := j.Pending()
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	j.logger.Warnf("found %d interrupted transactions, recovering", len(pending))

	reports := make([]*RollbackReport, 0, len(pending))
	for _, tx := range pending {
		report, err := j.Rollback(ctx, tx, inv)
		if err != nil {
			return reports, fmt.Errorf("failed to recover transaction %s: %w", tx.ID, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}
