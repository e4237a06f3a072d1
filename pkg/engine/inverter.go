package engine

import (
	"context"
	"fmt"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/backend"
	"github.com/pakmux/pakmux/pkg/telemetry"
	"github.com/pakmux/pakmux/pkg/txn"
)

// rollbackInverter undoes package and repository effects through the
// backend registry. File effects never reach it; the journal restores
// those from its own backups.
type rollbackInverter struct {
	registry *backend.Registry
	metrics  *telemetry.Metrics
	logger   *telemetry.Logger
}

func (e *Engine) inverter() txn.Inverter {
	return &rollbackInverter{
		registry: e.registry,
		metrics:  e.tel.Metrics,
		logger:   e.logger,
	}
}

// Invert undoes a single recorded effect.
func (inv *rollbackInverter) Invert(ctx context.Context, eff txn.Effect) error {
	var err error
	switch eff.Type {
	case txn.EffectPackageInstalled:
		err = inv.runPackageAction(ctx, eff.Backend, action.Action{
			Kind:    action.KindRemove,
			Targets: []action.Target{{Name: eff.Package}},
			Options: action.Options{AssumeYes: true},
		})
	case txn.EffectPackageRemoved:
		err = inv.runPackageAction(ctx, eff.Backend, action.Action{
			Kind:    action.KindInstall,
			Targets: []action.Target{{Name: eff.Package, Constraint: eff.Version}},
			Options: action.Options{AssumeYes: true},
		})
	case txn.EffectRepositoryAdded:
		err = fmt.Errorf("repository %s on %s must be removed manually", eff.RepoID, eff.Backend)
	default:
		err = fmt.Errorf("no inversion for effect type %s", eff.Type)
	}

	result := "success"
	if err != nil {
		result = "failure"
	}
	inv.metrics.RecordRollbackEffect(string(eff.Type), result)
	return err
}

// runPackageAction executes the inverting action on the named backend.
// Rollback effects are never journaled; a rollback of a rollback is
// not a thing.
func (inv *rollbackInverter) runPackageAction(ctx context.Context, name string, act action.Action) error {
	b, err := inv.registry.Get(name)
	if err != nil {
		return fmt.Errorf("backend %s is not registered: %w", name, err)
	}

	inv.logger.WithBackend(name).Infof("inverting with %s", act.String())
	outcome, err := b.Execute(ctx, act, discardRecorder{})
	if err != nil {
		return err
	}

	switch outcome.Kind {
	case backend.OutcomeSuccess, backend.OutcomeAlreadySatisfied:
		return nil
	case backend.OutcomeNotFound:
		if act.Kind == action.KindRemove {
			// Already gone counts as undone.
			return nil
		}
		return fmt.Errorf("%s no longer provides %s", name, act.Targets[0].Name)
	default:
		message := outcome.Message
		if message == "" {
			message = "backend reported a failure"
		}
		return fmt.Errorf("%s: %s", name, message)
	}
}

// discardRecorder drops effects recorded during inversion.
type discardRecorder struct{}

func (discardRecorder) Record(txn.Effect) error {
	return nil
}
