package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/backend"
	"github.com/pakmux/pakmux/pkg/privilege"
	"github.com/pakmux/pakmux/pkg/recovery"
	"github.com/pakmux/pakmux/pkg/telemetry"
	"github.com/pakmux/pakmux/pkg/txn"
)

// rollbackTimeout bounds how long a controlled rollback may run after
// the operation's own context is already cancelled.
const rollbackTimeout = 5 * time.Minute

// Options configures a new Engine. Registry, Journal, Lock, Arbiter,
// and Runner are required; Analyzer and Telemetry may be nil.
type Options struct {
	// Registry holds the backend adapters for this host.
	Registry *backend.Registry

	// Journal persists transactions and their effects.
	Journal *txn.Journal

	// Lock serializes mutating operations across pakmux processes.
	Lock *txn.Lock

	// Arbiter decides the privilege level for an operation.
	Arbiter *privilege.Arbiter

	// Runner executes backend and remediation commands under the
	// applied grant.
	Runner *privilege.Runner

	// Analyzer matches backend failures against known remediations.
	// Nil disables recovery.
	Analyzer *recovery.Analyzer

	// Telemetry provides logging, tracing, metrics, and events. Nil
	// falls back to no-op telemetry.
	Telemetry *telemetry.Telemetry
}

// Engine sequences operations across the journal, the lock, the
// privilege layer, and the backend registry.
type Engine struct {
	registry *backend.Registry
	journal  *txn.Journal
	lock     *txn.Lock
	arbiter  *privilege.Arbiter
	runner   *privilege.Runner
	analyzer *recovery.Analyzer
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
}

// New creates an Engine from the given options.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("engine: registry is required")
	case opts.Journal == nil:
		return nil, errors.New("engine: journal is required")
	case opts.Lock == nil:
		return nil, errors.New("engine: lock is required")
	case opts.Arbiter == nil:
		return nil, errors.New("engine: arbiter is required")
	case opts.Runner == nil:
		return nil, errors.New("engine: runner is required")
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.NewNopTelemetry()
	}
	return &Engine{
		registry: opts.Registry,
		journal:  opts.Journal,
		lock:     opts.Lock,
		arbiter:  opts.Arbiter,
		runner:   opts.Runner,
		analyzer: opts.Analyzer,
		tel:      tel,
		logger:   tel.Logger.NewComponentLogger("engine"),
	}, nil
}

// Step is the outcome of one unit of work within an operation.
type Step struct {
	// Target is the package the step acted on, zero for whole-system
	// steps like a bare update.
	Target action.Target

	// Backend is the adapter that served the step.
	Backend string

	// Outcome is the backend's result, nil for planned steps that were
	// never executed.
	Outcome *backend.Outcome
}

// Result is the successful outcome of an operation.
type Result struct {
	// Action is the action that ran.
	Action action.Action

	// TxID is the journal transaction, empty for read-only operations
	// and dry runs.
	TxID string

	// Steps holds per-target results for mutating operations, or the
	// plan for dry runs.
	Steps []Step

	// Queries holds per-backend results for read-only operations.
	Queries []backend.QueryResult

	// Planned is true for dry runs: Steps describe what would happen
	// and nothing was executed.
	Planned bool

	// Duration is the wall-clock time of the operation.
	Duration time.Duration
}

// Run executes an action. Read-only actions fan out across all
// available backends; mutating actions run under the process lock
// inside a journal transaction and roll back on failure.
func (e *Engine) Run(ctx context.Context, act action.Action) (*Result, error) {
	if err := act.Validate(); err != nil {
		return nil, NewError(KindInternal, "invalid action").WithOperation(act.String()).Wrap(err)
	}
	if !act.Kind.IsMutating() {
		return e.query(ctx, act)
	}
	return e.mutate(ctx, act)
}

// query fans a read-only action out across every available backend.
// No lock, no journal, no privilege decision.
func (e *Engine) query(ctx context.Context, act action.Action) (*Result, error) {
	ctx, span := e.tel.Tracer.StartSpan(ctx, "query."+string(act.Kind))
	defer span.End()

	start := time.Now()
	results, err := e.registry.QueryAll(ctx, act)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, NewError(KindBackendUnavailable, "no backend can serve this query").
			WithOperation(act.String()).Wrap(err)
	}
	telemetry.RecordSuccess(span)
	return &Result{Action: act, Queries: results, Duration: time.Since(start)}, nil
}

// mutate runs a state-changing action through the full pipeline.
func (e *Engine) mutate(ctx context.Context, act action.Action) (*Result, error) {
	op := act.String()

	if err := e.guardPending(); err != nil {
		return nil, err
	}

	candidates, err := e.registry.Candidates(ctx, act.Kind, act.Options.Backend)
	if err != nil {
		return nil, NewError(KindBackendUnavailable, fmt.Sprintf("no backend available for %s", act.Kind)).
			WithOperation(op).Wrap(err)
	}

	if act.Options.DryRun {
		return e.plan(act, candidates), nil
	}

	grant := e.arbiter.Decide(ctx, act, candidates[0])
	if grant.Decision == privilege.DecisionDenied {
		e.tel.Metrics.RecordError(string(KindPrivilegeDenied))
		return nil, NewError(KindPrivilegeDenied, grant.Reason).
			WithOperation(op).Wrap(privilege.ErrDenied)
	}
	if err := e.applyGrant(grant); err != nil {
		return nil, NewError(KindInternal, "conflicting privilege decision").WithOperation(op).Wrap(err)
	}

	if err := e.lock.Acquire(ctx); err != nil {
		return nil, wrapError(op, "could not acquire the process lock", err)
	}
	defer e.releaseLock()

	start := time.Now()
	tx, err := e.journal.Begin(op)
	if err != nil {
		return nil, NewError(KindTransactionFailed, "could not begin a transaction").
			WithOperation(op).Wrap(err)
	}

	ctx, span := e.tel.Tracer.StartOperationSpan(ctx, tx.ID, op)
	defer span.End()

	e.tel.Events.PublishOperationStarted(tx.ID, string(act.Kind), act.TargetNames())
	e.tel.Metrics.RecordOperationStarted(string(act.Kind))

	steps := splitSteps(act)
	result := &Result{Action: act, TxID: tx.ID, Steps: make([]Step, 0, len(steps))}

	for i, stepAct := range steps {
		if err := ctx.Err(); err != nil {
			cause := NewError(KindCancelled, "operation interrupted").WithOperation(op).Wrap(err)
			return nil, e.fail(ctx, tx, span, string(act.Kind), start, cause)
		}
		outcome, stepErr := e.runStep(ctx, tx, stepAct, candidates)
		if stepErr != nil {
			stepErr.Operation = op
			return nil, e.fail(ctx, tx, span, string(act.Kind), start, stepErr)
		}
		result.Steps = append(result.Steps, Step{
			Target:  stepTarget(stepAct),
			Backend: outcome.Backend,
			Outcome: outcome,
		})
		e.tel.Events.PublishProgress(tx.ID, i+1, len(steps), stepDetail(stepAct))
	}

	if err := e.journal.Commit(tx); err != nil {
		// Effects are already applied. The record stays pending on
		// disk and the recovery path owns it from here, so nothing is
		// rolled back.
		e.tel.Events.PublishOperationFailed(tx.ID, "commit failed")
		telemetry.RecordError(span, err)
		return nil, NewError(KindTransactionFailed, fmt.Sprintf("could not commit transaction %s", tx.ID)).
			WithOperation(op).Wrap(err)
	}

	result.Duration = time.Since(start)
	e.tel.Events.PublishOperationCompleted(tx.ID, result.Duration)
	e.tel.Metrics.RecordOperationCompleted(string(act.Kind), "success", result.Duration)
	telemetry.RecordSuccess(span)

	if err := e.journal.Prune(); err != nil {
		e.logger.WithError(err).Warnf("journal prune failed")
	}
	return result, nil
}

// runStep walks the backend chain for one unit of work. The first
// backend returning anything other than not-found determines the
// result, except that a recoverable partial failure gets one
// remediation, one retry, and then falls through to the next backend.
func (e *Engine) runStep(ctx context.Context, tx *txn.Transaction, act action.Action, candidates []backend.Backend) (*backend.Outcome, *Error) {
	target := stepDetail(act)
	rec := journalRecorder{journal: e.journal, tx: tx}

	ctx, span := e.tel.Tracer.StartStepSpan(ctx, tx.ID, target)
	defer span.End()

	var failed *backend.Outcome
	remediated := false

	for _, b := range candidates {
		outcome, err := e.invoke(ctx, tx, b, act, rec)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, NewError(KindBackendError, fmt.Sprintf("%s failed", b.Name())).
				WithResource(target).Wrap(err)
		}

		switch outcome.Kind {
		case backend.OutcomeSuccess, backend.OutcomeAlreadySatisfied:
			telemetry.RecordSuccess(span)
			return outcome, nil

		case backend.OutcomeNotFound:
			continue

		case backend.OutcomePartialFailure:
			if failed == nil {
				failed = outcome
			}
			if !outcome.Recoverable {
				stepErr := partialFailureError(outcome, target)
				telemetry.RecordError(span, stepErr)
				return nil, stepErr
			}
			if remediated || e.analyzer == nil {
				continue
			}
			rem, ok := e.analyzer.Analyze(recovery.Failure{
				Backend:  b.Name(),
				ExitCode: outcome.ExitCode,
				Stderr:   outcome.Stderr,
			})
			if !ok {
				continue
			}
			remediated = true
			e.tel.Events.PublishRecoveryAttempted(tx.ID, b.Name(), rem.Description)
			if !rem.Runnable() {
				e.logger.WithBackend(b.Name()).WithField("advice", rem.Description).
					Warn("recovery needs manual intervention")
				e.tel.Metrics.RecordRecoveryAttempt(b.Name(), "advisory")
				continue
			}
			if err := e.applyRemediation(ctx, rem); err != nil {
				e.tel.Metrics.RecordRecoveryAttempt(b.Name(), "failure")
				telemetry.RecordError(span, err)
				return nil, NewError(KindBackendError,
					fmt.Sprintf("%s failed and remediation %s did not complete", b.Name(), rem.ID)).
					WithResource(target).Wrap(err)
			}
			e.tel.Metrics.RecordRecoveryAttempt(b.Name(), "success")

			retry, err := e.invoke(ctx, tx, b, act, rec)
			if err != nil {
				telemetry.RecordError(span, err)
				return nil, NewError(KindBackendError, fmt.Sprintf("%s failed after recovery", b.Name())).
					WithResource(target).Wrap(err)
			}
			switch retry.Kind {
			case backend.OutcomeSuccess, backend.OutcomeAlreadySatisfied:
				telemetry.RecordSuccess(span)
				return retry, nil
			case backend.OutcomePartialFailure:
				failed = retry
			}
			// Still failing after the one allowed remediation. Let the
			// next backend in the chain have it.
		}
	}

	var stepErr *Error
	if failed != nil {
		stepErr = partialFailureError(failed, target)
	} else {
		stepErr = NewError(KindBackendError,
			fmt.Sprintf("%q not found in any available backend", target)).WithResource(target)
	}
	telemetry.RecordError(span, stepErr)
	return nil, stepErr
}

// invoke runs one backend call with its event, span, and metrics.
func (e *Engine) invoke(ctx context.Context, tx *txn.Transaction, b backend.Backend, act action.Action, rec backend.Recorder) (*backend.Outcome, error) {
	e.tel.Events.PublishBackendInvoked(tx.ID, b.Name(), act.String())
	ctx, span := e.tel.Tracer.StartBackendSpan(ctx, b.Name(), string(act.Kind))
	defer span.End()

	timer := telemetry.NewTimer()
	outcome, err := b.Execute(ctx, act, rec)
	if err != nil {
		e.tel.Metrics.RecordBackendInvocation(b.Name(), "error", timer.Duration())
		telemetry.RecordError(span, err)
		return nil, err
	}
	e.tel.Metrics.RecordBackendInvocation(b.Name(), string(outcome.Kind), timer.Duration())
	telemetry.RecordSuccess(span)
	return outcome, nil
}

// applyRemediation runs the remediation's commands through the same
// runner the failing step used, so the operation's privilege grant
// applies.
func (e *Engine) applyRemediation(ctx context.Context, rem *recovery.Remediation) error {
	for _, argv := range rem.Commands {
		e.logger.WithField("remediation", rem.ID).Infof("running %s", strings.Join(argv, " "))
		res, err := e.runner.Run(ctx, backend.Command{
			Argv:        argv,
			Elevate:     rem.Elevate,
			Passthrough: true,
		})
		if err != nil {
			return fmt.Errorf("remediation %s: %w", rem.ID, err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("remediation %s: %s exited with %d", rem.ID, argv[0], res.ExitCode)
		}
	}
	return nil
}

// fail rolls back the transaction and returns the cause with the
// rollback report attached. The rollback runs on a fresh context so a
// cancelled operation still unwinds cleanly.
func (e *Engine) fail(ctx context.Context, tx *txn.Transaction, span trace.Span, kind string, started time.Time, cause *Error) error {
	e.tel.Events.PublishOperationFailed(tx.ID, cause.Message)
	e.tel.Metrics.RecordOperationCompleted(kind, "failure", time.Since(started))
	e.tel.Metrics.RecordError(string(cause.Kind))
	telemetry.RecordError(span, cause)

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	e.tel.Events.PublishRollbackStarted(tx.ID, len(tx.Effects))
	report, err := e.journal.Rollback(rbCtx, tx, e.inverter())
	if err != nil {
		e.logger.WithTransactionID(tx.ID).WithError(err).Error("rollback failed")
		return cause
	}
	e.tel.Events.PublishRollbackCompleted(tx.ID, len(report.Failures))
	return cause.WithReport(report)
}

// guardPending refuses new mutating work while an interrupted
// transaction from a previous run still needs recovery.
func (e *Engine) guardPending() error {
	pending, err := e.journal.Pending()
	if err != nil {
		return NewError(KindTransactionFailed, "could not inspect the transaction journal").Wrap(err)
	}
	if len(pending) == 0 {
		return nil
	}
	ids := make([]string, len(pending))
	for i, tx := range pending {
		ids[i] = tx.ID
	}
	return NewError(KindTransactionFailed,
		fmt.Sprintf("interrupted transaction %s needs recovery before new changes", strings.Join(ids, ", ")))
}

// plan describes what a mutating action would do without taking the
// lock, opening a transaction, or invoking any backend.
func (e *Engine) plan(act action.Action, candidates []backend.Backend) *Result {
	steps := splitSteps(act)
	result := &Result{Action: act, Planned: true, Steps: make([]Step, 0, len(steps))}
	name := candidates[0].Name()
	for _, stepAct := range steps {
		result.Steps = append(result.Steps, Step{Target: stepTarget(stepAct), Backend: name})
	}
	return result
}

// applyGrant applies the decision to the shared runner, tolerating an
// identical decision already applied by an earlier recovery pass.
func (e *Engine) applyGrant(grant privilege.Grant) error {
	if existing, ok := e.runner.Grant(); ok {
		if existing.Decision == grant.Decision {
			return nil
		}
		return fmt.Errorf("privilege already decided as %s, cannot redecide as %s",
			existing.Decision, grant.Decision)
	}
	return e.runner.Apply(grant)
}

func (e *Engine) releaseLock() {
	if err := e.lock.Release(); err != nil {
		e.logger.WithError(err).Warn("failed to release the process lock")
	}
}

// splitSteps breaks a multi-target action into single-target units.
// Backends take one target per mutating call.
func splitSteps(act action.Action) []action.Action {
	if len(act.Targets) <= 1 {
		return []action.Action{act}
	}
	steps := make([]action.Action, 0, len(act.Targets))
	for _, t := range act.Targets {
		step := act
		step.Targets = []action.Target{t}
		steps = append(steps, step)
	}
	return steps
}

func stepTarget(act action.Action) action.Target {
	if len(act.Targets) == 0 {
		return action.Target{}
	}
	return act.Targets[0]
}

func stepDetail(act action.Action) string {
	if len(act.Targets) == 0 {
		return "everything"
	}
	return act.Targets[0].Name
}

func partialFailureError(outcome *backend.Outcome, target string) *Error {
	message := outcome.Message
	if message == "" {
		message = fmt.Sprintf("%s reported a failure", outcome.Backend)
	}
	return NewError(KindBackendError, message).WithResource(target)
}

// journalRecorder appends effects to the active transaction.
type journalRecorder struct {
	journal *txn.Journal
	tx      *txn.Transaction
}

func (r journalRecorder) Record(eff txn.Effect) error {
	return r.journal.Record(r.tx, eff)
}
