package privilege

import (
	"context"
	"fmt"
	"sync"

	"github.com/pakmux/pakmux/pkg/backend"
	"github.com/pakmux/pakmux/pkg/telemetry"
)

// Runner wraps the process executor and applies the privilege grant to
// commands that request elevation. The grant is set once; commands that
// need rights beyond it fail rather than re-escalate.
type Runner struct {
	inner  backend.Runner
	logger *telemetry.Logger

	mu    sync.Mutex
	grant *Grant
}

// NewRunner creates an elevating runner around the raw executor. logger
// may be nil.
func NewRunner(inner backend.Runner, logger *telemetry.Logger) *Runner {
	if logger == nil {
		logger = telemetry.NewNopTelemetry().Logger
	}
	return &Runner{
		inner:  inner,
		logger: logger.NewComponentLogger("privilege"),
	}
}

// Apply installs the grant for this process. The decision is immutable
// for the transaction's lifetime; a second call is rejected.
func (r *Runner) Apply(g Grant) error {
	if err := g.Decision.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grant != nil {
		return fmt.Errorf("privilege decision already made for this transaction")
	}
	r.grant = &g
	return nil
}

// Grant returns the applied grant, if any.
func (r *Runner) Grant() (Grant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grant == nil {
		return Grant{}, false
	}
	return *r.grant, true
}

// Run executes the command. Elevation-requesting commands are rewritten
// per the grant; without a grant they are refused.
func (r *Runner) Run(ctx context.Context, cmd backend.Command) (*backend.CommandResult, error) {
	if !cmd.Elevate {
		return r.inner.Run(ctx, cmd)
	}

	grant, ok := r.Grant()
	if !ok {
		return nil, fmt.Errorf("%s requires elevation but no privilege decision was requested", cmd.Argv[0])
	}

	switch grant.Decision {
	case DecisionDenied:
		return nil, fmt.Errorf("%w: %s", ErrDenied, grant.Reason)
	case DecisionElevated:
		cmd = grant.apply(cmd)
	case DecisionUserScope:
		// Run unprefixed. A backend that truly needed root fails its
		// own permission check and classifies accordingly.
		r.logger.Debugf("running %s without elevation in user scope", cmd.Argv[0])
	}
	cmd.Elevate = false
	return r.inner.Run(ctx, cmd)
}
