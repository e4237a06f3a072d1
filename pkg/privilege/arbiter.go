package privilege

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"golang.org/x/term"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/backend"
	"github.com/pakmux/pakmux/pkg/telemetry"
)

// Arbiter produces the privilege decision for one operation. Probes are
// strictly non-interactive except for the macOS authorization dialog,
// which the platform owns.
type Arbiter struct {
	runner backend.Runner
	logger *telemetry.Logger

	// Overridable for tests.
	goos        string
	euid        func() int
	interactive func() bool
}

// NewArbiter creates an arbiter probing through the given runner. The
// runner must be the raw executor, not the elevating one. logger may be
// nil.
func NewArbiter(runner backend.Runner, logger *telemetry.Logger) *Arbiter {
	if logger == nil {
		logger = telemetry.NewNopTelemetry().Logger
	}
	return &Arbiter{
		runner: runner,
		logger: logger.NewComponentLogger("privilege"),
		goos:   runtime.GOOS,
		euid:   os.Geteuid,
		interactive: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
}

// Decide returns the privilege grant for running the action against the
// backend. Called once, before the transaction begins.
func (a *Arbiter) Decide(ctx context.Context, act action.Action, b backend.Backend) Grant {
	if !act.Kind.IsMutating() {
		return Grant{Decision: DecisionUserScope, Reason: "read-only operations run unprivileged"}
	}

	caps := b.Capabilities()
	if !caps.RequiresElevation {
		return Grant{Decision: DecisionUserScope, Reason: fmt.Sprintf("%s installs without elevation", b.Name())}
	}

	var grant Grant
	switch a.goos {
	case "windows":
		grant = a.decideWindows(ctx, b.Name(), caps)
	case "darwin":
		grant = a.decideDarwin(ctx, b.Name(), caps)
	default:
		// Linux and the BSDs share the sudo path.
		grant = a.decideSudo(ctx, b.Name(), caps)
	}

	a.logger.Zerolog().Debug().
		Str("backend", b.Name()).
		Str("decision", string(grant.Decision)).
		Str("reason", grant.Reason).
		Msg("privilege decision")
	return grant
}

// decideSudo probes for usable elevation without ever blocking on a
// password prompt. The caller may be a non-interactive or remote
// session, so a failed probe downgrades instead of asking.
func (a *Arbiter) decideSudo(ctx context.Context, name string, caps backend.Capabilities) Grant {
	if a.euid() == 0 {
		return Grant{Decision: DecisionElevated, method: methodNone}
	}

	res, err := a.runner.Run(ctx, backend.Command{Argv: []string{"sudo", "-n", "true"}})
	if err == nil && res.ExitCode == 0 {
		return Grant{Decision: DecisionElevated, method: methodSudo}
	}

	if caps.UserScope {
		return Grant{
			Decision: DecisionUserScope,
			Reason:   "passwordless sudo is not available; installing in user scope",
		}
	}
	return Grant{
		Decision: DecisionDenied,
		Reason:   fmt.Sprintf("%s requires root and passwordless sudo is not available; re-run under sudo", name),
	}
}

// decideDarwin extends the sudo path with the native authorization
// dialog for interactive sessions.
func (a *Arbiter) decideDarwin(ctx context.Context, name string, caps backend.Capabilities) Grant {
	if a.euid() == 0 {
		return Grant{Decision: DecisionElevated, method: methodNone}
	}

	if res, err := a.runner.Run(ctx, backend.Command{Argv: []string{"sudo", "-n", "true"}}); err == nil && res.ExitCode == 0 {
		return Grant{Decision: DecisionElevated, method: methodSudo}
	}

	if a.interactive() {
		res, err := a.runner.Run(ctx, backend.Command{Argv: []string{
			"osascript", "-e",
			`do shell script "/usr/bin/true" with administrator privileges`,
		}})
		if err == nil && res.ExitCode == 0 {
			return Grant{Decision: DecisionElevated, method: methodOsascript}
		}
		if res != nil && strings.Contains(res.Stderr, "User canceled") {
			if caps.UserScope {
				return Grant{Decision: DecisionUserScope, Reason: "authorization cancelled; installing in user scope"}
			}
			return Grant{Decision: DecisionDenied, Reason: fmt.Sprintf("%s requires elevation and authorization was cancelled", name)}
		}
	}

	if caps.UserScope {
		return Grant{Decision: DecisionUserScope, Reason: "no elevation available; installing in user scope"}
	}
	return Grant{
		Decision: DecisionDenied,
		Reason:   fmt.Sprintf("%s requires elevation; re-run under sudo", name),
	}
}

// decideWindows checks the current token. There is no prefix command to
// elevate a child on Windows, so a non-administrator shell is reported
// with instructions instead of a silent relaunch.
func (a *Arbiter) decideWindows(ctx context.Context, name string, caps backend.Capabilities) Grant {
	res, err := a.runner.Run(ctx, backend.Command{Argv: []string{"net", "session"}})
	if err == nil && res.ExitCode == 0 {
		return Grant{Decision: DecisionElevated, method: methodNone}
	}

	if caps.UserScope {
		return Grant{
			Decision: DecisionUserScope,
			Reason:   "not running as administrator; installing in user scope",
		}
	}
	return Grant{
		Decision: DecisionDenied,
		Reason:   fmt.Sprintf("%s requires administrator rights; re-run from an elevated shell", name),
	}
}
