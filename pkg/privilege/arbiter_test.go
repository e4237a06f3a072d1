package privilege

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/backend"
)

// fakeRunner scripts probe results keyed by the space-joined argv.
type fakeRunner struct {
	results map[string]*backend.CommandResult
	calls   []backend.Command
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: make(map[string]*backend.CommandResult)}
}

func (f *fakeRunner) stub(argv string, res *backend.CommandResult) {
	f.results[argv] = res
}

func (f *fakeRunner) Run(_ context.Context, c backend.Command) (*backend.CommandResult, error) {
	f.calls = append(f.calls, c)
	key := strings.Join(c.Argv, " ")
	if res, ok := f.results[key]; ok {
		return res, nil
	}
	return nil, fmt.Errorf("unexpected command: %s", key)
}

// stubBackend carries just a name and capabilities for arbiter tests.
type stubBackend struct {
	name string
	caps backend.Capabilities
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Probe(context.Context) backend.Availability {
	return backend.Availability{Available: true}
}

func (s *stubBackend) Capabilities() backend.Capabilities { return s.caps }

func (s *stubBackend) Execute(context.Context, action.Action, backend.Recorder) (*backend.Outcome, error) {
	return nil, nil
}

func testArbiter(runner backend.Runner, goos string, euid int, interactive bool) *Arbiter {
	a := NewArbiter(runner, nil)
	a.goos = goos
	a.euid = func() int { return euid }
	a.interactive = func() bool { return interactive }
	return a
}

func rootBackend(name string) *stubBackend {
	return &stubBackend{name: name, caps: backend.Capabilities{RequiresElevation: true}}
}

func userScopeBackend(name string) *stubBackend {
	return &stubBackend{name: name, caps: backend.Capabilities{RequiresElevation: true, UserScope: true}}
}

func installJq() action.Action {
	return action.Action{Kind: action.KindInstall, Targets: []action.Target{{Name: "jq"}}}
}

func TestDecideReadOnlyNeverProbes(t *testing.T) {
	runner := newFakeRunner()
	arb := testArbiter(runner, "linux", 1000, false)

	act := action.Action{Kind: action.KindSearch, Targets: []action.Target{{Name: "jq"}}}
	grant := arb.Decide(context.Background(), act, rootBackend("apt"))
	if grant.Decision != DecisionUserScope {
		t.Errorf("decision = %s, want %s", grant.Decision, DecisionUserScope)
	}
	if len(runner.calls) != 0 {
		t.Errorf("read-only decision ran %d commands", len(runner.calls))
	}
}

func TestDecideUnprivilegedBackendSkipsProbe(t *testing.T) {
	runner := newFakeRunner()
	arb := testArbiter(runner, "darwin", 501, true)

	brew := &stubBackend{name: "brew", caps: backend.Capabilities{UserScope: true}}
	grant := arb.Decide(context.Background(), installJq(), brew)
	if grant.Decision != DecisionUserScope {
		t.Errorf("decision = %s, want %s", grant.Decision, DecisionUserScope)
	}
	if len(runner.calls) != 0 {
		t.Errorf("unprivileged backend decision ran %d commands", len(runner.calls))
	}
}

func TestDecideRootIsElevatedWithoutPrefix(t *testing.T) {
	runner := newFakeRunner()
	arb := testArbiter(runner, "linux", 0, false)

	grant := arb.Decide(context.Background(), installJq(), rootBackend("apt"))
	if grant.Decision != DecisionElevated {
		t.Fatalf("decision = %s, want %s", grant.Decision, DecisionElevated)
	}
	if grant.Prefix() != nil {
		t.Errorf("Prefix() = %v, want nil for a root process", grant.Prefix())
	}
	if len(runner.calls) != 0 {
		t.Errorf("root decision ran %d commands", len(runner.calls))
	}
}

func TestDecideSudoProbeGrantsElevation(t *testing.T) {
	runner := newFakeRunner()
	runner.stub("sudo -n true", &backend.CommandResult{ExitCode: 0})
	arb := testArbiter(runner, "linux", 1000, false)

	grant := arb.Decide(context.Background(), installJq(), rootBackend("apt"))
	if grant.Decision != DecisionElevated {
		t.Fatalf("decision = %s, want %s", grant.Decision, DecisionElevated)
	}
	want := []string{"sudo", "-n"}
	got := grant.Prefix()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Prefix() = %v, want %v", got, want)
	}
}

// A failed probe must downgrade, never prompt. The only command allowed
// is the single non-interactive probe.
func TestDecideFailedProbeDowngradesWithoutPrompting(t *testing.T) {
	runner := newFakeRunner()
	runner.stub("sudo -n true", &backend.CommandResult{
		ExitCode: 1,
		Stderr:   "sudo: a password is required\n",
	})
	arb := testArbiter(runner, "linux", 1000, false)

	grant := arb.Decide(context.Background(), installJq(), userScopeBackend("scoop"))
	if grant.Decision != DecisionUserScope {
		t.Errorf("decision = %s, want %s", grant.Decision, DecisionUserScope)
	}
	if len(runner.calls) != 1 {
		t.Errorf("probe ran %d commands, want exactly the sudo probe", len(runner.calls))
	}
}

func TestDecideFailedProbeDeniesRootOnlyBackend(t *testing.T) {
	runner := newFakeRunner()
	runner.stub("sudo -n true", &backend.CommandResult{ExitCode: 1})
	arb := testArbiter(runner, "linux", 1000, false)

	grant := arb.Decide(context.Background(), installJq(), rootBackend("apt"))
	if grant.Decision != DecisionDenied {
		t.Fatalf("decision = %s, want %s", grant.Decision, DecisionDenied)
	}
	if !strings.Contains(grant.Reason, "apt") {
		t.Errorf("denial reason %q does not name the backend", grant.Reason)
	}
}

func TestDecideWindowsAdministrator(t *testing.T) {
	runner := newFakeRunner()
	runner.stub("net session", &backend.CommandResult{ExitCode: 0})
	arb := testArbiter(runner, "windows", 1000, true)

	grant := arb.Decide(context.Background(), installJq(), rootBackend("choco"))
	if grant.Decision != DecisionElevated {
		t.Errorf("decision = %s, want %s", grant.Decision, DecisionElevated)
	}
	if grant.Prefix() != nil {
		t.Errorf("Prefix() = %v, want nil; the token is already elevated", grant.Prefix())
	}
}

func TestDecideWindowsWithoutAdminRights(t *testing.T) {
	runner := newFakeRunner()
	runner.stub("net session", &backend.CommandResult{ExitCode: 2, Stderr: "Access is denied.\n"})
	arb := testArbiter(runner, "windows", 1000, true)

	if grant := arb.Decide(context.Background(), installJq(), userScopeBackend("winget")); grant.Decision != DecisionUserScope {
		t.Errorf("user-scope backend decision = %s, want %s", grant.Decision, DecisionUserScope)
	}

	grant := arb.Decide(context.Background(), installJq(), rootBackend("choco"))
	if grant.Decision != DecisionDenied {
		t.Fatalf("root-only backend decision = %s, want %s", grant.Decision, DecisionDenied)
	}
	if !strings.Contains(grant.Reason, "elevated shell") {
		t.Errorf("denial reason %q carries no instructions", grant.Reason)
	}
}

func TestDecideDarwinAuthorizationDialog(t *testing.T) {
	runner := newFakeRunner()
	runner.stub("sudo -n true", &backend.CommandResult{ExitCode: 1})
	runner.stub(`osascript -e do shell script "/usr/bin/true" with administrator privileges`, &backend.CommandResult{ExitCode: 0})
	arb := testArbiter(runner, "darwin", 501, true)

	grant := arb.Decide(context.Background(), installJq(), rootBackend("installer"))
	if grant.Decision != DecisionElevated {
		t.Errorf("decision = %s, want %s", grant.Decision, DecisionElevated)
	}
}

func TestDecideDarwinCancelledAuthorization(t *testing.T) {
	runner := newFakeRunner()
	runner.stub("sudo -n true", &backend.CommandResult{ExitCode: 1})
	runner.stub(`osascript -e do shell script "/usr/bin/true" with administrator privileges`, &backend.CommandResult{
		ExitCode: 1,
		Stderr:   "execution error: User canceled. (-128)\n",
	})
	arb := testArbiter(runner, "darwin", 501, true)

	grant := arb.Decide(context.Background(), installJq(), userScopeBackend("installer"))
	if grant.Decision != DecisionUserScope {
		t.Errorf("decision after cancel = %s, want %s", grant.Decision, DecisionUserScope)
	}
}

// Non-interactive sessions never see the authorization dialog.
func TestDecideDarwinNonInteractiveSkipsDialog(t *testing.T) {
	runner := newFakeRunner()
	runner.stub("sudo -n true", &backend.CommandResult{ExitCode: 1})
	arb := testArbiter(runner, "darwin", 501, false)

	grant := arb.Decide(context.Background(), installJq(), rootBackend("installer"))
	if grant.Decision != DecisionDenied {
		t.Errorf("decision = %s, want %s", grant.Decision, DecisionDenied)
	}
	if len(runner.calls) != 1 {
		t.Errorf("ran %d commands, want only the sudo probe", len(runner.calls))
	}
}

func TestDecisionValidate(t *testing.T) {
	for _, d := range []Decision{DecisionElevated, DecisionUserScope, DecisionDenied} {
		if err := d.Validate(); err != nil {
			t.Errorf("Validate(%s) = %v", d, err)
		}
	}
	if err := Decision("sometimes").Validate(); err == nil {
		t.Error("Validate(invalid) = nil, want error")
	}
}
