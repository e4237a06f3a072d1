package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/txn"
)

// fakeRunner scripts command results keyed by the space-joined argv.
// Unexpected commands fail the call so tests stay strict about what an
// adapter runs.
type fakeRunner struct {
	mu      sync.Mutex
	results map[string]*CommandResult
	errs    map[string]error
	calls   []Command
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results: make(map[string]*CommandResult),
		errs:    make(map[string]error),
	}
}

func (f *fakeRunner) stub(argv string, res *CommandResult) {
	f.results[argv] = res
}

func (f *fakeRunner) stubErr(argv string, err error) {
	f.errs[argv] = err
}

func (f *fakeRunner) Run(_ context.Context, c Command) (*CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	key := strings.Join(c.Argv, " ")
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if res, ok := f.results[key]; ok {
		return res, nil
	}
	return nil, fmt.Errorf("unexpected command: %s", key)
}

// call returns the recorded invocation matching the argv, if any.
func (f *fakeRunner) call(argv string) (Command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.Join(c.Argv, " ") == argv {
			return c, true
		}
	}
	return Command{}, false
}

// fakeRecorder collects recorded effects.
type fakeRecorder struct {
	effects []txn.Effect
	err     error
}

func (f *fakeRecorder) Record(eff txn.Effect) error {
	if f.err != nil {
		return f.err
	}
	f.effects = append(f.effects, eff)
	return nil
}

func TestCapabilitiesSupports(t *testing.T) {
	caps := Capabilities{Search: true, Update: true}

	tests := []struct {
		kind action.Kind
		want bool
	}{
		{action.KindInstall, true},
		{action.KindRemove, true},
		{action.KindUpdate, true},
		{action.KindSearch, true},
		{action.KindList, false},
		{action.KindInfo, false},
		{action.KindWhere, false},
		{action.KindWhatIs, false},
	}
	for _, tt := range tests {
		if got := caps.Supports(tt.kind); got != tt.want {
			t.Errorf("Supports(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{
		Backend:  "apt",
		Kind:     ErrKindNetwork,
		Action:   action.KindInstall,
		Target:   "ripgrep",
		ExitCode: 100,
	}
	msg := err.Error()
	for _, want := range []string{"apt", "install", "network", "100", "ripgrep"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := context.Canceled
	err := runError("apt", action.Action{Kind: action.KindInstall}, "jq", cause)
	if err.Kind != ErrKindTimeout {
		t.Errorf("Kind = %s, want %s", err.Kind, ErrKindTimeout)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("errors.Is(err, context.Canceled) = false")
	}
}

func TestRunErrorSpawnKind(t *testing.T) {
	err := runError("apt", action.Action{Kind: action.KindInstall}, "jq", errors.New("no such binary"))
	if err.Kind != ErrKindSpawn {
		t.Errorf("Kind = %s, want %s", err.Kind, ErrKindSpawn)
	}
}

func TestTailBufferKeepsTail(t *testing.T) {
	b := &tailBuffer{max: 8}
	if _, err := b.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := b.String(); got != "89abcdef" {
		t.Errorf("String() = %q, want %q", got, "89abcdef")
	}
}

func TestSingleTargetRejectsMultiple(t *testing.T) {
	act := action.Action{
		Kind:    action.KindInstall,
		Targets: []action.Target{{Name: "a"}, {Name: "b"}},
	}
	if _, err := singleTarget(act); err == nil {
		t.Error("singleTarget() with two targets = nil, want error")
	}
}

func TestContainsAny(t *testing.T) {
	if !containsAny("E: Unable to locate package foo", "locate package") {
		t.Error("containsAny missed a present substring")
	}
	if containsAny("all good", "error", "failed") {
		t.Error("containsAny matched an absent substring")
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("\n\n  apt 2.7.14 (amd64)\nmore"); got != "apt 2.7.14 (amd64)" {
		t.Errorf("firstLine() = %q", got)
	}
	if got := firstLine(""); got != "" {
		t.Errorf("firstLine(empty) = %q, want empty", got)
	}
}
