package backend

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/pakmux/pakmux/pkg/action"
)

// stubBackend is a scriptable Backend for registry and fan-out tests.
type stubBackend struct {
	name    string
	avail   Availability
	caps    Capabilities
	probes  atomic.Int32
	execute func(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error)
}

func newStubBackend(name string) *stubBackend {
	return &stubBackend{
		name:  name,
		avail: Availability{Available: true, Version: name + " 1.0"},
		caps:  Capabilities{Search: true, List: true, Info: true, Update: true},
	}
}

func (s *stubBackend) Name() string {
	return s.name
}

func (s *stubBackend) Probe(context.Context) Availability {
	s.probes.Add(1)
	return s.avail
}

func (s *stubBackend) Capabilities() Capabilities {
	return s.caps
}

func (s *stubBackend) Execute(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	if s.execute != nil {
		return s.execute(ctx, act, rec)
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: s.name}, nil
}

func TestDefaultPriority(t *testing.T) {
	tests := []struct {
		goos string
		want []string
	}{
		{"linux", []string{"apt", "dnf", "pacman"}},
		{"darwin", []string{"brew"}},
		{"windows", []string{"winget", "choco", "scoop"}},
		{"plan9", nil},
	}
	for _, tt := range tests {
		if got := DefaultPriority(tt.goos); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("DefaultPriority(%s) = %v, want %v", tt.goos, got, tt.want)
		}
	}
}

func TestRegistryPriorityFollowsRegistration(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(newStubBackend("apt"))
	reg.Register(newStubBackend("dnf"))
	reg.Register(newStubBackend("pacman"))

	want := []string{"apt", "dnf", "pacman"}
	if got := reg.Priority(); !reflect.DeepEqual(got, want) {
		t.Errorf("Priority() = %v, want %v", got, want)
	}

	// Re-registering a name replaces the adapter without reordering.
	reg.Register(newStubBackend("apt"))
	if got := reg.Priority(); !reflect.DeepEqual(got, want) {
		t.Errorf("Priority() after re-register = %v, want %v", got, want)
	}
}

func TestRegistrySetPriority(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(newStubBackend("apt"))
	reg.Register(newStubBackend("dnf"))
	reg.Register(newStubBackend("pacman"))

	if err := reg.SetPriority([]string{"pacman", "apt"}); err != nil {
		t.Fatalf("SetPriority() error = %v", err)
	}
	// Unlisted backends keep their place after the listed ones.
	want := []string{"pacman", "apt", "dnf"}
	if got := reg.Priority(); !reflect.DeepEqual(got, want) {
		t.Errorf("Priority() = %v, want %v", got, want)
	}
}

func TestRegistrySetPriorityRejectsBadInput(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(newStubBackend("apt"))
	reg.Register(newStubBackend("dnf"))

	if err := reg.SetPriority([]string{"zypper"}); err == nil {
		t.Error("SetPriority() with unknown backend = nil, want error")
	}
	if err := reg.SetPriority([]string{"apt", "apt"}); err == nil {
		t.Error("SetPriority() with duplicate = nil, want error")
	}
	// Failed overrides leave the order untouched.
	want := []string{"apt", "dnf"}
	if got := reg.Priority(); !reflect.DeepEqual(got, want) {
		t.Errorf("Priority() after failed override = %v, want %v", got, want)
	}
}

func TestRegistryProbesOncePerProcess(t *testing.T) {
	reg := NewRegistry(nil)
	stub := newStubBackend("apt")
	reg.Register(stub)

	for i := 0; i < 3; i++ {
		if avail := reg.Probe(context.Background(), "apt"); !avail.Available {
			t.Fatalf("Probe() #%d = %+v, want available", i, avail)
		}
	}
	if n := stub.probes.Load(); n != 1 {
		t.Errorf("backend probed %d times, want 1", n)
	}

	reg.Invalidate("apt")
	reg.Probe(context.Background(), "apt")
	if n := stub.probes.Load(); n != 2 {
		t.Errorf("backend probed %d times after Invalidate, want 2", n)
	}
}

func TestRegistryProbeUnknownBackend(t *testing.T) {
	reg := NewRegistry(nil)
	if avail := reg.Probe(context.Background(), "zypper"); avail.Available || avail.Reason == "" {
		t.Errorf("Probe(unknown) = %+v", avail)
	}
}

func TestRegistryAvailableSkipsUnavailable(t *testing.T) {
	reg := NewRegistry(nil)
	apt := newStubBackend("apt")
	apt.avail = Availability{Reason: "apt-get not usable"}
	reg.Register(apt)
	reg.Register(newStubBackend("dnf"))

	got := reg.Available(context.Background())
	if len(got) != 1 || got[0].Name() != "dnf" {
		names := make([]string, len(got))
		for i, b := range got {
			names[i] = b.Name()
		}
		t.Errorf("Available() = %v, want [dnf]", names)
	}
}

func TestRegistryCandidatesPinned(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(newStubBackend("apt"))
	reg.Register(newStubBackend("dnf"))

	got, err := reg.Candidates(context.Background(), action.KindInstall, "dnf")
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	if len(got) != 1 || got[0].Name() != "dnf" {
		t.Errorf("Candidates(pinned dnf) returned %d backends", len(got))
	}
}

func TestRegistryCandidatesPinnedUnavailable(t *testing.T) {
	reg := NewRegistry(nil)
	apt := newStubBackend("apt")
	apt.avail = Availability{Reason: "apt-get not usable"}
	reg.Register(apt)

	if _, err := reg.Candidates(context.Background(), action.KindInstall, "apt"); err == nil {
		t.Error("Candidates() with unavailable pin = nil error")
	}
}

func TestRegistryCandidatesPinnedUnsupported(t *testing.T) {
	reg := NewRegistry(nil)
	winget := newStubBackend("winget")
	winget.caps = Capabilities{Search: true}
	reg.Register(winget)

	act := action.KindWhere
	_, err := reg.Candidates(context.Background(), act, "winget")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Candidates() error = %v, want ErrUnsupported", err)
	}
}

func TestRegistryCandidatesFiltersByCapability(t *testing.T) {
	reg := NewRegistry(nil)
	apt := newStubBackend("apt")
	apt.caps = Capabilities{}
	reg.Register(apt)
	reg.Register(newStubBackend("dnf"))

	got, err := reg.Candidates(context.Background(), action.KindSearch, "")
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	if len(got) != 1 || got[0].Name() != "dnf" {
		t.Errorf("Candidates(search) returned %d backends", len(got))
	}

	// Install needs no capability flag, so both qualify.
	got, err = reg.Candidates(context.Background(), action.KindInstall, "")
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Candidates(install) returned %d backends, want 2", len(got))
	}
}

func TestRegistryCandidatesNoneEligible(t *testing.T) {
	reg := NewRegistry(nil)
	apt := newStubBackend("apt")
	apt.avail = Availability{Reason: "apt-get not usable"}
	reg.Register(apt)

	if _, err := reg.Candidates(context.Background(), action.KindInstall, ""); err == nil {
		t.Error("Candidates() with nothing available = nil error")
	}
}
