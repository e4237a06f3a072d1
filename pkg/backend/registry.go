package backend

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/telemetry"
)

// Registry holds the adapters for this host in priority order and caches
// probe results for the process lifetime.
type Registry struct {
	logger *telemetry.Logger

	mu       sync.Mutex
	backends map[string]Backend
	order    []string
	probes   map[string]Availability
}

// NewRegistry creates an empty registry. logger may be nil.
func NewRegistry(logger *telemetry.Logger) *Registry {
	if logger == nil {
		logger = telemetry.NewNopTelemetry().Logger
	}
	return &Registry{
		logger:   logger.NewComponentLogger("registry"),
		backends: make(map[string]Backend),
		probes:   make(map[string]Availability),
	}
}

// NewPlatformRegistry creates a registry with the adapters for the
// current platform registered in default priority order.
func NewPlatformRegistry(runner Runner, logger *telemetry.Logger) *Registry {
	r := NewRegistry(logger)
	for _, name := range DefaultPriority(runtime.GOOS) {
		switch name {
		case "apt":
			r.Register(NewApt(runner))
		case "dnf":
			r.Register(NewDnf(runner))
		case "pacman":
			r.Register(NewPacman(runner))
		case "brew":
			r.Register(NewBrew(runner))
		case "winget":
			r.Register(NewWinget(runner))
		case "choco":
			r.Register(NewChoco(runner))
		case "scoop":
			r.Register(NewScoop(runner))
		}
	}
	return r
}

// DefaultPriority returns the fixed backend order for an operating
// system. The first backend that answers anything other than not_found
// wins, so order is policy.
func DefaultPriority(goos string) []string {
	switch goos {
	case "linux":
		return []string{"apt", "dnf", "pacman"}
	case "darwin":
		return []string{"brew"}
	case "windows":
		return []string{"winget", "choco", "scoop"}
	default:
		return nil
	}
}

// Register adds a backend at the end of the priority order. Registering
// the same name twice replaces the adapter without reordering.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := b.Name()
	if _, exists := r.backends[name]; !exists {
		r.order = append(r.order, name)
	}
	r.backends[name] = b
}

// Get returns the named backend.
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend: %s", name)
	}
	return b, nil
}

// Priority returns the current backend order.
func (r *Registry) Priority() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SetPriority reorders backends per a configuration override. Every name
// must be registered; registered backends missing from the list keep
// their relative order after the listed ones.
func (r *Registry) SetPriority(names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(names))
	order := make([]string, 0, len(r.order))
	for _, name := range names {
		if _, ok := r.backends[name]; !ok {
			return fmt.Errorf("backend priority names unknown backend: %s", name)
		}
		if seen[name] {
			return fmt.Errorf("backend priority lists %s twice", name)
		}
		seen[name] = true
		order = append(order, name)
	}
	for _, name := range r.order {
		if !seen[name] {
			order = append(order, name)
		}
	}
	r.order = order
	return nil
}

// Probe returns the backend's availability, probing at most once per
// process per backend.
func (r *Registry) Probe(ctx context.Context, name string) Availability {
	r.mu.Lock()
	if avail, ok := r.probes[name]; ok {
		r.mu.Unlock()
		return avail
	}
	b, ok := r.backends[name]
	r.mu.Unlock()
	if !ok {
		return Availability{Reason: fmt.Sprintf("unknown backend: %s", name)}
	}

	avail := b.Probe(ctx)
	r.logger.Zerolog().Debug().
		Str("backend", name).
		Bool("available", avail.Available).
		Str("version", avail.Version).
		Msg("probed backend")

	r.mu.Lock()
	r.probes[name] = avail
	r.mu.Unlock()
	return avail
}

// Invalidate drops the cached probe result for a backend, forcing the
// next Probe to run again.
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.probes, name)
}

// Available returns the available backends in priority order.
func (r *Registry) Available(ctx context.Context) []Backend {
	var out []Backend
	for _, name := range r.Priority() {
		if !r.Probe(ctx, name).Available {
			continue
		}
		if b, err := r.Get(name); err == nil {
			out = append(out, b)
		}
	}
	return out
}

// Candidates returns the backends eligible to attempt the action kind,
// in priority order. A pinned backend narrows the list to that backend
// and fails when it is unavailable or lacks the capability.
func (r *Registry) Candidates(ctx context.Context, kind action.Kind, pinned string) ([]Backend, error) {
	if pinned != "" {
		b, err := r.Get(pinned)
		if err != nil {
			return nil, err
		}
		if avail := r.Probe(ctx, pinned); !avail.Available {
			return nil, fmt.Errorf("backend %s is not available: %s", pinned, avail.Reason)
		}
		if !b.Capabilities().Supports(kind) {
			return nil, fmt.Errorf("backend %s: %s: %w", pinned, kind, ErrUnsupported)
		}
		return []Backend{b}, nil
	}

	var out []Backend
	for _, b := range r.Available(ctx) {
		if b.Capabilities().Supports(kind) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no available backend supports %s", kind)
	}
	return out, nil
}
