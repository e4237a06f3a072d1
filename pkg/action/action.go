// Package action defines the backend-independent description of a package
// operation. The CLI and the dispatcher build Actions; the engine routes
// them to backends without either side knowing the other's vocabulary.
package action

import (
	"fmt"
	"strings"
)

// Kind identifies the operation an Action performs.
type Kind string

const (
	// KindInstall installs one or more packages.
	KindInstall Kind = "install"

	// KindRemove removes one or more packages.
	KindRemove Kind = "remove"

	// KindUpdate updates one or more packages, or everything when no
	// targets are given.
	KindUpdate Kind = "update"

	// KindSearch searches the backend catalogs for a term.
	KindSearch Kind = "search"

	// KindList lists installed packages.
	KindList Kind = "list"

	// KindInfo shows details for a single package.
	KindInfo Kind = "info"

	// KindWhere reports which backend provides a package and where its
	// files land.
	KindWhere Kind = "where"

	// KindWhatIs shows the one-line description of a single package.
	KindWhatIs Kind = "whatis"
)

// IsMutating returns true if the kind changes system state and therefore
// requires the transaction journal, the process lock, and a privilege
// decision.
func (k Kind) IsMutating() bool {
	switch k {
	case KindInstall, KindRemove, KindUpdate:
		return true
	default:
		return false
	}
}

// Validate checks if the kind is a valid operation kind.
func (k Kind) Validate() error {
	switch k {
	case KindInstall, KindRemove, KindUpdate, KindSearch, KindList, KindInfo,
		KindWhere, KindWhatIs:
		return nil
	default:
		return fmt.Errorf("invalid action kind: %s", k)
	}
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Target is one package named by an Action, with an optional version
// constraint ("ripgrep", "ripgrep@13", "python@>=3.11").
type Target struct {
	// Name is the package name as the user typed it.
	Name string `json:"name"`

	// Constraint is the optional version constraint following '@'.
	Constraint string `json:"constraint,omitempty"`

	// Language tags the target as a managed language runtime instead of
	// a backend package. Set by the lang subcommands, never by
	// ParseTarget.
	Language string `json:"language,omitempty"`
}

// String renders the target back to its name@constraint form.
func (t Target) String() string {
	if t.Constraint == "" {
		return t.Name
	}
	return t.Name + "@" + t.Constraint
}

// ParseTarget splits a command-line package argument into name and
// optional constraint.
func ParseTarget(arg string) (Target, error) {
	name, constraint, _ := strings.Cut(arg, "@")
	if name == "" {
		return Target{}, fmt.Errorf("invalid package target: %q", arg)
	}
	return Target{Name: name, Constraint: constraint}, nil
}

// ParseTargets parses a list of command-line package arguments.
func ParseTargets(args []string) ([]Target, error) {
	targets := make([]Target, 0, len(args))
	for _, arg := range args {
		t, err := ParseTarget(arg)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// Options carries behavior flags that backends may honor.
type Options struct {
	// AssumeYes answers yes to backend prompts. Backends force their
	// non-interactive flags regardless; this exists so callers can
	// express intent explicitly.
	AssumeYes bool `json:"assume_yes,omitempty"`

	// DryRun asks the backend to report what it would do without doing it.
	DryRun bool `json:"dry_run,omitempty"`

	// Refresh refreshes backend metadata before the operation.
	Refresh bool `json:"refresh,omitempty"`

	// Backend pins the operation to a single named backend, skipping the
	// platform priority order.
	Backend string `json:"backend,omitempty"`
}

// Action is one backend-independent operation request.
type Action struct {
	// Kind is the operation to perform.
	Kind Kind `json:"kind"`

	// Targets are the packages the operation applies to, in user order.
	// Search uses Targets[0].Name as the query term. Update and list may
	// have no targets.
	Targets []Target `json:"targets,omitempty"`

	// Options are behavior flags.
	Options Options `json:"options,omitempty"`
}

// Validate checks the action for internal consistency.
func (a *Action) Validate() error {
	if err := a.Kind.Validate(); err != nil {
		return err
	}
	switch a.Kind {
	case KindInstall, KindRemove, KindSearch, KindInfo, KindWhere, KindWhatIs:
		if len(a.Targets) == 0 {
			return fmt.Errorf("%s requires at least one package", a.Kind)
		}
	}
	switch a.Kind {
	case KindInfo, KindWhere, KindWhatIs:
		if len(a.Targets) != 1 {
			return fmt.Errorf("%s takes exactly one package, got %d", a.Kind, len(a.Targets))
		}
	}
	for _, t := range a.Targets {
		if t.Name == "" {
			return fmt.Errorf("empty package name in targets")
		}
	}
	return nil
}

// TargetNames returns the bare package names in order.
func (a *Action) TargetNames() []string {
	names := make([]string, len(a.Targets))
	for i, t := range a.Targets {
		names[i] = t.Name
	}
	return names
}

// String renders the action for logs and progress messages.
func (a *Action) String() string {
	if len(a.Targets) == 0 {
		return string(a.Kind)
	}
	parts := make([]string, len(a.Targets))
	for i, t := range a.Targets {
		parts[i] = t.String()
	}
	return fmt.Sprintf("%s %s", a.Kind, strings.Join(parts, " "))
}
