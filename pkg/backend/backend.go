// Package backend adapts native package managers (apt, dnf, pacman,
// homebrew, winget, chocolatey, scoop) to one canonical contract. Every
// adapter translates Actions into direct argument-vector invocations,
// classifies the result with its own exit-code and output table, and
// reports a canonical Outcome. Nothing outside this package branches on
// backend identity.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/txn"
)

// ErrUnsupported is returned when a backend does not implement the
// requested action kind. Callers check capabilities first; this error is
// the backstop for pinned-backend requests.
var ErrUnsupported = errors.New("operation not supported by backend")

// OutcomeKind classifies what a backend call accomplished.
type OutcomeKind string

const (
	// OutcomeSuccess means the backend applied the action.
	OutcomeSuccess OutcomeKind = "success"

	// OutcomeAlreadySatisfied means the system was already in the
	// requested state. No effect is recorded for these.
	OutcomeAlreadySatisfied OutcomeKind = "already_satisfied"

	// OutcomeNotFound means the backend does not know the package. The
	// engine falls through to the next backend in priority order.
	OutcomeNotFound OutcomeKind = "not_found"

	// OutcomePartialFailure means the backend started applying the
	// action and stopped partway. Recoverable partial failures are
	// offered to the recovery table before the engine gives up.
	OutcomePartialFailure OutcomeKind = "partial_failure"
)

// Outcome is the canonical result of one backend call.
type Outcome struct {
	// Kind classifies the result.
	Kind OutcomeKind `json:"kind"`

	// Backend is the adapter that produced this outcome.
	Backend string `json:"backend"`

	// Message is a short human-readable summary, surfaced by the UI
	// collaborator.
	Message string `json:"message,omitempty"`

	// Packages carries rows for query actions (search, list, info,
	// where, whatis).
	Packages []Package `json:"packages,omitempty"`

	// Recoverable is meaningful only for partial_failure: true when the
	// failure matches a condition the recovery table may fix.
	Recoverable bool `json:"recoverable,omitempty"`

	// ExitCode, Stdout and Stderr preserve the raw evidence behind a
	// partial_failure classification so the recovery table can match
	// against it.
	ExitCode int    `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// Package is one package row in a query outcome.
type Package struct {
	// Name is the package name in the backend's namespace.
	Name string `json:"name"`

	// Version is the installed or candidate version, when known.
	Version string `json:"version,omitempty"`

	// Description is the backend's one-line summary.
	Description string `json:"description,omitempty"`

	// Installed reports whether the package is present locally.
	Installed bool `json:"installed,omitempty"`

	// Backend names the adapter that knows this package.
	Backend string `json:"backend,omitempty"`

	// Location is where the package lives on disk, for where queries.
	Location string `json:"location,omitempty"`
}

// Availability is the cached result of probing for a backend.
type Availability struct {
	// Available reports whether the backend binary is usable.
	Available bool `json:"available"`

	// Version is the backend's own version string, when it reported one.
	Version string `json:"version,omitempty"`

	// Reason explains unavailability.
	Reason string `json:"reason,omitempty"`
}

// Capabilities declares what a backend can do, so unsupported requests
// fail with a typed error before any process is spawned.
type Capabilities struct {
	// Search, List, Info, Where, WhatIs flag the query kinds the
	// backend implements. Install and remove are universal.
	Search bool `json:"search"`
	List   bool `json:"list"`
	Info   bool `json:"info"`
	Where  bool `json:"where"`
	WhatIs bool `json:"whatis"`

	// Update flags support for upgrading installed packages.
	Update bool `json:"update"`

	// VersionPin flags support for installing an exact version.
	VersionPin bool `json:"version_pin"`

	// RequiresElevation is true when mutating calls need root or
	// administrator rights.
	RequiresElevation bool `json:"requires_elevation"`

	// UserScope is true when the backend installs into the invoking
	// user's environment without elevation.
	UserScope bool `json:"user_scope"`
}

// Supports reports whether the backend implements the given kind.
func (c Capabilities) Supports(k action.Kind) bool {
	switch k {
	case action.KindInstall, action.KindRemove:
		return true
	case action.KindUpdate:
		return c.Update
	case action.KindSearch:
		return c.Search
	case action.KindList:
		return c.List
	case action.KindInfo:
		return c.Info
	case action.KindWhere:
		return c.Where
	case action.KindWhatIs:
		return c.WhatIs
	default:
		return false
	}
}

// Recorder accepts the effect of a successful mutating call. The journal
// satisfies this through the engine; tests supply stubs. A successful
// mutating call records exactly one effect before Execute returns.
type Recorder interface {
	Record(eff txn.Effect) error
}

// Backend is the adapter contract, one implementation per package
// manager.
type Backend interface {
	// Name returns the canonical backend name ("apt", "brew", ...).
	Name() string

	// Probe checks whether the backend is usable without mutating
	// anything. Results are cached by the registry for the process
	// lifetime.
	Probe(ctx context.Context) Availability

	// Capabilities declares supported operations.
	Capabilities() Capabilities

	// Execute applies the action. rec receives the resulting effect and
	// may be nil for read-only kinds. A returned *Error means the call
	// failed for infrastructure reasons; domain results, including
	// partial failures, come back as an Outcome.
	Execute(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error)
}

// ErrorKind classifies an infrastructure-level backend failure.
type ErrorKind string

const (
	// ErrKindSpawn means the backend binary could not be started.
	ErrKindSpawn ErrorKind = "spawn"

	// ErrKindTimeout means the call was cancelled or timed out.
	ErrKindTimeout ErrorKind = "timeout"

	// ErrKindNetwork means the backend could not reach its repositories.
	ErrKindNetwork ErrorKind = "network"

	// ErrKindPermission means the backend refused for lack of rights.
	ErrKindPermission ErrorKind = "permission"

	// ErrKindLocked means the backend's own database is locked by
	// another process.
	ErrKindLocked ErrorKind = "locked"

	// ErrKindDiskFull means the backend ran out of disk space.
	ErrKindDiskFull ErrorKind = "disk_full"

	// ErrKindUnknown is the fallback for unclassified failures.
	ErrKindUnknown ErrorKind = "unknown"
)

// Error is a classified backend failure carrying the raw evidence the
// recovery table matches against.
type Error struct {
	// Backend is the adapter that failed.
	Backend string

	// Kind classifies the failure.
	Kind ErrorKind

	// Action is the operation that was being performed.
	Action action.Kind

	// Target is the package involved, when the call had one.
	Target string

	// ExitCode is the backend process exit code, when it ran.
	ExitCode int

	// Stdout and Stderr are the captured output tails.
	Stdout string
	Stderr string

	// Cause is the underlying error for spawn and timeout kinds.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s failed (%s", e.Backend, e.Action, e.Kind)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(", exit %d", e.ExitCode)
	}
	msg += ")"
	if e.Target != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Target)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes the underlying cause for errors.Is checks, notably
// context cancellation.
func (e *Error) Unwrap() error {
	return e.Cause
}

// newError builds a classified failure from a command result.
func newError(name string, kind ErrorKind, act action.Action, target string, res *CommandResult) *Error {
	e := &Error{
		Backend: name,
		Kind:    kind,
		Action:  act.Kind,
		Target:  target,
	}
	if res != nil {
		e.ExitCode = res.ExitCode
		e.Stdout = res.Stdout
		e.Stderr = res.Stderr
	}
	return e
}
