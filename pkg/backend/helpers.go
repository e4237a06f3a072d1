package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/txn"
)

// singleTarget extracts the one target of a mutating call. The engine
// splits multi-target actions before they reach an adapter so that each
// successful call maps to exactly one effect.
func singleTarget(act action.Action) (action.Target, error) {
	if len(act.Targets) != 1 {
		return action.Target{}, fmt.Errorf("adapter expects exactly one target, got %d", len(act.Targets))
	}
	return act.Targets[0], nil
}

// runError wraps a runner failure into a classified backend error.
func runError(name string, act action.Action, target string, err error) *Error {
	kind := ErrKindSpawn
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = ErrKindTimeout
	}
	return &Error{
		Backend: name,
		Kind:    kind,
		Action:  act.Kind,
		Target:  target,
		Cause:   err,
	}
}

// recordInstall appends the install effect when a recorder is present.
func recordInstall(rec Recorder, backend, pkg, version string) error {
	if rec == nil {
		return nil
	}
	if err := rec.Record(txn.NewPackageInstalled(backend, pkg, version)); err != nil {
		return fmt.Errorf("failed to record install effect: %w", err)
	}
	return nil
}

// recordRemove appends the removal effect when a recorder is present.
func recordRemove(rec Recorder, backend, pkg, version string) error {
	if rec == nil {
		return nil
	}
	if err := rec.Record(txn.NewPackageRemoved(backend, pkg, version, backend)); err != nil {
		return fmt.Errorf("failed to record remove effect: %w", err)
	}
	return nil
}

// containsAny reports whether s contains any of the given substrings.
func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// firstLine returns the first non-empty line of s, trimmed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// combinedOutput joins stdout and stderr for pattern matching against
// backends that are inconsistent about which stream errors go to.
func combinedOutput(res *CommandResult) string {
	return res.Stdout + "\n" + res.Stderr
}
