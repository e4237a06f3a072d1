// Package privilege decides how mutating operations obtain the rights
// they need. The decision is made once per process, before the
// transaction begins, and never changes afterward; a step that turns
// out to need rights it did not request fails instead of escalating.
package privilege

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pakmux/pakmux/pkg/backend"
)

// ErrDenied marks operations the arbiter refused elevation for.
var ErrDenied = errors.New("privilege denied")

// Decision is the privilege level granted for one transaction.
type Decision string

const (
	// DecisionElevated runs root-requiring commands with elevated
	// rights, either inherited or through an elevation prefix.
	DecisionElevated Decision = "elevated"

	// DecisionUserScope proceeds without elevation. Backends that
	// install per-user work normally; anything needing root fails its
	// own permission check.
	DecisionUserScope Decision = "user_scope"

	// DecisionDenied blocks the operation before any effect is
	// recorded.
	DecisionDenied Decision = "denied"
)

// Validate checks if the decision is a valid privilege decision.
func (d Decision) Validate() error {
	switch d {
	case DecisionElevated, DecisionUserScope, DecisionDenied:
		return nil
	default:
		return fmt.Errorf("invalid privilege decision: %s", d)
	}
}

// method is how an elevated command actually acquires root.
type method string

const (
	// methodNone means the process already runs with the needed rights.
	methodNone method = "none"

	// methodSudo prefixes commands with non-interactive sudo.
	methodSudo method = "sudo"

	// methodOsascript wraps commands in the macOS authorization dialog.
	methodOsascript method = "osascript"
)

// Grant is the arbiter's immutable answer for one transaction.
type Grant struct {
	// Decision is the granted privilege level.
	Decision Decision

	// Reason explains user_scope and denied outcomes.
	Reason string

	method method
}

// Prefix returns the argv prefix for elevated commands, nil when none
// is needed.
func (g Grant) Prefix() []string {
	if g.Decision == DecisionElevated && g.method == methodSudo {
		return []string{"sudo", "-n"}
	}
	return nil
}

// apply rewrites a command per the grant. Only called for commands that
// requested elevation under an elevated grant.
func (g Grant) apply(cmd backend.Command) backend.Command {
	switch g.method {
	case methodSudo:
		// sudo does not forward the caller's environment overlay, so
		// the variables ride in the argv as assignments.
		argv := []string{"sudo", "-n"}
		argv = append(argv, envAssignments(cmd.Env)...)
		argv = append(argv, cmd.Argv...)
		cmd.Argv = argv
		cmd.Env = nil

	case methodOsascript:
		script := strings.Join(append(envAssignments(cmd.Env), shellQuote(cmd.Argv)...), " ")
		cmd.Argv = []string{
			"osascript", "-e",
			fmt.Sprintf("do shell script %q with administrator privileges", script),
		}
		cmd.Env = nil
	}
	return cmd
}

// envAssignments renders an env overlay as KEY=VALUE argv entries in a
// stable order.
func envAssignments(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// shellQuote single-quotes each argument for /bin/sh.
func shellQuote(argv []string) []string {
	out := make([]string, 0, len(argv))
	for _, a := range argv {
		out = append(out, "'"+strings.ReplaceAll(a, "'", `'\''`)+"'")
	}
	return out
}
