package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/pakmux/pakmux/pkg/action"
)

// Choco adapts Chocolatey. Mutations need an administrator shell;
// there is no sudo equivalent to prefix, so an unprivileged run fails
// with a permission error and instructions rather than re-launching
// itself elevated.
type Choco struct {
	runner Runner
}

// NewChoco creates the chocolatey adapter.
func NewChoco(runner Runner) *Choco {
	return &Choco{runner: runner}
}

// Name returns "choco".
func (c *Choco) Name() string {
	return "choco"
}

// Probe checks for a usable choco.
func (c *Choco) Probe(ctx context.Context) Availability {
	res, err := c.runner.Run(ctx, Command{Argv: []string{"choco", "--version"}})
	if err != nil {
		return Availability{Reason: fmt.Sprintf("choco not usable: %v", err)}
	}
	if res.ExitCode != 0 {
		return Availability{Reason: fmt.Sprintf("choco --version exited %d", res.ExitCode)}
	}
	return Availability{Available: true, Version: firstLine(res.Stdout)}
}

// Capabilities reports chocolatey's support matrix.
func (c *Choco) Capabilities() Capabilities {
	return Capabilities{
		Search:            true,
		List:              true,
		Info:              true,
		WhatIs:            true,
		Update:            true,
		VersionPin:        true,
		RequiresElevation: true,
	}
}

// Execute routes the action to the matching choco invocation.
func (c *Choco) Execute(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	switch act.Kind {
	case action.KindInstall:
		return c.install(ctx, act, rec)
	case action.KindRemove:
		return c.remove(ctx, act, rec)
	case action.KindUpdate:
		return c.update(ctx, act)
	case action.KindSearch:
		return c.search(ctx, act)
	case action.KindList:
		return c.list(ctx)
	case action.KindInfo, action.KindWhatIs:
		return c.info(ctx, act)
	default:
		return nil, fmt.Errorf("choco: %s: %w", act.Kind, ErrUnsupported)
	}
}

func (c *Choco) install(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}

	argv := []string{"choco", "install", target.Name, "-y"}
	if target.Constraint != "" {
		argv = append(argv, "--version", target.Constraint)
	}

	res, err := c.runner.Run(ctx, Command{Argv: argv, Passthrough: true})
	if err != nil {
		return nil, runError("choco", act, target.Name, err)
	}

	outcome, cerr := c.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		if err := recordInstall(rec, "choco", target.Name, target.Constraint); err != nil {
			return nil, err
		}
		outcome.Message = fmt.Sprintf("installed %s", target.Name)
	}
	return outcome, nil
}

func (c *Choco) remove(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}

	res, err := c.runner.Run(ctx, Command{
		Argv:        []string{"choco", "uninstall", target.Name, "-y"},
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("choco", act, target.Name, err)
	}

	if strings.Contains(combinedOutput(res), "is not installed") {
		return &Outcome{
			Kind:    OutcomeAlreadySatisfied,
			Backend: "choco",
			Message: fmt.Sprintf("%s is not installed", target.Name),
		}, nil
	}

	outcome, cerr := c.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		if err := recordRemove(rec, "choco", target.Name, ""); err != nil {
			return nil, err
		}
		outcome.Message = fmt.Sprintf("removed %s", target.Name)
	}
	return outcome, nil
}

// update upgrades one package or everything, recording nothing for
// rollback.
func (c *Choco) update(ctx context.Context, act action.Action) (*Outcome, error) {
	argv := []string{"choco", "upgrade"}
	target := ""
	if len(act.Targets) > 0 {
		t, err := singleTarget(act)
		if err != nil {
			return nil, err
		}
		target = t.Name
		argv = append(argv, target)
	} else {
		argv = append(argv, "all")
	}
	argv = append(argv, "-y")

	res, err := c.runner.Run(ctx, Command{Argv: argv, Passthrough: true})
	if err != nil {
		return nil, runError("choco", act, target, err)
	}

	outcome, cerr := c.classify(act, target, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		outcome.Message = "upgrade completed"
	}
	return outcome, nil
}

func (c *Choco) search(ctx context.Context, act action.Action) (*Outcome, error) {
	term := act.Targets[0].Name
	// --limit-output switches to machine-readable name|version lines.
	res, err := c.runner.Run(ctx, Command{
		Argv: []string{"choco", "search", term, "--limit-output"},
	})
	if err != nil {
		return nil, runError("choco", act, term, err)
	}
	if res.ExitCode != 0 {
		return nil, newError("choco", ErrKindUnknown, act, term, res)
	}

	pkgs := parseChocoLimitOutput(res.Stdout, false)
	if len(pkgs) == 0 {
		return &Outcome{Kind: OutcomeNotFound, Backend: "choco", Message: fmt.Sprintf("no packages match %q", term)}, nil
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "choco", Packages: pkgs}, nil
}

func (c *Choco) list(ctx context.Context) (*Outcome, error) {
	res, err := c.runner.Run(ctx, Command{
		Argv: []string{"choco", "list", "--limit-output"},
	})
	if err != nil {
		return nil, runError("choco", action.Action{Kind: action.KindList}, "", err)
	}
	if res.ExitCode != 0 {
		return nil, newError("choco", ErrKindUnknown, action.Action{Kind: action.KindList}, "", res)
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "choco", Packages: parseChocoLimitOutput(res.Stdout, true)}, nil
}

func (c *Choco) info(ctx context.Context, act action.Action) (*Outcome, error) {
	target := act.Targets[0].Name
	res, err := c.runner.Run(ctx, Command{
		Argv: []string{"choco", "info", target, "--limit-output"},
	})
	if err != nil {
		return nil, runError("choco", act, target, err)
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.Stdout) == "" {
		return &Outcome{Kind: OutcomeNotFound, Backend: "choco", Message: fmt.Sprintf("no package %q", target)}, nil
	}

	pkgs := parseChocoLimitOutput(res.Stdout, false)
	if len(pkgs) == 0 {
		return &Outcome{Kind: OutcomeNotFound, Backend: "choco", Message: fmt.Sprintf("no package %q", target)}, nil
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "choco", Packages: pkgs[:1]}, nil
}

// parseChocoLimitOutput reads "name|version" lines.
func parseChocoLimitOutput(out string, installed bool) []Package {
	var pkgs []Package
	for _, line := range strings.Split(out, "\n") {
		name, version, found := strings.Cut(strings.TrimSpace(line), "|")
		if !found || name == "" {
			continue
		}
		pkgs = append(pkgs, Package{
			Name:      name,
			Version:   version,
			Installed: installed,
			Backend:   "choco",
		})
	}
	return pkgs
}

// classify maps a choco result to a canonical outcome. Exit codes 1641
// and 3010 signal success with a reboot pending.
func (c *Choco) classify(act action.Action, target string, res *CommandResult) (*Outcome, error) {
	out := combinedOutput(res)

	switch res.ExitCode {
	case 0:
		if strings.Contains(out, "already installed") {
			return &Outcome{
				Kind:    OutcomeAlreadySatisfied,
				Backend: "choco",
				Message: fmt.Sprintf("%s is already installed", target),
			}, nil
		}
		return &Outcome{Kind: OutcomeSuccess, Backend: "choco"}, nil
	case 1641, 3010:
		return &Outcome{
			Kind:    OutcomeSuccess,
			Backend: "choco",
			Message: "completed, reboot required",
		}, nil
	}

	switch {
	case containsAny(out, "The package was not found", "not found with the source(s) listed"):
		return &Outcome{
			Kind:    OutcomeNotFound,
			Backend: "choco",
			Message: fmt.Sprintf("chocolatey has no package %q", target),
		}, nil

	case strings.Contains(out, "already installed"):
		return &Outcome{
			Kind:    OutcomeAlreadySatisfied,
			Backend: "choco",
			Message: fmt.Sprintf("%s is already installed", target),
		}, nil

	case containsAny(out, "Access to the path", "administrator", "elevated"):
		return nil, newError("choco", ErrKindPermission, act, target, res)

	case containsAny(out, "unable to connect", "remote name could not be resolved"):
		return nil, newError("choco", ErrKindNetwork, act, target, res)

	case strings.Contains(out, "not successful"):
		return &Outcome{
			Kind:     OutcomePartialFailure,
			Backend:  "choco",
			Message:  "package scripts did not complete",
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}, nil

	default:
		return nil, newError("choco", ErrKindUnknown, act, target, res)
	}
}
