package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/pakmux/pakmux/pkg/action"
)

// Scoop adapts scoop, which installs strictly into the user profile and
// never needs elevation.
type Scoop struct {
	runner Runner
}

// NewScoop creates the scoop adapter.
func NewScoop(runner Runner) *Scoop {
	return &Scoop{runner: runner}
}

// Name returns "scoop".
func (s *Scoop) Name() string {
	return "scoop"
}

// Probe checks for a usable scoop.
func (s *Scoop) Probe(ctx context.Context) Availability {
	res, err := s.runner.Run(ctx, Command{Argv: []string{"scoop", "--version"}})
	if err != nil {
		return Availability{Reason: fmt.Sprintf("scoop not usable: %v", err)}
	}
	if res.ExitCode != 0 {
		return Availability{Reason: fmt.Sprintf("scoop --version exited %d", res.ExitCode)}
	}
	return Availability{Available: true, Version: firstLine(res.Stdout)}
}

// Capabilities reports scoop's support matrix. The which subcommand
// backs the where query.
func (s *Scoop) Capabilities() Capabilities {
	return Capabilities{
		Search:     true,
		List:       true,
		Info:       true,
		Where:      true,
		WhatIs:     true,
		Update:     true,
		VersionPin: true,
		UserScope:  true,
	}
}

// Execute routes the action to the matching scoop invocation.
func (s *Scoop) Execute(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	switch act.Kind {
	case action.KindInstall:
		return s.install(ctx, act, rec)
	case action.KindRemove:
		return s.remove(ctx, act, rec)
	case action.KindUpdate:
		return s.update(ctx, act)
	case action.KindSearch:
		return s.search(ctx, act)
	case action.KindList:
		return s.list(ctx)
	case action.KindInfo, action.KindWhatIs:
		return s.info(ctx, act)
	case action.KindWhere:
		return s.where(ctx, act)
	default:
		return nil, fmt.Errorf("scoop: %s: %w", act.Kind, ErrUnsupported)
	}
}

func (s *Scoop) install(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}
	spec := target.Name
	if target.Constraint != "" {
		// scoop resolves name@version natively.
		spec = target.Name + "@" + target.Constraint
	}

	res, err := s.runner.Run(ctx, Command{
		Argv:        []string{"scoop", "install", spec},
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("scoop", act, target.Name, err)
	}

	outcome, cerr := s.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		if err := recordInstall(rec, "scoop", target.Name, target.Constraint); err != nil {
			return nil, err
		}
		outcome.Message = fmt.Sprintf("installed %s", spec)
	}
	return outcome, nil
}

func (s *Scoop) remove(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}

	res, err := s.runner.Run(ctx, Command{
		Argv:        []string{"scoop", "uninstall", target.Name},
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("scoop", act, target.Name, err)
	}

	if strings.Contains(combinedOutput(res), "isn't installed") {
		return &Outcome{
			Kind:    OutcomeAlreadySatisfied,
			Backend: "scoop",
			Message: fmt.Sprintf("%s is not installed", target.Name),
		}, nil
	}

	outcome, cerr := s.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		if err := recordRemove(rec, "scoop", target.Name, ""); err != nil {
			return nil, err
		}
		outcome.Message = fmt.Sprintf("removed %s", target.Name)
	}
	return outcome, nil
}

// update upgrades one package or everything, recording nothing for
// rollback.
func (s *Scoop) update(ctx context.Context, act action.Action) (*Outcome, error) {
	argv := []string{"scoop", "update"}
	target := ""
	if len(act.Targets) > 0 {
		t, err := singleTarget(act)
		if err != nil {
			return nil, err
		}
		target = t.Name
		argv = append(argv, target)
	} else {
		argv = append(argv, "*")
	}

	res, err := s.runner.Run(ctx, Command{Argv: argv, Passthrough: true})
	if err != nil {
		return nil, runError("scoop", act, target, err)
	}

	if strings.Contains(combinedOutput(res), "Latest versions for all apps are installed") {
		return &Outcome{
			Kind:    OutcomeAlreadySatisfied,
			Backend: "scoop",
			Message: "everything is already up to date",
		}, nil
	}

	outcome, cerr := s.classify(act, target, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		outcome.Message = "update completed"
	}
	return outcome, nil
}

func (s *Scoop) search(ctx context.Context, act action.Action) (*Outcome, error) {
	term := act.Targets[0].Name
	res, err := s.runner.Run(ctx, Command{
		Argv: []string{"scoop", "search", term},
	})
	if err != nil {
		return nil, runError("scoop", act, term, err)
	}
	if res.ExitCode != 0 || strings.Contains(combinedOutput(res), "No matches found") {
		return &Outcome{Kind: OutcomeNotFound, Backend: "scoop", Message: fmt.Sprintf("no packages match %q", term)}, nil
	}

	// Rows are "name (version) [bucket]" or plain names under a bucket
	// header.
	var pkgs []Package
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, ":") || strings.HasPrefix(line, "---") || strings.HasPrefix(line, "Name") {
			continue
		}
		fields := strings.Fields(line)
		pkg := Package{Name: fields[0], Backend: "scoop"}
		if len(fields) > 1 {
			pkg.Version = strings.Trim(fields[1], "()")
		}
		pkgs = append(pkgs, pkg)
	}
	if len(pkgs) == 0 {
		return &Outcome{Kind: OutcomeNotFound, Backend: "scoop", Message: fmt.Sprintf("no packages match %q", term)}, nil
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "scoop", Packages: pkgs}, nil
}

func (s *Scoop) list(ctx context.Context) (*Outcome, error) {
	res, err := s.runner.Run(ctx, Command{
		Argv: []string{"scoop", "list"},
	})
	if err != nil {
		return nil, runError("scoop", action.Action{Kind: action.KindList}, "", err)
	}
	if res.ExitCode != 0 {
		return nil, newError("scoop", ErrKindUnknown, action.Action{Kind: action.KindList}, "", res)
	}

	var pkgs []Package
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Installed apps") || strings.HasPrefix(line, "Name") || strings.HasPrefix(line, "---") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		pkg := Package{Name: fields[0], Installed: true, Backend: "scoop"}
		if len(fields) > 1 {
			pkg.Version = fields[1]
		}
		pkgs = append(pkgs, pkg)
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "scoop", Packages: pkgs}, nil
}

func (s *Scoop) info(ctx context.Context, act action.Action) (*Outcome, error) {
	target := act.Targets[0].Name
	res, err := s.runner.Run(ctx, Command{
		Argv: []string{"scoop", "info", target},
	})
	if err != nil {
		return nil, runError("scoop", act, target, err)
	}
	if res.ExitCode != 0 || strings.Contains(combinedOutput(res), "Could not find manifest") {
		return &Outcome{Kind: OutcomeNotFound, Backend: "scoop", Message: fmt.Sprintf("no package %q", target)}, nil
	}

	pkg := Package{Name: target, Backend: "scoop"}
	for _, line := range strings.Split(res.Stdout, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Version":
			if pkg.Version == "" {
				pkg.Version = strings.TrimSpace(value)
			}
		case "Description":
			if pkg.Description == "" {
				pkg.Description = strings.TrimSpace(value)
			}
		case "Installed":
			pkg.Installed = !strings.Contains(value, "No")
		}
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "scoop", Packages: []Package{pkg}}, nil
}

func (s *Scoop) where(ctx context.Context, act action.Action) (*Outcome, error) {
	target := act.Targets[0].Name
	res, err := s.runner.Run(ctx, Command{
		Argv: []string{"scoop", "which", target},
	})
	if err != nil {
		return nil, runError("scoop", act, target, err)
	}
	location := firstLine(res.Stdout)
	if res.ExitCode != 0 || location == "" {
		return &Outcome{Kind: OutcomeNotFound, Backend: "scoop", Message: fmt.Sprintf("%s is not installed via scoop", target)}, nil
	}

	return &Outcome{
		Kind:    OutcomeSuccess,
		Backend: "scoop",
		Packages: []Package{{
			Name:      target,
			Installed: true,
			Backend:   "scoop",
			Location:  location,
		}},
	}, nil
}

// classify maps a scoop result to a canonical outcome.
func (s *Scoop) classify(act action.Action, target string, res *CommandResult) (*Outcome, error) {
	out := combinedOutput(res)

	// scoop is a PowerShell script and does not always set a failing
	// exit code, so failure text is checked even on exit 0.
	switch {
	case containsAny(out, "Couldn't find manifest", "Could not find manifest"):
		return &Outcome{
			Kind:    OutcomeNotFound,
			Backend: "scoop",
			Message: fmt.Sprintf("scoop has no manifest %q", target),
		}, nil

	case strings.Contains(out, "is already installed"):
		return &Outcome{
			Kind:    OutcomeAlreadySatisfied,
			Backend: "scoop",
			Message: fmt.Sprintf("%s is already installed", target),
		}, nil

	case containsAny(out, "Could not resolve host", "download failed"):
		return nil, newError("scoop", ErrKindNetwork, act, target, res)

	case res.ExitCode == 0:
		return &Outcome{Kind: OutcomeSuccess, Backend: "scoop"}, nil

	case strings.Contains(out, "hash check failed"):
		return &Outcome{
			Kind:        OutcomePartialFailure,
			Backend:     "scoop",
			Message:     "manifest hash check failed",
			Recoverable: true,
			ExitCode:    res.ExitCode,
			Stdout:      res.Stdout,
			Stderr:      res.Stderr,
		}, nil

	default:
		return nil, newError("scoop", ErrKindUnknown, act, target, res)
	}
}
