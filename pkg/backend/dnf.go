package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/txn"
)

// Dnf adapts Fedora and RHEL's dnf. Mutations and repo queries go
// through dnf itself; the installed database is read with rpm, which is
// faster and does not touch the network.
type Dnf struct {
	runner Runner
}

// NewDnf creates the dnf adapter.
func NewDnf(runner Runner) *Dnf {
	return &Dnf{runner: runner}
}

// Name returns "dnf".
func (d *Dnf) Name() string {
	return "dnf"
}

// Probe checks for a usable dnf.
func (d *Dnf) Probe(ctx context.Context) Availability {
	res, err := d.runner.Run(ctx, Command{Argv: []string{"dnf", "--version"}})
	if err != nil {
		return Availability{Reason: fmt.Sprintf("dnf not usable: %v", err)}
	}
	if res.ExitCode != 0 {
		return Availability{Reason: fmt.Sprintf("dnf --version exited %d", res.ExitCode)}
	}
	return Availability{Available: true, Version: firstLine(res.Stdout)}
}

// Capabilities reports dnf's support matrix.
func (d *Dnf) Capabilities() Capabilities {
	return Capabilities{
		Search:            true,
		List:              true,
		Info:              true,
		Where:             true,
		WhatIs:            true,
		Update:            true,
		VersionPin:        true,
		RequiresElevation: true,
	}
}

// Execute routes the action to the matching dnf invocation.
func (d *Dnf) Execute(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	switch act.Kind {
	case action.KindInstall:
		return d.install(ctx, act, rec)
	case action.KindRemove:
		return d.remove(ctx, act, rec)
	case action.KindUpdate:
		return d.update(ctx, act, rec)
	case action.KindSearch:
		return d.search(ctx, act)
	case action.KindList:
		return d.list(ctx)
	case action.KindInfo:
		return d.info(ctx, act)
	case action.KindWhere:
		return d.where(ctx, act)
	case action.KindWhatIs:
		return d.whatis(ctx, act)
	default:
		return nil, fmt.Errorf("dnf: %s: %w", act.Kind, ErrUnsupported)
	}
}

func (d *Dnf) install(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}
	spec := target.Name
	if target.Constraint != "" {
		spec = target.Name + "-" + target.Constraint
	}

	args := []string{"dnf", "install", "-y", spec}
	if act.Options.Refresh {
		args = []string{"dnf", "install", "-y", "--refresh", spec}
	}

	res, err := d.runner.Run(ctx, Command{
		Argv:        args,
		Elevate:     true,
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("dnf", act, target.Name, err)
	}

	outcome, cerr := d.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		version := d.installedVersion(ctx, target.Name)
		if err := recordInstall(rec, "dnf", target.Name, version); err != nil {
			return nil, err
		}
		outcome.Message = fmt.Sprintf("installed %s %s", target.Name, version)
	}
	return outcome, nil
}

func (d *Dnf) remove(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}

	version := d.installedVersion(ctx, target.Name)
	if version == "" {
		return &Outcome{
			Kind:    OutcomeAlreadySatisfied,
			Backend: "dnf",
			Message: fmt.Sprintf("%s is not installed", target.Name),
		}, nil
	}

	res, err := d.runner.Run(ctx, Command{
		Argv:        []string{"dnf", "remove", "-y", target.Name},
		Elevate:     true,
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("dnf", act, target.Name, err)
	}

	outcome, cerr := d.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		if err := recordRemove(rec, "dnf", target.Name, version); err != nil {
			return nil, err
		}
		outcome.Message = fmt.Sprintf("removed %s %s", target.Name, version)
	}
	return outcome, nil
}

func (d *Dnf) update(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	if len(act.Targets) == 0 {
		res, err := d.runner.Run(ctx, Command{
			Argv:        []string{"dnf", "upgrade", "-y"},
			Elevate:     true,
			Passthrough: true,
		})
		if err != nil {
			return nil, runError("dnf", act, "", err)
		}
		outcome, cerr := d.classify(act, "", res)
		if cerr != nil {
			return nil, cerr
		}
		if outcome.Kind == OutcomeSuccess {
			outcome.Message = "system upgrade completed"
		}
		return outcome, nil
	}

	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}

	oldVersion := d.installedVersion(ctx, target.Name)

	res, err := d.runner.Run(ctx, Command{
		Argv:        []string{"dnf", "upgrade", "-y", target.Name},
		Elevate:     true,
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("dnf", act, target.Name, err)
	}

	outcome, cerr := d.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		newVersion := d.installedVersion(ctx, target.Name)
		if newVersion == oldVersion {
			outcome.Kind = OutcomeAlreadySatisfied
			outcome.Message = fmt.Sprintf("%s is already at %s", target.Name, newVersion)
			return outcome, nil
		}
		if rec != nil && oldVersion != "" {
			if err := rec.Record(txn.NewPackageRemoved("dnf", target.Name, oldVersion, "dnf")); err != nil {
				return nil, fmt.Errorf("failed to record update effect: %w", err)
			}
		}
		outcome.Message = fmt.Sprintf("updated %s %s -> %s", target.Name, oldVersion, newVersion)
	}
	return outcome, nil
}

func (d *Dnf) search(ctx context.Context, act action.Action) (*Outcome, error) {
	term := act.Targets[0].Name
	res, err := d.runner.Run(ctx, Command{
		Argv: []string{"dnf", "search", "-q", term},
	})
	if err != nil {
		return nil, runError("dnf", act, term, err)
	}
	if containsAny(combinedOutput(res), "No matches found") || (res.ExitCode != 0 && strings.TrimSpace(res.Stdout) == "") {
		return &Outcome{Kind: OutcomeNotFound, Backend: "dnf", Message: fmt.Sprintf("no packages match %q", term)}, nil
	}

	// dnf search prints "name.arch : summary" per match, with section
	// headers ending in colons.
	var pkgs []Package
	for _, line := range strings.Split(res.Stdout, "\n") {
		name, desc, found := strings.Cut(line, " : ")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" || strings.HasPrefix(name, "=") {
			continue
		}
		// Strip the trailing .arch qualifier.
		if i := strings.LastIndex(name, "."); i > 0 {
			name = name[:i]
		}
		pkgs = append(pkgs, Package{
			Name:        name,
			Description: strings.TrimSpace(desc),
			Backend:     "dnf",
		})
	}
	if len(pkgs) == 0 {
		return &Outcome{Kind: OutcomeNotFound, Backend: "dnf", Message: fmt.Sprintf("no packages match %q", term)}, nil
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "dnf", Packages: pkgs}, nil
}

func (d *Dnf) list(ctx context.Context) (*Outcome, error) {
	res, err := d.runner.Run(ctx, Command{
		Argv: []string{"rpm", "-qa", "--queryformat", "%{NAME}\t%{VERSION}-%{RELEASE}\n"},
	})
	if err != nil {
		return nil, runError("dnf", action.Action{Kind: action.KindList}, "", err)
	}
	if res.ExitCode != 0 {
		return nil, newError("dnf", ErrKindUnknown, action.Action{Kind: action.KindList}, "", res)
	}

	var pkgs []Package
	for _, line := range strings.Split(res.Stdout, "\n") {
		name, version, found := strings.Cut(line, "\t")
		if !found || name == "" {
			continue
		}
		pkgs = append(pkgs, Package{
			Name:      name,
			Version:   strings.TrimSpace(version),
			Installed: true,
			Backend:   "dnf",
		})
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "dnf", Packages: pkgs}, nil
}

func (d *Dnf) info(ctx context.Context, act action.Action) (*Outcome, error) {
	target := act.Targets[0].Name
	res, err := d.runner.Run(ctx, Command{
		Argv: []string{"dnf", "info", "-q", target},
	})
	if err != nil {
		return nil, runError("dnf", act, target, err)
	}
	if res.ExitCode != 0 || containsAny(combinedOutput(res), "No matching packages", "Error: No matching") {
		return &Outcome{Kind: OutcomeNotFound, Backend: "dnf", Message: fmt.Sprintf("no package %q", target)}, nil
	}

	pkg := Package{Name: target, Backend: "dnf", Installed: d.installedVersion(ctx, target) != ""}
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
		case "Summary":
			if pkg.Description == "" {
				pkg.Description = strings.TrimSpace(value)
			}
		}
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "dnf", Packages: []Package{pkg}}, nil
}

func (d *Dnf) where(ctx context.Context, act action.Action) (*Outcome, error) {
	target := act.Targets[0].Name
	res, err := d.runner.Run(ctx, Command{
		Argv: []string{"rpm", "-ql", target},
	})
	if err != nil {
		return nil, runError("dnf", act, target, err)
	}
	if res.ExitCode != 0 || strings.Contains(res.Stdout, "is not installed") {
		return &Outcome{Kind: OutcomeNotFound, Backend: "dnf", Message: fmt.Sprintf("%s is not installed via dnf", target)}, nil
	}

	pkg := Package{
		Name:      target,
		Version:   d.installedVersion(ctx, target),
		Installed: true,
		Backend:   "dnf",
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "/bin/") || strings.Contains(line, "/sbin/") {
			pkg.Location = line
			break
		}
		if pkg.Location == "" && line != "" {
			pkg.Location = line
		}
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "dnf", Packages: []Package{pkg}}, nil
}

func (d *Dnf) whatis(ctx context.Context, act action.Action) (*Outcome, error) {
	outcome, err := d.info(ctx, act)
	if err != nil || outcome.Kind != OutcomeSuccess {
		return outcome, err
	}
	pkg := outcome.Packages[0]
	pkg.Version = ""
	return &Outcome{Kind: OutcomeSuccess, Backend: "dnf", Packages: []Package{pkg}}, nil
}

// installedVersion reads the installed version from the rpm database,
// empty when not installed.
func (d *Dnf) installedVersion(ctx context.Context, name string) string {
	res, err := d.runner.Run(ctx, Command{
		Argv: []string{"rpm", "-q", "--queryformat", "%{VERSION}-%{RELEASE}", name},
	})
	if err != nil || res.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// classify maps a dnf result to a canonical outcome.
func (d *Dnf) classify(act action.Action, target string, res *CommandResult) (*Outcome, error) {
	out := combinedOutput(res)

	if res.ExitCode == 0 {
		if containsAny(res.Stdout, "is already installed", "Nothing to do") &&
			act.Kind == action.KindInstall {
			return &Outcome{
				Kind:    OutcomeAlreadySatisfied,
				Backend: "dnf",
				Message: fmt.Sprintf("%s is already installed", target),
			}, nil
		}
		return &Outcome{Kind: OutcomeSuccess, Backend: "dnf"}, nil
	}

	switch {
	case containsAny(out, "Unable to find a match", "No match for argument"):
		return &Outcome{
			Kind:    OutcomeNotFound,
			Backend: "dnf",
			Message: fmt.Sprintf("dnf has no package %q", target),
		}, nil

	case containsAny(out, "Transaction test error", "Transaction failed"):
		return &Outcome{
			Kind:        OutcomePartialFailure,
			Backend:     "dnf",
			Message:     "dnf transaction did not complete",
			Recoverable: true,
			ExitCode:    res.ExitCode,
			Stdout:      res.Stdout,
			Stderr:      res.Stderr,
		}, nil

	case containsAny(out, "Waiting for process with pid", "another copy is running"):
		return nil, newError("dnf", ErrKindLocked, act, target, res)

	case containsAny(out, "superuser privileges", "Permission denied"):
		return nil, newError("dnf", ErrKindPermission, act, target, res)

	case containsAny(out, "Curl error", "Cannot download", "Failed to download", "Could not resolve host"):
		return nil, newError("dnf", ErrKindNetwork, act, target, res)

	case strings.Contains(out, "No space left on device"):
		return nil, newError("dnf", ErrKindDiskFull, act, target, res)

	default:
		return nil, newError("dnf", ErrKindUnknown, act, target, res)
	}
}
