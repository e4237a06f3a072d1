package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/txn"
)

// Pacman adapts Arch Linux's pacman.
type Pacman struct {
	runner Runner
}

// NewPacman creates the pacman adapter.
func NewPacman(runner Runner) *Pacman {
	return &Pacman{runner: runner}
}

// Name returns "pacman".
func (p *Pacman) Name() string {
	return "pacman"
}

// Probe checks for a usable pacman.
func (p *Pacman) Probe(ctx context.Context) Availability {
	res, err := p.runner.Run(ctx, Command{Argv: []string{"pacman", "--version"}})
	if err != nil {
		return Availability{Reason: fmt.Sprintf("pacman not usable: %v", err)}
	}
	if res.ExitCode != 0 {
		return Availability{Reason: fmt.Sprintf("pacman --version exited %d", res.ExitCode)}
	}
	return Availability{Available: true, Version: firstLine(res.Stdout)}
}

// Capabilities reports pacman's support matrix. Repositories carry one
// version per package, so there is no version pinning.
func (p *Pacman) Capabilities() Capabilities {
	return Capabilities{
		Search:            true,
		List:              true,
		Info:              true,
		Where:             true,
		WhatIs:            true,
		Update:            true,
		RequiresElevation: true,
	}
}

// Execute routes the action to the matching pacman invocation.
func (p *Pacman) Execute(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	switch act.Kind {
	case action.KindInstall:
		return p.install(ctx, act, rec)
	case action.KindRemove:
		return p.remove(ctx, act, rec)
	case action.KindUpdate:
		return p.update(ctx, act, rec)
	case action.KindSearch:
		return p.search(ctx, act)
	case action.KindList:
		return p.list(ctx)
	case action.KindInfo:
		return p.info(ctx, act)
	case action.KindWhere:
		return p.where(ctx, act)
	case action.KindWhatIs:
		return p.whatis(ctx, act)
	default:
		return nil, fmt.Errorf("pacman: %s: %w", act.Kind, ErrUnsupported)
	}
}

func (p *Pacman) install(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}
	if target.Constraint != "" {
		return nil, fmt.Errorf("pacman: version pinning: %w", ErrUnsupported)
	}

	// --needed turns a reinstall into a skip, which classifies as
	// already satisfied.
	args := []string{"pacman", "-S", "--noconfirm", "--needed", target.Name}
	if act.Options.Refresh {
		args = []string{"pacman", "-Sy", "--noconfirm", "--needed", target.Name}
	}

	res, err := p.runner.Run(ctx, Command{
		Argv:        args,
		Elevate:     true,
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("pacman", act, target.Name, err)
	}

	outcome, cerr := p.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		version := p.installedVersion(ctx, target.Name)
		if err := recordInstall(rec, "pacman", target.Name, version); err != nil {
			return nil, err
		}
		outcome.Message = fmt.Sprintf("installed %s %s", target.Name, version)
	}
	return outcome, nil
}

func (p *Pacman) remove(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}

	version := p.installedVersion(ctx, target.Name)
	if version == "" {
		return &Outcome{
			Kind:    OutcomeAlreadySatisfied,
			Backend: "pacman",
			Message: fmt.Sprintf("%s is not installed", target.Name),
		}, nil
	}

	res, err := p.runner.Run(ctx, Command{
		Argv:        []string{"pacman", "-R", "--noconfirm", target.Name},
		Elevate:     true,
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("pacman", act, target.Name, err)
	}

	outcome, cerr := p.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		if err := recordRemove(rec, "pacman", target.Name, version); err != nil {
			return nil, err
		}
		outcome.Message = fmt.Sprintf("removed %s %s", target.Name, version)
	}
	return outcome, nil
}

func (p *Pacman) update(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	if len(act.Targets) == 0 {
		res, err := p.runner.Run(ctx, Command{
			Argv:        []string{"pacman", "-Syu", "--noconfirm"},
			Elevate:     true,
			Passthrough: true,
		})
		if err != nil {
			return nil, runError("pacman", act, "", err)
		}
		outcome, cerr := p.classify(act, "", res)
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

	oldVersion := p.installedVersion(ctx, target.Name)

	res, err := p.runner.Run(ctx, Command{
		Argv:        []string{"pacman", "-S", "--noconfirm", target.Name},
		Elevate:     true,
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("pacman", act, target.Name, err)
	}

	outcome, cerr := p.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		newVersion := p.installedVersion(ctx, target.Name)
		if newVersion == oldVersion {
			outcome.Kind = OutcomeAlreadySatisfied
			outcome.Message = fmt.Sprintf("%s is already at %s", target.Name, newVersion)
			return outcome, nil
		}
		if rec != nil && oldVersion != "" {
			if err := rec.Record(txn.NewPackageRemoved("pacman", target.Name, oldVersion, "pacman")); err != nil {
				return nil, fmt.Errorf("failed to record update effect: %w", err)
			}
		}
		outcome.Message = fmt.Sprintf("updated %s %s -> %s", target.Name, oldVersion, newVersion)
	}
	return outcome, nil
}

func (p *Pacman) search(ctx context.Context, act action.Action) (*Outcome, error) {
	term := act.Targets[0].Name
	res, err := p.runner.Run(ctx, Command{
		Argv: []string{"pacman", "-Ss", term},
	})
	if err != nil {
		return nil, runError("pacman", act, term, err)
	}
	// pacman -Ss exits 1 with no output when nothing matches.
	if res.ExitCode != 0 {
		return &Outcome{Kind: OutcomeNotFound, Backend: "pacman", Message: fmt.Sprintf("no packages match %q", term)}, nil
	}

	// Matches come as "repo/name version" lines followed by an
	// indented description line.
	var pkgs []Package
	lines := strings.Split(res.Stdout, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if line == "" || strings.HasPrefix(line, " ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[0]
		if idx := strings.Index(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		pkg := Package{
			Name:    name,
			Version: fields[1],
			Backend: "pacman",
		}
		if i+1 < len(lines) && strings.HasPrefix(lines[i+1], " ") {
			pkg.Description = strings.TrimSpace(lines[i+1])
			i++
		}
		pkgs = append(pkgs, pkg)
	}
	if len(pkgs) == 0 {
		return &Outcome{Kind: OutcomeNotFound, Backend: "pacman", Message: fmt.Sprintf("no packages match %q", term)}, nil
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "pacman", Packages: pkgs}, nil
}

func (p *Pacman) list(ctx context.Context) (*Outcome, error) {
	res, err := p.runner.Run(ctx, Command{
		Argv: []string{"pacman", "-Q"},
	})
	if err != nil {
		return nil, runError("pacman", action.Action{Kind: action.KindList}, "", err)
	}
	if res.ExitCode != 0 {
		return nil, newError("pacman", ErrKindUnknown, action.Action{Kind: action.KindList}, "", res)
	}

	var pkgs []Package
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		pkgs = append(pkgs, Package{
			Name:      fields[0],
			Version:   fields[1],
			Installed: true,
			Backend:   "pacman",
		})
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "pacman", Packages: pkgs}, nil
}

func (p *Pacman) info(ctx context.Context, act action.Action) (*Outcome, error) {
	target := act.Targets[0].Name
	res, err := p.runner.Run(ctx, Command{
		Argv: []string{"pacman", "-Si", target},
	})
	if err != nil {
		return nil, runError("pacman", act, target, err)
	}
	if res.ExitCode != 0 {
		// Not in any sync repo; it may still be a locally installed
		// package.
		res, err = p.runner.Run(ctx, Command{Argv: []string{"pacman", "-Qi", target}})
		if err != nil {
			return nil, runError("pacman", act, target, err)
		}
		if res.ExitCode != 0 {
			return &Outcome{Kind: OutcomeNotFound, Backend: "pacman", Message: fmt.Sprintf("no package %q", target)}, nil
		}
	}

	pkg := Package{Name: target, Backend: "pacman", Installed: p.installedVersion(ctx, target) != ""}
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
		}
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "pacman", Packages: []Package{pkg}}, nil
}

func (p *Pacman) where(ctx context.Context, act action.Action) (*Outcome, error) {
	target := act.Targets[0].Name
	res, err := p.runner.Run(ctx, Command{
		Argv: []string{"pacman", "-Ql", target},
	})
	if err != nil {
		return nil, runError("pacman", act, target, err)
	}
	if res.ExitCode != 0 {
		return &Outcome{Kind: OutcomeNotFound, Backend: "pacman", Message: fmt.Sprintf("%s is not installed via pacman", target)}, nil
	}

	pkg := Package{
		Name:      target,
		Version:   p.installedVersion(ctx, target),
		Installed: true,
		Backend:   "pacman",
	}
	// -Ql lines are "name /path".
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		path := fields[1]
		if strings.Contains(path, "/bin/") && !strings.HasSuffix(path, "/") {
			pkg.Location = path
			break
		}
		if pkg.Location == "" {
			pkg.Location = path
		}
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "pacman", Packages: []Package{pkg}}, nil
}

func (p *Pacman) whatis(ctx context.Context, act action.Action) (*Outcome, error) {
	outcome, err := p.info(ctx, act)
	if err != nil || outcome.Kind != OutcomeSuccess {
		return outcome, err
	}
	pkg := outcome.Packages[0]
	pkg.Version = ""
	return &Outcome{Kind: OutcomeSuccess, Backend: "pacman", Packages: []Package{pkg}}, nil
}

// installedVersion reads the installed version, empty when not
// installed.
func (p *Pacman) installedVersion(ctx context.Context, name string) string {
	res, err := p.runner.Run(ctx, Command{
		Argv: []string{"pacman", "-Q", name},
	})
	if err != nil || res.ExitCode != 0 {
		return ""
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) != 2 {
		return ""
	}
	return fields[1]
}

// classify maps a pacman result to a canonical outcome.
func (p *Pacman) classify(act action.Action, target string, res *CommandResult) (*Outcome, error) {
	out := combinedOutput(res)

	if res.ExitCode == 0 {
		if strings.Contains(out, "is up to date -- skipping") {
			return &Outcome{
				Kind:    OutcomeAlreadySatisfied,
				Backend: "pacman",
				Message: fmt.Sprintf("%s is already installed", target),
			}, nil
		}
		return &Outcome{Kind: OutcomeSuccess, Backend: "pacman"}, nil
	}

	switch {
	case strings.Contains(out, "target not found"):
		return &Outcome{
			Kind:    OutcomeNotFound,
			Backend: "pacman",
			Message: fmt.Sprintf("pacman has no package %q", target),
		}, nil

	case containsAny(out, "unable to lock database", "db.lck"):
		// The stale db.lck left by a crashed pacman is the classic
		// recoverable condition here.
		return &Outcome{
			Kind:        OutcomePartialFailure,
			Backend:     "pacman",
			Message:     "pacman database is locked",
			Recoverable: true,
			ExitCode:    res.ExitCode,
			Stdout:      res.Stdout,
			Stderr:      res.Stderr,
		}, nil

	case strings.Contains(out, "you cannot perform this operation unless you are root"):
		return nil, newError("pacman", ErrKindPermission, act, target, res)

	case containsAny(out, "failed retrieving file", "Could not resolve host"):
		return nil, newError("pacman", ErrKindNetwork, act, target, res)

	case strings.Contains(out, "No space left on device"):
		return nil, newError("pacman", ErrKindDiskFull, act, target, res)

	default:
		return nil, newError("pacman", ErrKindUnknown, act, target, res)
	}
}
