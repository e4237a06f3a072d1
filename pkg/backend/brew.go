package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/pakmux/pakmux/pkg/action"
)

// Brew adapts Homebrew on macOS. Homebrew refuses to run as root, so
// mutations never elevate; everything lands in the user-writable prefix.
type Brew struct {
	runner Runner
}

// NewBrew creates the homebrew adapter.
func NewBrew(runner Runner) *Brew {
	return &Brew{runner: runner}
}

// Name returns "brew".
func (b *Brew) Name() string {
	return "brew"
}

// brewEnv pins brew to predictable behavior: no implicit metadata
// refresh before every command, no post-install cleanup runs.
func brewEnv() map[string]string {
	return map[string]string{
		"HOMEBREW_NO_AUTO_UPDATE":     "1",
		"HOMEBREW_NO_INSTALL_CLEANUP": "1",
		"HOMEBREW_NO_ENV_HINTS":       "1",
		"NONINTERACTIVE":              "1",
	}
}

// Probe checks for a usable brew.
func (b *Brew) Probe(ctx context.Context) Availability {
	res, err := b.runner.Run(ctx, Command{Argv: []string{"brew", "--version"}, Env: brewEnv()})
	if err != nil {
		return Availability{Reason: fmt.Sprintf("brew not usable: %v", err)}
	}
	if res.ExitCode != 0 {
		return Availability{Reason: fmt.Sprintf("brew --version exited %d", res.ExitCode)}
	}
	return Availability{Available: true, Version: firstLine(res.Stdout)}
}

// Capabilities reports homebrew's support matrix. Versioned formulae
// (name@version) stand in for version pinning.
func (b *Brew) Capabilities() Capabilities {
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

// Execute routes the action to the matching brew invocation.
func (b *Brew) Execute(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	switch act.Kind {
	case action.KindInstall:
		return b.install(ctx, act, rec)
	case action.KindRemove:
		return b.remove(ctx, act, rec)
	case action.KindUpdate:
		return b.update(ctx, act)
	case action.KindSearch:
		return b.search(ctx, act)
	case action.KindList:
		return b.list(ctx)
	case action.KindInfo:
		return b.info(ctx, act)
	case action.KindWhere:
		return b.where(ctx, act)
	case action.KindWhatIs:
		return b.whatis(ctx, act)
	default:
		return nil, fmt.Errorf("brew: %s: %w", act.Kind, ErrUnsupported)
	}
}

func (b *Brew) install(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}
	formula := target.Name
	if target.Constraint != "" {
		// Homebrew's convention for pinned major versions.
		formula = target.Name + "@" + target.Constraint
	}

	if act.Options.Refresh {
		if _, err := b.runner.Run(ctx, Command{
			Argv:        []string{"brew", "update"},
			Env:         brewEnv(),
			Passthrough: true,
		}); err != nil {
			return nil, runError("brew", act, target.Name, err)
		}
	}

	res, err := b.runner.Run(ctx, Command{
		Argv:        []string{"brew", "install", formula},
		Env:         brewEnv(),
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("brew", act, target.Name, err)
	}

	outcome, cerr := b.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		version := b.installedVersion(ctx, formula)
		if err := recordInstall(rec, "brew", formula, version); err != nil {
			return nil, err
		}
		outcome.Message = fmt.Sprintf("installed %s %s", formula, version)
	}
	return outcome, nil
}

func (b *Brew) remove(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}

	version := b.installedVersion(ctx, target.Name)

	res, err := b.runner.Run(ctx, Command{
		Argv:        []string{"brew", "uninstall", target.Name},
		Env:         brewEnv(),
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("brew", act, target.Name, err)
	}

	if strings.Contains(combinedOutput(res), "is not installed") {
		return &Outcome{
			Kind:    OutcomeAlreadySatisfied,
			Backend: "brew",
			Message: fmt.Sprintf("%s is not installed", target.Name),
		}, nil
	}

	outcome, cerr := b.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		if err := recordRemove(rec, "brew", target.Name, version); err != nil {
			return nil, err
		}
		outcome.Message = fmt.Sprintf("removed %s %s", target.Name, version)
	}
	return outcome, nil
}

// update upgrades one formula or everything. Homebrew keeps no usable
// per-formula downgrade path, so upgrades record nothing for rollback.
func (b *Brew) update(ctx context.Context, act action.Action) (*Outcome, error) {
	argv := []string{"brew", "upgrade"}
	target := ""
	if len(act.Targets) > 0 {
		t, err := singleTarget(act)
		if err != nil {
			return nil, err
		}
		target = t.Name
		argv = append(argv, target)
	}

	res, err := b.runner.Run(ctx, Command{
		Argv:        argv,
		Env:         brewEnv(),
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("brew", act, target, err)
	}

	if strings.Contains(combinedOutput(res), "already installed") {
		return &Outcome{
			Kind:    OutcomeAlreadySatisfied,
			Backend: "brew",
			Message: fmt.Sprintf("%s is already up to date", target),
		}, nil
	}

	outcome, cerr := b.classify(act, target, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		outcome.Message = "upgrade completed"
	}
	return outcome, nil
}

func (b *Brew) search(ctx context.Context, act action.Action) (*Outcome, error) {
	term := act.Targets[0].Name
	res, err := b.runner.Run(ctx, Command{
		Argv: []string{"brew", "search", term},
		Env:  brewEnv(),
	})
	if err != nil {
		return nil, runError("brew", act, term, err)
	}
	if res.ExitCode != 0 || strings.Contains(combinedOutput(res), "No formulae or casks found") {
		return &Outcome{Kind: OutcomeNotFound, Backend: "brew", Message: fmt.Sprintf("no formulae match %q", term)}, nil
	}

	var pkgs []Package
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "==>") {
			continue
		}
		pkgs = append(pkgs, Package{Name: line, Backend: "brew"})
	}
	if len(pkgs) == 0 {
		return &Outcome{Kind: OutcomeNotFound, Backend: "brew", Message: fmt.Sprintf("no formulae match %q", term)}, nil
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "brew", Packages: pkgs}, nil
}

func (b *Brew) list(ctx context.Context) (*Outcome, error) {
	res, err := b.runner.Run(ctx, Command{
		Argv: []string{"brew", "list", "--versions"},
		Env:  brewEnv(),
	})
	if err != nil {
		return nil, runError("brew", action.Action{Kind: action.KindList}, "", err)
	}
	if res.ExitCode != 0 {
		return nil, newError("brew", ErrKindUnknown, action.Action{Kind: action.KindList}, "", res)
	}

	var pkgs []Package
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pkgs = append(pkgs, Package{
			Name:      fields[0],
			Version:   fields[1],
			Installed: true,
			Backend:   "brew",
		})
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "brew", Packages: pkgs}, nil
}

func (b *Brew) info(ctx context.Context, act action.Action) (*Outcome, error) {
	target := act.Targets[0].Name
	res, err := b.runner.Run(ctx, Command{
		Argv: []string{"brew", "info", target},
		Env:  brewEnv(),
	})
	if err != nil {
		return nil, runError("brew", act, target, err)
	}
	if res.ExitCode != 0 || strings.Contains(combinedOutput(res), "No available formula") {
		return &Outcome{Kind: OutcomeNotFound, Backend: "brew", Message: fmt.Sprintf("no formula %q", target)}, nil
	}

	// First line: "==> name: stable 1.2.3" followed by the description.
	pkg := Package{Name: target, Backend: "brew", Installed: b.installedVersion(ctx, target) != ""}
	lines := strings.Split(res.Stdout, "\n")
	if len(lines) > 0 {
		if _, after, found := strings.Cut(lines[0], "stable "); found {
			if fields := strings.Fields(after); len(fields) > 0 {
				pkg.Version = strings.TrimSuffix(fields[0], ",")
			}
		}
	}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "==>") && !strings.HasPrefix(line, "http") {
			pkg.Description = line
			break
		}
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "brew", Packages: []Package{pkg}}, nil
}

func (b *Brew) where(ctx context.Context, act action.Action) (*Outcome, error) {
	target := act.Targets[0].Name
	res, err := b.runner.Run(ctx, Command{
		Argv: []string{"brew", "--prefix", target},
		Env:  brewEnv(),
	})
	if err != nil {
		return nil, runError("brew", act, target, err)
	}
	if res.ExitCode != 0 {
		return &Outcome{Kind: OutcomeNotFound, Backend: "brew", Message: fmt.Sprintf("%s is not installed via brew", target)}, nil
	}

	pkg := Package{
		Name:      target,
		Version:   b.installedVersion(ctx, target),
		Installed: true,
		Backend:   "brew",
		Location:  firstLine(res.Stdout),
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "brew", Packages: []Package{pkg}}, nil
}

func (b *Brew) whatis(ctx context.Context, act action.Action) (*Outcome, error) {
	target := act.Targets[0].Name
	res, err := b.runner.Run(ctx, Command{
		Argv: []string{"brew", "desc", target},
		Env:  brewEnv(),
	})
	if err != nil {
		return nil, runError("brew", act, target, err)
	}
	if res.ExitCode != 0 {
		return &Outcome{Kind: OutcomeNotFound, Backend: "brew", Message: fmt.Sprintf("no formula %q", target)}, nil
	}

	// brew desc prints "name: description".
	desc := firstLine(res.Stdout)
	if _, after, found := strings.Cut(desc, ": "); found {
		desc = after
	}
	return &Outcome{
		Kind:     OutcomeSuccess,
		Backend:  "brew",
		Packages: []Package{{Name: target, Description: desc, Backend: "brew"}},
	}, nil
}

// installedVersion reads the newest installed version of a formula,
// empty when not installed.
func (b *Brew) installedVersion(ctx context.Context, name string) string {
	res, err := b.runner.Run(ctx, Command{
		Argv: []string{"brew", "list", "--versions", name},
		Env:  brewEnv(),
	})
	if err != nil || res.ExitCode != 0 {
		return ""
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) < 2 {
		return ""
	}
	return fields[len(fields)-1]
}

// classify maps a brew result to a canonical outcome.
func (b *Brew) classify(act action.Action, target string, res *CommandResult) (*Outcome, error) {
	out := combinedOutput(res)

	if res.ExitCode == 0 {
		if strings.Contains(out, "is already installed") {
			return &Outcome{
				Kind:    OutcomeAlreadySatisfied,
				Backend: "brew",
				Message: fmt.Sprintf("%s is already installed", target),
			}, nil
		}
		return &Outcome{Kind: OutcomeSuccess, Backend: "brew"}, nil
	}

	switch {
	case containsAny(out, "No available formula", "No formulae or casks found"):
		return &Outcome{
			Kind:    OutcomeNotFound,
			Backend: "brew",
			Message: fmt.Sprintf("brew has no formula %q", target),
		}, nil

	case strings.Contains(out, "Another active Homebrew process"):
		return nil, newError("brew", ErrKindLocked, act, target, res)

	case strings.Contains(out, "Permission denied"):
		return nil, newError("brew", ErrKindPermission, act, target, res)

	case containsAny(out, "Could not resolve host", "Failed to download", "curl: ("):
		return nil, newError("brew", ErrKindNetwork, act, target, res)

	case strings.Contains(out, "No space left on device"):
		return nil, newError("brew", ErrKindDiskFull, act, target, res)

	default:
		return nil, newError("brew", ErrKindUnknown, act, target, res)
	}
}
