package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/pakmux/pakmux/pkg/action"
)

// Winget adapts the Windows Package Manager. Source agreements are
// accepted on every call so a first run never hangs on a prompt. winget
// installs per-user by default, so no elevation is requested.
type Winget struct {
	runner Runner
}

// NewWinget creates the winget adapter.
func NewWinget(runner Runner) *Winget {
	return &Winget{runner: runner}
}

// Name returns "winget".
func (w *Winget) Name() string {
	return "winget"
}

// Probe checks for a usable winget.
func (w *Winget) Probe(ctx context.Context) Availability {
	res, err := w.runner.Run(ctx, Command{Argv: []string{"winget", "--version"}})
	if err != nil {
		return Availability{Reason: fmt.Sprintf("winget not usable: %v", err)}
	}
	if res.ExitCode != 0 {
		return Availability{Reason: fmt.Sprintf("winget --version exited %d", res.ExitCode)}
	}
	return Availability{Available: true, Version: firstLine(res.Stdout)}
}

// Capabilities reports winget's support matrix. winget has no file
// ownership query, so where is unsupported.
func (w *Winget) Capabilities() Capabilities {
	return Capabilities{
		Search:     true,
		List:       true,
		Info:       true,
		WhatIs:     true,
		Update:     true,
		VersionPin: true,
		UserScope:  true,
	}
}

// Execute routes the action to the matching winget invocation.
func (w *Winget) Execute(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	switch act.Kind {
	case action.KindInstall:
		return w.install(ctx, act, rec)
	case action.KindRemove:
		return w.remove(ctx, act, rec)
	case action.KindUpdate:
		return w.update(ctx, act)
	case action.KindSearch:
		return w.search(ctx, act)
	case action.KindList:
		return w.list(ctx)
	case action.KindInfo, action.KindWhatIs:
		return w.info(ctx, act)
	default:
		return nil, fmt.Errorf("winget: %s: %w", act.Kind, ErrUnsupported)
	}
}

func (w *Winget) install(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}

	argv := []string{
		"winget", "install", target.Name,
		"--silent",
		"--accept-source-agreements",
		"--accept-package-agreements",
	}
	if target.Constraint != "" {
		argv = append(argv, "--version", target.Constraint)
	}

	res, err := w.runner.Run(ctx, Command{Argv: argv, Passthrough: true})
	if err != nil {
		return nil, runError("winget", act, target.Name, err)
	}

	outcome, cerr := w.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		if err := recordInstall(rec, "winget", target.Name, target.Constraint); err != nil {
			return nil, err
		}
		outcome.Message = fmt.Sprintf("installed %s", target.Name)
	}
	return outcome, nil
}

func (w *Winget) remove(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}

	res, err := w.runner.Run(ctx, Command{
		Argv:        []string{"winget", "uninstall", target.Name, "--silent", "--accept-source-agreements"},
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("winget", act, target.Name, err)
	}

	outcome, cerr := w.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		if err := recordRemove(rec, "winget", target.Name, ""); err != nil {
			return nil, err
		}
		outcome.Message = fmt.Sprintf("removed %s", target.Name)
	}
	return outcome, nil
}

// update upgrades one package or everything. winget offers no downgrade
// path, so upgrades record nothing for rollback.
func (w *Winget) update(ctx context.Context, act action.Action) (*Outcome, error) {
	argv := []string{"winget", "upgrade"}
	target := ""
	if len(act.Targets) > 0 {
		t, err := singleTarget(act)
		if err != nil {
			return nil, err
		}
		target = t.Name
		argv = append(argv, target)
	} else {
		argv = append(argv, "--all")
	}
	argv = append(argv, "--silent", "--accept-source-agreements", "--accept-package-agreements")

	res, err := w.runner.Run(ctx, Command{Argv: argv, Passthrough: true})
	if err != nil {
		return nil, runError("winget", act, target, err)
	}

	if strings.Contains(combinedOutput(res), "No available upgrade") {
		return &Outcome{
			Kind:    OutcomeAlreadySatisfied,
			Backend: "winget",
			Message: fmt.Sprintf("%s is already up to date", target),
		}, nil
	}

	outcome, cerr := w.classify(act, target, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		outcome.Message = "upgrade completed"
	}
	return outcome, nil
}

func (w *Winget) search(ctx context.Context, act action.Action) (*Outcome, error) {
	term := act.Targets[0].Name
	res, err := w.runner.Run(ctx, Command{
		Argv: []string{"winget", "search", term, "--accept-source-agreements"},
	})
	if err != nil {
		return nil, runError("winget", act, term, err)
	}
	if res.ExitCode != 0 || strings.Contains(combinedOutput(res), "No package found matching input criteria") {
		return &Outcome{Kind: OutcomeNotFound, Backend: "winget", Message: fmt.Sprintf("no packages match %q", term)}, nil
	}

	pkgs := parseWingetTable(res.Stdout, false)
	if len(pkgs) == 0 {
		return &Outcome{Kind: OutcomeNotFound, Backend: "winget", Message: fmt.Sprintf("no packages match %q", term)}, nil
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "winget", Packages: pkgs}, nil
}

func (w *Winget) list(ctx context.Context) (*Outcome, error) {
	res, err := w.runner.Run(ctx, Command{
		Argv: []string{"winget", "list", "--accept-source-agreements"},
	})
	if err != nil {
		return nil, runError("winget", action.Action{Kind: action.KindList}, "", err)
	}
	if res.ExitCode != 0 {
		return nil, newError("winget", ErrKindUnknown, action.Action{Kind: action.KindList}, "", res)
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "winget", Packages: parseWingetTable(res.Stdout, true)}, nil
}

func (w *Winget) info(ctx context.Context, act action.Action) (*Outcome, error) {
	target := act.Targets[0].Name
	res, err := w.runner.Run(ctx, Command{
		Argv: []string{"winget", "show", target, "--accept-source-agreements"},
	})
	if err != nil {
		return nil, runError("winget", act, target, err)
	}
	if res.ExitCode != 0 || strings.Contains(combinedOutput(res), "No package found matching input criteria") {
		return &Outcome{Kind: OutcomeNotFound, Backend: "winget", Message: fmt.Sprintf("no package %q", target)}, nil
	}

	pkg := Package{Name: target, Backend: "winget"}
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
	return &Outcome{Kind: OutcomeSuccess, Backend: "winget", Packages: []Package{pkg}}, nil
}

// parseWingetTable reads winget's column output: a header line, a dashed
// separator, then rows with name and id in the first two columns.
func parseWingetTable(out string, installed bool) []Package {
	var pkgs []Package
	pastHeader := false
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "---") {
			pastHeader = true
			continue
		}
		if !pastHeader {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pkg := Package{
			Name:      fields[0],
			Installed: installed,
			Backend:   "winget",
		}
		if len(fields) >= 3 {
			pkg.Version = fields[2]
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs
}

// classify maps a winget result to a canonical outcome. winget's exit
// codes are HRESULTs, so matching is mostly textual.
func (w *Winget) classify(act action.Action, target string, res *CommandResult) (*Outcome, error) {
	out := combinedOutput(res)

	if res.ExitCode == 0 {
		if containsAny(out, "already installed", "No newer package versions are available") {
			return &Outcome{
				Kind:    OutcomeAlreadySatisfied,
				Backend: "winget",
				Message: fmt.Sprintf("%s is already installed", target),
			}, nil
		}
		return &Outcome{Kind: OutcomeSuccess, Backend: "winget"}, nil
	}

	switch {
	case strings.Contains(out, "No package found matching input criteria"):
		return &Outcome{
			Kind:    OutcomeNotFound,
			Backend: "winget",
			Message: fmt.Sprintf("winget has no package %q", target),
		}, nil

	case strings.Contains(out, "already installed"):
		return &Outcome{
			Kind:    OutcomeAlreadySatisfied,
			Backend: "winget",
			Message: fmt.Sprintf("%s is already installed", target),
		}, nil

	case containsAny(out, "Installer failed with exit code", "Installation abandoned"):
		return &Outcome{
			Kind:     OutcomePartialFailure,
			Backend:  "winget",
			Message:  "installer did not complete",
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}, nil

	case containsAny(out, "requires administrator", "elevated"):
		return nil, newError("winget", ErrKindPermission, act, target, res)

	case containsAny(out, "Failed in attempting to update the source", "internet connection"):
		return nil, newError("winget", ErrKindNetwork, act, target, res)

	default:
		return nil, newError("winget", ErrKindUnknown, act, target, res)
	}
}
