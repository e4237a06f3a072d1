package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/pakmux/pakmux/pkg/action"
	"github.com/pakmux/pakmux/pkg/txn"
)

// Apt adapts the Debian and Ubuntu package toolchain. Mutations go
// through apt-get, which keeps a stable scripting interface; metadata
// queries go through apt-cache and dpkg-query.
type Apt struct {
	runner Runner
}

// NewApt creates the apt adapter.
func NewApt(runner Runner) *Apt {
	return &Apt{runner: runner}
}

// Name returns "apt".
func (a *Apt) Name() string {
	return "apt"
}

// aptEnv forces non-interactive behavior. dpkg prompts about conffile
// changes otherwise, which would hang an unattended run.
func aptEnv() map[string]string {
	return map[string]string{"DEBIAN_FRONTEND": "noninteractive"}
}

// Probe checks for a usable apt-get.
func (a *Apt) Probe(ctx context.Context) Availability {
	res, err := a.runner.Run(ctx, Command{Argv: []string{"apt-get", "--version"}})
	if err != nil {
		return Availability{Reason: fmt.Sprintf("apt-get not usable: %v", err)}
	}
	if res.ExitCode != 0 {
		return Availability{Reason: fmt.Sprintf("apt-get --version exited %d", res.ExitCode)}
	}
	return Availability{Available: true, Version: firstLine(res.Stdout)}
}

// Capabilities reports apt's full query support and its root requirement
// for mutations.
func (a *Apt) Capabilities() Capabilities {
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

// Execute routes the action to the matching apt invocation.
func (a *Apt) Execute(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	switch act.Kind {
	case action.KindInstall:
		return a.install(ctx, act, rec)
	case action.KindRemove:
		return a.remove(ctx, act, rec)
	case action.KindUpdate:
		return a.update(ctx, act, rec)
	case action.KindSearch:
		return a.search(ctx, act)
	case action.KindList:
		return a.list(ctx)
	case action.KindInfo:
		return a.info(ctx, act)
	case action.KindWhere:
		return a.where(ctx, act)
	case action.KindWhatIs:
		return a.whatis(ctx, act)
	default:
		return nil, fmt.Errorf("apt: %s: %w", act.Kind, ErrUnsupported)
	}
}

func (a *Apt) install(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}
	spec := target.Name
	if target.Constraint != "" {
		spec = target.Name + "=" + target.Constraint
	}

	if act.Options.Refresh {
		// A failed refresh is not fatal; the install surfaces any real
		// repository trouble.
		if _, err := a.runner.Run(ctx, Command{
			Argv:        []string{"apt-get", "update"},
			Env:         aptEnv(),
			Elevate:     true,
			Passthrough: true,
		}); err != nil {
			return nil, runError("apt", act, target.Name, err)
		}
	}

	res, err := a.runner.Run(ctx, Command{
		Argv:        []string{"apt-get", "install", "-y", spec},
		Env:         aptEnv(),
		Elevate:     true,
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("apt", act, target.Name, err)
	}

	outcome, cerr := a.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		version := a.installedVersion(ctx, target.Name)
		if err := recordInstall(rec, "apt", target.Name, version); err != nil {
			return nil, err
		}
		outcome.Message = fmt.Sprintf("installed %s %s", target.Name, version)
	}
	return outcome, nil
}

func (a *Apt) remove(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}

	// The version must be read before removal or it is gone.
	version := a.installedVersion(ctx, target.Name)

	res, err := a.runner.Run(ctx, Command{
		Argv:        []string{"apt-get", "remove", "-y", target.Name},
		Env:         aptEnv(),
		Elevate:     true,
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("apt", act, target.Name, err)
	}

	if res.ExitCode == 0 && strings.Contains(res.Stdout, "is not installed, so not removed") {
		return &Outcome{
			Kind:    OutcomeAlreadySatisfied,
			Backend: "apt",
			Message: fmt.Sprintf("%s is not installed", target.Name),
		}, nil
	}

	outcome, cerr := a.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		if err := recordRemove(rec, "apt", target.Name, version); err != nil {
			return nil, err
		}
		outcome.Message = fmt.Sprintf("removed %s %s", target.Name, version)
	}
	return outcome, nil
}

func (a *Apt) update(ctx context.Context, act action.Action, rec Recorder) (*Outcome, error) {
	if len(act.Targets) == 0 {
		return a.updateAll(ctx, act)
	}

	target, err := singleTarget(act)
	if err != nil {
		return nil, err
	}

	oldVersion := a.installedVersion(ctx, target.Name)

	res, err := a.runner.Run(ctx, Command{
		Argv:        []string{"apt-get", "install", "--only-upgrade", "-y", target.Name},
		Env:         aptEnv(),
		Elevate:     true,
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("apt", act, target.Name, err)
	}

	outcome, cerr := a.classify(act, target.Name, res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		newVersion := a.installedVersion(ctx, target.Name)
		if newVersion == oldVersion {
			outcome.Kind = OutcomeAlreadySatisfied
			outcome.Message = fmt.Sprintf("%s is already at %s", target.Name, newVersion)
			return outcome, nil
		}
		// Recorded as a removal of the old version so rollback can
		// downgrade back to it.
		if rec != nil && oldVersion != "" {
			if err := rec.Record(txn.NewPackageRemoved("apt", target.Name, oldVersion, "apt")); err != nil {
				return nil, fmt.Errorf("failed to record update effect: %w", err)
			}
		}
		outcome.Message = fmt.Sprintf("updated %s %s -> %s", target.Name, oldVersion, newVersion)
	}
	return outcome, nil
}

// updateAll upgrades every installed package. The individual changes are
// not enumerable up front, so nothing is recorded for rollback.
func (a *Apt) updateAll(ctx context.Context, act action.Action) (*Outcome, error) {
	if _, err := a.runner.Run(ctx, Command{
		Argv:        []string{"apt-get", "update"},
		Env:         aptEnv(),
		Elevate:     true,
		Passthrough: true,
	}); err != nil {
		return nil, runError("apt", act, "", err)
	}

	res, err := a.runner.Run(ctx, Command{
		Argv:        []string{"apt-get", "upgrade", "-y"},
		Env:         aptEnv(),
		Elevate:     true,
		Passthrough: true,
	})
	if err != nil {
		return nil, runError("apt", act, "", err)
	}

	outcome, cerr := a.classify(act, "", res)
	if cerr != nil {
		return nil, cerr
	}
	if outcome.Kind == OutcomeSuccess {
		outcome.Message = "system upgrade completed"
	}
	return outcome, nil
}

func (a *Apt) search(ctx context.Context, act action.Action) (*Outcome, error) {
	term := act.Targets[0].Name
	res, err := a.runner.Run(ctx, Command{
		Argv: []string{"apt-cache", "search", term},
	})
	if err != nil {
		return nil, runError("apt", act, term, err)
	}
	if res.ExitCode != 0 {
		return nil, a.infraError(act, term, res)
	}

	// apt-cache search prints "name - description" per match.
	var pkgs []Package
	for _, line := range strings.Split(res.Stdout, "\n") {
		name, desc, found := strings.Cut(line, " - ")
		if !found || strings.TrimSpace(name) == "" {
			continue
		}
		pkgs = append(pkgs, Package{
			Name:        strings.TrimSpace(name),
			Description: strings.TrimSpace(desc),
			Backend:     "apt",
		})
	}
	if len(pkgs) == 0 {
		return &Outcome{Kind: OutcomeNotFound, Backend: "apt", Message: fmt.Sprintf("no packages match %q", term)}, nil
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "apt", Packages: pkgs}, nil
}

func (a *Apt) list(ctx context.Context) (*Outcome, error) {
	res, err := a.runner.Run(ctx, Command{
		Argv: []string{"dpkg-query", "-W", "-f=${Package}\t${Version}\n"},
	})
	if err != nil {
		return nil, runError("apt", action.Action{Kind: action.KindList}, "", err)
	}
	if res.ExitCode != 0 {
		return nil, a.infraError(action.Action{Kind: action.KindList}, "", res)
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
			Backend:   "apt",
		})
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "apt", Packages: pkgs}, nil
}

func (a *Apt) info(ctx context.Context, act action.Action) (*Outcome, error) {
	target := act.Targets[0].Name
	res, err := a.runner.Run(ctx, Command{
		Argv: []string{"apt-cache", "show", target},
	})
	if err != nil {
		return nil, runError("apt", act, target, err)
	}
	if res.ExitCode != 0 || containsAny(combinedOutput(res), "Unable to locate package", "No packages found") {
		return &Outcome{Kind: OutcomeNotFound, Backend: "apt", Message: fmt.Sprintf("no package %q", target)}, nil
	}

	pkg := Package{Name: target, Backend: "apt", Installed: a.installedVersion(ctx, target) != ""}
	for _, line := range strings.Split(res.Stdout, "\n") {
		switch {
		case strings.HasPrefix(line, "Version:"):
			if pkg.Version == "" {
				pkg.Version = strings.TrimSpace(strings.TrimPrefix(line, "Version:"))
			}
		case strings.HasPrefix(line, "Description-en:"):
			if pkg.Description == "" {
				pkg.Description = strings.TrimSpace(strings.TrimPrefix(line, "Description-en:"))
			}
		case strings.HasPrefix(line, "Description:"):
			if pkg.Description == "" {
				pkg.Description = strings.TrimSpace(strings.TrimPrefix(line, "Description:"))
			}
		}
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "apt", Packages: []Package{pkg}}, nil
}

func (a *Apt) where(ctx context.Context, act action.Action) (*Outcome, error) {
	target := act.Targets[0].Name
	res, err := a.runner.Run(ctx, Command{
		Argv: []string{"dpkg", "-L", target},
	})
	if err != nil {
		return nil, runError("apt", act, target, err)
	}
	if res.ExitCode != 0 {
		return &Outcome{Kind: OutcomeNotFound, Backend: "apt", Message: fmt.Sprintf("%s is not installed via apt", target)}, nil
	}

	pkg := Package{
		Name:      target,
		Version:   a.installedVersion(ctx, target),
		Installed: true,
		Backend:   "apt",
	}
	// Prefer the first executable path as the headline location.
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "/bin/") || strings.Contains(line, "/sbin/") {
			pkg.Location = line
			break
		}
		if pkg.Location == "" && line != "" && line != "/." {
			pkg.Location = line
		}
	}
	return &Outcome{Kind: OutcomeSuccess, Backend: "apt", Packages: []Package{pkg}}, nil
}

func (a *Apt) whatis(ctx context.Context, act action.Action) (*Outcome, error) {
	outcome, err := a.info(ctx, act)
	if err != nil || outcome.Kind != OutcomeSuccess {
		return outcome, err
	}
	// whatis is info reduced to the one-line description.
	pkg := outcome.Packages[0]
	pkg.Version = ""
	return &Outcome{Kind: OutcomeSuccess, Backend: "apt", Packages: []Package{pkg}}, nil
}

// installedVersion reads the installed version via dpkg-query, empty
// when not installed.
func (a *Apt) installedVersion(ctx context.Context, name string) string {
	res, err := a.runner.Run(ctx, Command{
		Argv: []string{"dpkg-query", "-W", "-f=${Version}", name},
	})
	if err != nil || res.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// classify maps an apt-get result to a canonical outcome. apt-get exits
// 100 for almost everything, so the output text carries the signal.
func (a *Apt) classify(act action.Action, target string, res *CommandResult) (*Outcome, error) {
	out := combinedOutput(res)

	if res.ExitCode == 0 {
		if strings.Contains(res.Stdout, "is already the newest version") {
			return &Outcome{
				Kind:    OutcomeAlreadySatisfied,
				Backend: "apt",
				Message: fmt.Sprintf("%s is already the newest version", target),
			}, nil
		}
		return &Outcome{Kind: OutcomeSuccess, Backend: "apt"}, nil
	}

	switch {
	case strings.Contains(out, "Unable to locate package"):
		return &Outcome{
			Kind:    OutcomeNotFound,
			Backend: "apt",
			Message: fmt.Sprintf("apt has no package %q", target),
		}, nil

	case strings.Contains(out, "dpkg was interrupted"):
		return &Outcome{
			Kind:        OutcomePartialFailure,
			Backend:     "apt",
			Message:     "dpkg was interrupted by an earlier run",
			Recoverable: true,
			ExitCode:    res.ExitCode,
			Stdout:      res.Stdout,
			Stderr:      res.Stderr,
		}, nil

	case containsAny(out, "broken packages", "--fix-broken"):
		return &Outcome{
			Kind:        OutcomePartialFailure,
			Backend:     "apt",
			Message:     "apt reports broken packages",
			Recoverable: true,
			ExitCode:    res.ExitCode,
			Stdout:      res.Stdout,
			Stderr:      res.Stderr,
		}, nil

	case containsAny(out, "Could not get lock", "Unable to acquire the dpkg frontend lock"):
		return nil, newError("apt", ErrKindLocked, act, target, res)

	case containsAny(out, "are you root?", "Permission denied"):
		return nil, newError("apt", ErrKindPermission, act, target, res)

	case containsAny(out, "Temporary failure resolving", "Could not resolve", "Failed to fetch"):
		return nil, newError("apt", ErrKindNetwork, act, target, res)

	case strings.Contains(out, "No space left on device"):
		return nil, newError("apt", ErrKindDiskFull, act, target, res)

	default:
		return nil, newError("apt", ErrKindUnknown, act, target, res)
	}
}

// infraError classifies a failed query call, which never produces
// domain outcomes beyond not_found.
func (a *Apt) infraError(act action.Action, target string, res *CommandResult) error {
	out := combinedOutput(res)
	switch {
	case containsAny(out, "Temporary failure resolving", "Could not resolve"):
		return newError("apt", ErrKindNetwork, act, target, res)
	default:
		return newError("apt", ErrKindUnknown, act, target, res)
	}
}
