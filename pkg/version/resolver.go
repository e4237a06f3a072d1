package version

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/pakmux/pakmux/pkg/telemetry"
)

// ResolutionContext is the full input to a resolution, captured once at
// dispatch time. The resolver reads nothing else: no ad-hoc environment
// lookups, no current-directory calls. Two resolutions with the same
// context and the same store contents return the same answer.
type ResolutionContext struct {
	// Language is the managed language to resolve, e.g. "python".
	Language string
	// Binary is the command name the process was invoked as.
	Binary string
	// WorkingDir anchors pin-file and manifest search.
	WorkingDir string
	// Override is an explicit version requirement from the command line.
	Override string
	// Environ is the process environment snapshot; the resolver only
	// consults PAKMUX_<LANGUAGE>_VERSION.
	Environ map[string]string
	// Interactive reports whether the caller can prompt the user.
	Interactive bool
}

// StateSource is the read-only slice of the version store the resolver
// needs. *Store satisfies it.
type StateSource interface {
	List(ctx context.Context, language string) ([]*VersionRecord, error)
	Current(ctx context.Context, language string, scope Scope) (*VersionRecord, error)
}

// Resolver walks the precedence chain for one invocation:
//
//  1. explicit override (flag, then PAKMUX_<LANGUAGE>_VERSION)
//  2. pin file in the working directory
//  3. nearest pin file in a parent directory, bounded by the VCS root
//  4. project manifest requirement
//  5. user default from the store
//  6. system default from the store
//  7. system binary on PATH
//  8. prompt if interactive, otherwise a typed unresolved error
//
// Pins and manifests state requirements, not versions: each hit is
// matched against the installed records and skipped when nothing
// satisfies it. An explicit override that matches nothing fails instead,
// since the user asked for that version by name.
type Resolver struct {
	source   StateSource
	lookPath func(file string) (string, error)
	logger   *telemetry.Logger
}

// NewResolver creates a resolver over the given state source. logger may
// be nil.
func NewResolver(source StateSource, logger *telemetry.Logger) *Resolver {
	if logger == nil {
		logger = telemetry.NewNopTelemetry().Logger
	}
	return &Resolver{
		source:   source,
		lookPath: exec.LookPath,
		logger:   logger.NewComponentLogger("resolver"),
	}
}

// Resolve picks the version that applies in the given context, or returns
// an error wrapping ErrUnresolved naming everything it consulted.
func (r *Resolver) Resolve(ctx context.Context, rctx ResolutionContext) (*Resolution, error) {
	lang := rctx.Language
	if !Known(lang) {
		return nil, fmt.Errorf("unknown language: %s", lang)
	}

	installed, err := r.source.List(ctx, lang)
	if err != nil {
		return nil, fmt.Errorf("failed to list installed %s versions: %w", lang, err)
	}

	var consulted []string

	override := strings.TrimSpace(rctx.Override)
	if override == "" {
		override = strings.TrimSpace(rctx.Environ[EnvOverrideKey(lang)])
	}
	if override != "" {
		rec, ok := LatestMatch(override, installed)
		if !ok {
			return nil, fmt.Errorf("%w: %s %s is not installed", ErrUnresolved, lang, override)
		}
		return r.resolved(rec, SourceOverride, override), nil
	}

	if req, file, ok := pinInDir(rctx.WorkingDir, lang); ok {
		if rec, found := LatestMatch(req, installed); found {
			return r.resolved(rec, SourcePinFile, req), nil
		}
		r.logger.WithLanguage(lang).Debugf("%s requires %s but no installed version matches", file, req)
	}
	consulted = append(consulted, strings.Join(languages[lang].pinFiles, "/"))

	if req, file, ok := parentPin(rctx.WorkingDir, lang); ok {
		if rec, found := LatestMatch(req, installed); found {
			return r.resolved(rec, SourceParentPin, req), nil
		}
		r.logger.WithLanguage(lang).Debugf("parent %s requires %s but no installed version matches", file, req)
	}
	consulted = append(consulted, "parent directories")

	if req, file, ok := manifestRequirement(rctx.WorkingDir, lang); ok {
		if rec, found := LatestMatch(req, installed); found {
			return r.resolved(rec, SourceManifest, req), nil
		}
		r.logger.WithLanguage(lang).Debugf("%s requires %s but no installed version matches", file, req)
	}
	if m := languages[lang].manifest; m != "" {
		consulted = append(consulted, m)
	}

	defaults := []struct {
		scope  Scope
		source Source
		label  string
	}{
		{ScopeUser, SourceUserDefault, "user default"},
		{ScopeSystem, SourceSystemDefault, "system default"},
	}
	for _, d := range defaults {
		rec, err := r.source.Current(ctx, lang, d.scope)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				consulted = append(consulted, d.label)
				continue
			}
			return nil, fmt.Errorf("failed to read %s %s: %w", lang, d.label, err)
		}
		return r.resolved(rec, d.source, ""), nil
	}

	if path, err := r.lookPath(PrimaryBinary(lang)); err == nil {
		res := &Resolution{
			Language: lang,
			Version:  "system",
			Source:   SourceSystemBinary,
			Path:     path,
		}
		r.logger.WithLanguage(lang).Debugf("resolved %s", res.Describe())
		return res, nil
	}
	consulted = append(consulted, "PATH")

	if rctx.Interactive {
		return &Resolution{Language: lang, Interactive: true}, nil
	}
	return nil, &UnresolvedError{Language: lang, Consulted: consulted}
}

func (r *Resolver) resolved(rec *VersionRecord, source Source, requirement string) *Resolution {
	res := &Resolution{
		Language:    rec.Language,
		Version:     rec.Version,
		Source:      source,
		Requirement: requirement,
		Path:        rec.InstallPath,
	}
	r.logger.WithLanguage(rec.Language).Debugf("resolved %s", res.Describe())
	return res
}

// EnvOverrideKey returns the environment variable that overrides the
// version for a language, e.g. PAKMUX_PYTHON_VERSION.
func EnvOverrideKey(language string) string {
	return "PAKMUX_" + strings.ToUpper(language) + "_VERSION"
}
