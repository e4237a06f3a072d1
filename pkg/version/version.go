// Package version tracks installed language toolchains and decides which
// one applies to an invocation. Installed versions live in a SQLite state
// database; the resolver walks a fixed precedence chain over pin files,
// project manifests, and recorded defaults, and never guesses.
package version

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ErrNotFound is returned by store lookups when no matching record exists.
var ErrNotFound = errors.New("version not found")

// ErrUnresolved is returned when the precedence chain produced no version.
var ErrUnresolved = errors.New("no version resolved")

// Scope says who an installed version or default belongs to.
type Scope string

const (
	// ScopeUser is an installation under the invoking user's data directory.
	ScopeUser Scope = "user"
	// ScopeSystem is a machine-wide installation.
	ScopeSystem Scope = "system"
)

// Validate checks that the scope is a known value.
func (s Scope) Validate() error {
	switch s {
	case ScopeUser, ScopeSystem:
		return nil
	default:
		return fmt.Errorf("invalid scope: %s", s)
	}
}

// Source identifies which precedence level produced a resolution. The
// values appear in user-facing messages, so they read as plain words.
type Source string

const (
	SourceOverride      Source = "override"
	SourcePinFile       Source = "pin file"
	SourceParentPin     Source = "parent pin file"
	SourceManifest      Source = "project manifest"
	SourceUserDefault   Source = "user default"
	SourceSystemDefault Source = "system default"
	SourceSystemBinary  Source = "system binary"
)

// VersionRecord is one installed toolchain version as tracked in the state
// database.
type VersionRecord struct {
	Language    string    `json:"language"`
	Version     string    `json:"version"`
	InstallPath string    `json:"install_path"`
	Scope       Scope     `json:"scope"`
	InstalledAt time.Time `json:"installed_at"`
}

// Validate checks that the record can be persisted.
func (r *VersionRecord) Validate() error {
	if r.Language == "" {
		return fmt.Errorf("language is required")
	}
	if r.Version == "" {
		return fmt.Errorf("version is required")
	}
	if r.InstallPath == "" {
		return fmt.Errorf("install path is required")
	}
	if err := r.Scope.Validate(); err != nil {
		return err
	}
	return nil
}

// BinDir returns the directory holding the version's executables.
func (r *VersionRecord) BinDir() string {
	return filepath.Join(r.InstallPath, "bin")
}

// Resolution is the outcome of walking the precedence chain. Path is the
// install directory for managed versions, or the executable itself when
// Source is SourceSystemBinary. Interactive is set instead of a version
// when nothing resolved but the caller may prompt the user to install.
type Resolution struct {
	Language    string
	Version     string
	Source      Source
	Requirement string // the pin or manifest constraint that selected the version
	Path        string
	Interactive bool
}

// Describe renders the resolution for log lines and prompts.
func (r *Resolution) Describe() string {
	if r.Interactive {
		return fmt.Sprintf("%s: no version resolved, prompting", r.Language)
	}
	if r.Requirement != "" && r.Requirement != r.Version {
		return fmt.Sprintf("%s %s (%s %q)", r.Language, r.Version, r.Source, r.Requirement)
	}
	return fmt.Sprintf("%s %s (%s)", r.Language, r.Version, r.Source)
}

// UnresolvedError reports that every precedence level came up empty. It
// lists what was consulted so the user can see the search was exhaustive.
type UnresolvedError struct {
	Language  string
	Consulted []string
}

func (e *UnresolvedError) Error() string {
	if len(e.Consulted) == 0 {
		return fmt.Sprintf("no %s version resolved", e.Language)
	}
	return fmt.Sprintf("no %s version resolved (consulted %s)",
		e.Language, strings.Join(e.Consulted, ", "))
}

// Unwrap lets callers test with errors.Is(err, ErrUnresolved).
func (e *UnresolvedError) Unwrap() error { return ErrUnresolved }

// LatestMatch picks the newest installed record satisfying a requirement.
// The requirement is parsed as a semver constraint with missing segments
// treated as wildcards, so a pin of "3.12" matches any installed 3.12.x.
// A requirement that is not valid semver falls back to exact string
// comparison against the recorded version.
func LatestMatch(requirement string, installed []*VersionRecord) (*VersionRecord, bool) {
	requirement = strings.TrimSpace(requirement)
	if requirement == "" {
		return nil, false
	}

	constraint, err := semver.NewConstraint(requirement)
	if err != nil {
		for _, rec := range installed {
			if rec.Version == requirement {
				return rec, true
			}
		}
		return nil, false
	}

	var best *VersionRecord
	var bestVer *semver.Version
	for _, rec := range installed {
		v, err := semver.NewVersion(rec.Version)
		if err != nil {
			// Not comparable; only an exact pin can select it.
			if rec.Version == requirement {
				return rec, true
			}
			continue
		}
		if !constraint.Check(v) {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best = rec
			bestVer = v
		}
	}
	return best, best != nil
}

// SortByVersion orders records newest first. Versions that do not parse as
// semver sort after the ones that do, alphabetically.
func SortByVersion(records []*VersionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		vi, erri := semver.NewVersion(records[i].Version)
		vj, errj := semver.NewVersion(records[j].Version)
		switch {
		case erri == nil && errj == nil:
			return vi.GreaterThan(vj)
		case erri == nil:
			return true
		case errj == nil:
			return false
		default:
			return records[i].Version < records[j].Version
		}
	})
}
