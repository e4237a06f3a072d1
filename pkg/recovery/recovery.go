// Package recovery matches failed backend invocations against known
// error signatures and proposes a fix. The engine applies at most one
// remediation per failed step, through the same runner the step used,
// then retries the step once.
package recovery

import (
	"fmt"
	"regexp"

	"github.com/pakmux/pakmux/pkg/telemetry"
)

// Failure is the evidence from one failed backend call.
type Failure struct {
	Backend  string
	ExitCode int
	Stderr   string
}

// Remediation is a proposed fix. Commands are argv sequences executed in
// order; a remediation with no commands is advice the engine can only
// surface to the user.
type Remediation struct {
	ID          string
	Description string
	Commands    [][]string
	// Elevate marks command sequences that modify system package state
	// and therefore run under the transaction's privilege grant.
	Elevate bool
}

// Runnable reports whether the remediation can be applied automatically.
func (r *Remediation) Runnable() bool {
	return len(r.Commands) > 0
}

// Pattern is one recognizable failure signature.
type Pattern struct {
	ID          string
	Backend     string // empty matches any backend
	Stderr      *regexp.Regexp
	ExitCodes   []int // empty matches any exit code
	Description string
	Commands    [][]string
	Elevate     bool
}

func (p *Pattern) matches(f Failure) bool {
	if p.Backend != "" && p.Backend != f.Backend {
		return false
	}
	if len(p.ExitCodes) > 0 {
		found := false
		for _, code := range p.ExitCodes {
			if code == f.ExitCode {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return p.Stderr.MatchString(f.Stderr)
}

// Analyzer holds the compiled pattern table. Patterns are checked in
// registration order; the first match wins.
type Analyzer struct {
	patterns []Pattern
	logger   *telemetry.Logger
}

// NewAnalyzer creates an analyzer preloaded with the built-in patterns.
// logger may be nil.
func NewAnalyzer(logger *telemetry.Logger) *Analyzer {
	if logger == nil {
		logger = telemetry.NewNopTelemetry().Logger
	}
	return &Analyzer{
		patterns: builtinPatterns(),
		logger:   logger.NewComponentLogger("recovery"),
	}
}

// Register appends a pattern to the table. Extended pattern sets (full
// per-distribution databases) plug in here.
func (a *Analyzer) Register(p Pattern) error {
	if p.ID == "" {
		return fmt.Errorf("pattern id is required")
	}
	if p.Stderr == nil {
		return fmt.Errorf("pattern %s has no stderr expression", p.ID)
	}
	if p.Description == "" {
		return fmt.Errorf("pattern %s has no description", p.ID)
	}
	a.patterns = append(a.patterns, p)
	return nil
}

// Analyze returns the remediation for the first matching pattern, or
// false when the failure is not recognized.
func (a *Analyzer) Analyze(f Failure) (*Remediation, bool) {
	for i := range a.patterns {
		p := &a.patterns[i]
		if !p.matches(f) {
			continue
		}
		a.logger.WithBackend(f.Backend).
			WithField("pattern", p.ID).
			Debugf("failure matched: %s", p.Description)
		return &Remediation{
			ID:          p.ID,
			Description: p.Description,
			Commands:    p.Commands,
			Elevate:     p.Elevate,
		}, true
	}
	return nil, false
}

// builtinPatterns is the compact built-in table. Remediations that would
// delete files or kill processes ship as advice, never as commands.
func builtinPatterns() []Pattern {
	return []Pattern{
		{
			ID:          "apt-dpkg-interrupted",
			Backend:     "apt",
			Stderr:      regexp.MustCompile(`dpkg was interrupted`),
			Description: "a previous dpkg run was interrupted; completing its configuration",
			Commands:    [][]string{{"dpkg", "--configure", "-a"}},
			Elevate:     true,
		},
		{
			ID:          "apt-broken-deps",
			Backend:     "apt",
			Stderr:      regexp.MustCompile(`unmet dependencies|--fix-broken`),
			Description: "packages have unmet dependencies; repairing with apt-get",
			Commands: [][]string{
				{"apt-get", "update"},
				{"apt-get", "--fix-broken", "install", "-y"},
			},
			Elevate: true,
		},
		{
			ID:          "apt-stale-lists",
			Backend:     "apt",
			Stderr:      regexp.MustCompile(`Hash Sum mismatch`),
			Description: "package lists are stale or corrupt; cleaning and refreshing",
			Commands: [][]string{
				{"apt-get", "clean"},
				{"apt-get", "update"},
			},
			Elevate: true,
		},
		{
			ID:          "apt-lock-held",
			Backend:     "apt",
			Stderr:      regexp.MustCompile(`Could not get lock|Unable to acquire the dpkg frontend lock`),
			Description: "another package manager holds the dpkg lock; wait for it to finish and retry",
		},
		{
			ID:          "dnf-cache-corrupt",
			Backend:     "dnf",
			Stderr:      regexp.MustCompile(`Metadata file does not match checksum|Cache-only enabled but no cache`),
			Description: "the dnf metadata cache is corrupt; rebuilding it",
			Commands: [][]string{
				{"dnf", "clean", "all"},
				{"dnf", "makecache"},
			},
			Elevate: true,
		},
		{
			ID:          "dnf-rpmdb-corrupt",
			Backend:     "dnf",
			Stderr:      regexp.MustCompile(`cannot open Packages database|rpmdb: .+ cannot allocate memory`),
			Description: "the rpm database is corrupt; rebuilding it",
			Commands: [][]string{
				{"rpm", "--rebuilddb"},
				{"dnf", "clean", "all"},
			},
			Elevate: true,
		},
		{
			ID:          "pacman-db-locked",
			Backend:     "pacman",
			Stderr:      regexp.MustCompile(`could not lock database: File exists`),
			Description: "the pacman database is locked; if no pacman process is running, remove /var/lib/pacman/db.lck and retry",
		},
		{
			ID:          "pacman-keyring-stale",
			Backend:     "pacman",
			Stderr:      regexp.MustCompile(`signature from .+ is (marginal|unknown) trust`),
			Description: "the pacman keyring is out of date; refreshing archlinux-keyring",
			Commands: [][]string{
				{"pacman", "-Sy", "archlinux-keyring", "--noconfirm"},
			},
			Elevate: true,
		},
	}
}
