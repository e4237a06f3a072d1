// Package profile captures the managed toolchain set as a portable
// YAML document and replays it on another machine. Export reads the
// version store; import installs every listed toolchain inside one
// journaled transaction.
package profile

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pakmux/pakmux/pkg/version"
)

// Profile is the exported document.
type Profile struct {
	// Name is an optional label for the profile.
	Name string `yaml:"name,omitempty"`

	// CreatedAt is when the profile was exported.
	CreatedAt time.Time `yaml:"created_at"`

	Languages []Entry `yaml:"languages"`
}

// Entry names one toolchain version to have installed.
type Entry struct {
	Language string        `yaml:"language"`
	Version  string        `yaml:"version"`
	Scope    version.Scope `yaml:"scope,omitempty"`

	// Default marks the entry as the current version for its scope.
	Default bool `yaml:"default,omitempty"`

	// URL overrides the built-in distribution table on import, for
	// languages that have none.
	URL string `yaml:"url,omitempty"`
}

// Validate checks every entry against the known language table.
func (p *Profile) Validate() error {
	for idx, e := range p.Languages {
		if !version.Known(e.Language) {
			return fmt.Errorf("entry %d: unknown language %q", idx+1, e.Language)
		}
		if e.Version == "" {
			return fmt.Errorf("entry %d: %s has no version", idx+1, e.Language)
		}
		if e.Scope != "" {
			if err := e.Scope.Validate(); err != nil {
				return fmt.Errorf("entry %d: %w", idx+1, err)
			}
		}
	}
	return nil
}

// Load reads and validates a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return &p, nil
}
