package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pakmux/pakmux/pkg/telemetry"
	"github.com/pakmux/pakmux/pkg/version"
)

// Source is the installed-version view the exporter reads.
// *version.Store satisfies it.
type Source interface {
	Languages(ctx context.Context) ([]string, error)
	List(ctx context.Context, language string) ([]*version.VersionRecord, error)
	Current(ctx context.Context, language string, scope version.Scope) (*version.VersionRecord, error)
}

// Exporter turns the version store's contents into a profile.
type Exporter struct {
	source Source
	logger *telemetry.Logger
}

// NewExporter creates an exporter over the given store view.
func NewExporter(source Source, logger *telemetry.Logger) *Exporter {
	if logger == nil {
		logger = telemetry.NewNopTelemetry().Logger
	}
	return &Exporter{
		source: source,
		logger: logger.NewComponentLogger("profile"),
	}
}

// Snapshot builds a profile from every installed version. Entries for
// a language's current version carry the default marker for their
// scope.
func (e *Exporter) Snapshot(ctx context.Context) (*Profile, error) {
	langs, err := e.source.Languages(ctx)
	if err != nil {
		return nil, err
	}

	prof := &Profile{
		CreatedAt: time.Now().UTC(),
		Languages: []Entry{},
	}
	for _, lang := range langs {
		defaults := make(map[version.Scope]string)
		for _, scope := range []version.Scope{version.ScopeUser, version.ScopeSystem} {
			cur, err := e.source.Current(ctx, lang, scope)
			if errors.Is(err, version.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			defaults[scope] = cur.Version
		}

		records, err := e.source.List(ctx, lang)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			prof.Languages = append(prof.Languages, Entry{
				Language: rec.Language,
				Version:  rec.Version,
				Scope:    rec.Scope,
				Default:  defaults[rec.Scope] == rec.Version,
			})
		}
	}
	return prof, nil
}

// Export writes the snapshot to path as YAML.
func (e *Exporter) Export(ctx context.Context, path string) (*Profile, error) {
	prof, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(prof)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write profile: %w", err)
	}
	e.logger.Infof("exported %d toolchains to %s", len(prof.Languages), path)
	return prof, nil
}
