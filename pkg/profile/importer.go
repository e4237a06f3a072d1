package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/pakmux/pakmux/pkg/telemetry"
	"github.com/pakmux/pakmux/pkg/txn"
	"github.com/pakmux/pakmux/pkg/version"
)

// Toolchains is the slice of the language installer the importer
// drives. *version.Installer satisfies it.
type Toolchains interface {
	Install(ctx context.Context, rec version.EffectRecorder, spec version.InstallSpec) (*version.VersionRecord, error)
	Use(ctx context.Context, language, ver string, scope version.Scope) (*version.VersionRecord, error)
}

// Tx is the journaled transaction handle Apply records through.
// *engine.Tx satisfies it.
type Tx interface {
	ID() string
	Record(eff txn.Effect) error
}

// Importer replays a profile against the local store.
type Importer struct {
	toolchains Toolchains
	events     *telemetry.EventPublisher
	logger     *telemetry.Logger
}

// NewImporter creates an importer. Progress goes to tel's event
// publisher, one step per profile entry.
func NewImporter(toolchains Toolchains, tel *telemetry.Telemetry) *Importer {
	if tel == nil {
		tel = telemetry.NewNopTelemetry()
	}
	return &Importer{
		toolchains: toolchains,
		events:     tel.Events,
		logger:     tel.Logger.NewComponentLogger("profile"),
	}
}

// Report summarizes what an import changed.
type Report struct {
	// Installed lists freshly installed toolchains.
	Installed []string
	// Skipped lists entries that were already installed.
	Skipped []string
	// Defaults lists current-version flips that were applied.
	Defaults []string
}

// Apply installs every toolchain the profile lists, recording effects
// through tx. Entries already installed are skipped and their default
// markers still applied, so importing the same profile twice is safe.
// The first failed entry aborts the import; the caller's transaction
// rolls back whatever was installed before it.
func (i *Importer) Apply(ctx context.Context, tx Tx, prof *Profile) (*Report, error) {
	if err := prof.Validate(); err != nil {
		return nil, err
	}

	report := &Report{}
	total := len(prof.Languages)
	for idx, entry := range prof.Languages {
		label := entry.Language + " " + entry.Version

		_, err := i.toolchains.Install(ctx, tx, version.InstallSpec{
			Language: entry.Language,
			Version:  entry.Version,
			URL:      entry.URL,
			Scope:    entry.Scope,
		})
		switch {
		case errors.Is(err, version.ErrAlreadyInstalled):
			i.logger.Debugf("%s already installed", label)
			report.Skipped = append(report.Skipped, label)
		case err != nil:
			return nil, fmt.Errorf("failed to install %s: %w", label, err)
		default:
			report.Installed = append(report.Installed, label)
		}

		if entry.Default {
			scope := entry.Scope
			if scope == "" {
				scope = version.ScopeUser
			}
			if _, err := i.toolchains.Use(ctx, entry.Language, entry.Version, scope); err != nil {
				return nil, fmt.Errorf("failed to set %s as %s default: %w", label, scope, err)
			}
			report.Defaults = append(report.Defaults, fmt.Sprintf("%s (%s)", label, scope))
		}

		i.events.PublishProgress(tx.ID(), idx+1, total, label)
	}

	i.logger.Infof("profile applied: %d installed, %d already present",
		len(report.Installed), len(report.Skipped))
	return report, nil
}
