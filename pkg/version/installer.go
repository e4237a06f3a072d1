package version

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pakmux/pakmux/pkg/archive"
	"github.com/pakmux/pakmux/pkg/cache"
	"github.com/pakmux/pakmux/pkg/telemetry"
	"github.com/pakmux/pakmux/pkg/txn"
)

// ErrAlreadyInstalled is returned when the requested version is
// already recorded in the store.
var ErrAlreadyInstalled = errors.New("version already installed")

// ErrNoDistribution is returned for languages without a built-in
// binary distribution; the caller may supply an archive URL instead.
var ErrNoDistribution = errors.New("no built-in distribution")

// distribution describes where a language publishes binary archives.
type distribution struct {
	url   func(version, goos, goarch string) (string, bool)
	strip int
}

// distributions covers the languages with first-party binary tarballs.
// The arch spelling differs per project: nodejs.org says x64 where
// go.dev says amd64.
var distributions = map[string]distribution{
	"node": {
		url: func(version, goos, goarch string) (string, bool) {
			if goos != "linux" && goos != "darwin" {
				return "", false
			}
			arch, ok := map[string]string{
				"amd64": "x64",
				"arm64": "arm64",
				"arm":   "armv7l",
			}[goarch]
			if !ok {
				return "", false
			}
			return fmt.Sprintf("https://nodejs.org/dist/v%s/node-v%s-%s-%s.tar.xz",
				version, version, goos, arch), true
		},
		strip: 1,
	},
	"go": {
		url: func(version, goos, goarch string) (string, bool) {
			if goos != "linux" && goos != "darwin" {
				return "", false
			}
			if goarch != "amd64" && goarch != "arm64" {
				return "", false
			}
			return fmt.Sprintf("https://go.dev/dl/go%s.%s-%s.tar.gz",
				version, goos, goarch), true
		},
		strip: 1,
	},
}

// EffectRecorder receives the effects an install produces. The
// engine's transaction handle satisfies it.
type EffectRecorder interface {
	Record(eff txn.Effect) error
}

// InstallSpec names a version to install.
type InstallSpec struct {
	Language string
	Version  string

	// URL overrides the built-in distribution table. Required for
	// languages without one. The archive must contain a bin directory
	// under a single top-level directory.
	URL string

	// Scope defaults to ScopeUser.
	Scope Scope
}

// Installer downloads, extracts, and records managed toolchain
// versions under <data-dir>/languages.
type Installer struct {
	store   *Store
	cache   *cache.Cache
	dataDir string
	logger  *telemetry.Logger

	// Overridable for tests.
	client *http.Client
}

// NewInstaller creates an installer over the given store and download
// cache. logger may be nil.
func NewInstaller(store *Store, dl *cache.Cache, dataDir string, logger *telemetry.Logger) *Installer {
	if logger == nil {
		logger = telemetry.NewNopTelemetry().Logger
	}
	return &Installer{
		store:   store,
		cache:   dl,
		dataDir: dataDir,
		logger:  logger.NewComponentLogger("installer"),
		client:  &http.Client{},
	}
}

// Install downloads and extracts the version, records the created tree
// as an effect, and saves its record. Effects go to the journal before
// any file is written, so a crash mid-extract leaves a tree the
// recovery path removes.
func (i *Installer) Install(ctx context.Context, rec EffectRecorder, spec InstallSpec) (*VersionRecord, error) {
	if !Known(spec.Language) {
		return nil, fmt.Errorf("unknown language: %s", spec.Language)
	}
	if spec.Version == "" {
		return nil, fmt.Errorf("install requires a version")
	}
	scope := spec.Scope
	if scope == "" {
		scope = ScopeUser
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	if existing, err := i.store.Get(ctx, spec.Language, spec.Version); err == nil {
		return existing, fmt.Errorf("%w: %s %s", ErrAlreadyInstalled, spec.Language, spec.Version)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	dlURL, strip, err := i.distributionURL(spec)
	if err != nil {
		return nil, err
	}
	archivePath, err := i.fetch(ctx, spec.Language, dlURL)
	if err != nil {
		return nil, err
	}

	installPath := filepath.Join(i.dataDir, "languages", spec.Language, spec.Version)
	if _, err := os.Stat(installPath); err == nil {
		return nil, fmt.Errorf("install path already exists: %s", installPath)
	}
	if err := rec.Record(txn.NewFileCreated(installPath)); err != nil {
		return nil, err
	}

	summary, err := archive.Extract(ctx, archivePath, installPath, archive.Options{StripComponents: strip})
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", filepath.Base(archivePath), err)
	}

	primary := filepath.Join(installPath, "bin", PrimaryBinary(spec.Language))
	if _, err := os.Stat(primary); err != nil {
		return nil, fmt.Errorf("archive has no bin/%s; not a %s distribution?",
			PrimaryBinary(spec.Language), spec.Language)
	}

	record := &VersionRecord{
		Language:    spec.Language,
		Version:     spec.Version,
		InstallPath: installPath,
		Scope:       scope,
		InstalledAt: time.Now().UTC(),
	}
	if err := i.store.Save(ctx, record); err != nil {
		return nil, err
	}

	i.logger.WithLanguage(spec.Language).Infof("installed %s %s (%d files, %s)",
		spec.Language, spec.Version, summary.Files, cache.FormatSize(summary.Bytes))
	return record, nil
}

// Uninstall deletes the record and removes the installed tree. The
// record goes first: an orphan tree is harmless, a record pointing at
// nothing breaks resolution.
func (i *Installer) Uninstall(ctx context.Context, language, version string) error {
	rec, err := i.store.Get(ctx, language, version)
	if err != nil {
		return err
	}
	if err := i.store.Delete(ctx, language, version); err != nil {
		return err
	}
	if err := os.RemoveAll(rec.InstallPath); err != nil {
		return fmt.Errorf("failed to remove %s: %w", rec.InstallPath, err)
	}
	i.logger.WithLanguage(language).Infof("uninstalled %s %s", language, version)
	return nil
}

// Use makes an installed version the default for a scope.
func (i *Installer) Use(ctx context.Context, language, version string, scope Scope) (*VersionRecord, error) {
	if scope == "" {
		scope = ScopeUser
	}
	if err := i.store.SetCurrent(ctx, language, version, scope); err != nil {
		return nil, err
	}
	i.logger.WithLanguage(language).Infof("%s default is now %s %s", scope, language, version)
	return i.store.Get(ctx, language, version)
}

func (i *Installer) distributionURL(spec InstallSpec) (string, int, error) {
	if spec.URL != "" {
		return spec.URL, 1, nil
	}
	dist, ok := distributions[spec.Language]
	if !ok {
		return "", 0, fmt.Errorf("%w for %s; pass an archive URL", ErrNoDistribution, spec.Language)
	}
	dlURL, ok := dist.url(spec.Version, runtime.GOOS, runtime.GOARCH)
	if !ok {
		return "", 0, fmt.Errorf("%w for %s on %s/%s", ErrNoDistribution,
			spec.Language, runtime.GOOS, runtime.GOARCH)
	}
	return dlURL, dist.strip, nil
}

// fetch returns a local path for the archive, downloading into the
// cache unless it is already there.
func (i *Installer) fetch(ctx context.Context, language, dlURL string) (string, error) {
	parsed, err := url.Parse(dlURL)
	if err != nil {
		return "", fmt.Errorf("invalid archive URL: %w", err)
	}
	filename := path.Base(parsed.Path)
	if _, ok := archive.DetectFormat(filename); !ok {
		return "", fmt.Errorf("unsupported archive format: %s", filename)
	}

	if i.cache.Has(filename) {
		i.cache.Touch(filename)
		i.logger.WithLanguage(language).Infof("using cached %s", filename)
		return i.cache.Path(filename), nil
	}

	i.logger.WithLanguage(language).Infof("downloading %s", dlURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dlURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: %s returned %s", parsed.Host, resp.Status)
	}

	cached, n, err := i.cache.Store(filename, resp.Body)
	if err != nil {
		return "", err
	}
	i.logger.WithLanguage(language).Infof("downloaded %s (%s)", filename, cache.FormatSize(n))
	return cached, nil
}
