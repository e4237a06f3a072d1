package version

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// fakeSource is an in-memory StateSource.
type fakeSource struct {
	records  map[string][]*VersionRecord
	currents map[string]*VersionRecord // keyed language/scope
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		records:  map[string][]*VersionRecord{},
		currents: map[string]*VersionRecord{},
	}
}

func (f *fakeSource) add(rec *VersionRecord) {
	f.records[rec.Language] = append(f.records[rec.Language], rec)
}

func (f *fakeSource) setCurrent(rec *VersionRecord, scope Scope) {
	f.currents[rec.Language+"/"+string(scope)] = rec
}

func (f *fakeSource) List(_ context.Context, language string) ([]*VersionRecord, error) {
	return f.records[language], nil
}

func (f *fakeSource) Current(_ context.Context, language string, scope Scope) (*VersionRecord, error) {
	rec, ok := f.currents[language+"/"+string(scope)]
	if !ok {
		return nil, fmt.Errorf("%w: no %s %s default", ErrNotFound, language, scope)
	}
	return rec, nil
}

func installedRecord(language, ver string) *VersionRecord {
	return &VersionRecord{
		Language:    language,
		Version:     ver,
		InstallPath: filepath.Join("/data/languages", language, ver),
		Scope:       ScopeUser,
		InstalledAt: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

// testResolver returns a resolver whose PATH lookup always misses.
func testResolver(t *testing.T, source StateSource) *Resolver {
	t.Helper()
	r := NewResolver(source, nil)
	r.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	return r
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestResolveOverrideWins(t *testing.T) {
	source := newFakeSource()
	source.add(installedRecord("python", "3.11.4"))
	source.add(installedRecord("python", "3.12.7"))
	r := testResolver(t, source)

	dir := t.TempDir()
	writeFile(t, dir, ".python-version", "3.12\n")

	res, err := r.Resolve(context.Background(), ResolutionContext{
		Language:   "python",
		WorkingDir: dir,
		Override:   "3.11",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Version != "3.11.4" {
		t.Errorf("expected 3.11.4, got %s", res.Version)
	}
	if res.Source != SourceOverride {
		t.Errorf("expected source %s, got %s", SourceOverride, res.Source)
	}
}

func TestResolveOverrideNotInstalled(t *testing.T) {
	source := newFakeSource()
	source.add(installedRecord("python", "3.12.7"))
	r := testResolver(t, source)

	_, err := r.Resolve(context.Background(), ResolutionContext{
		Language:   "python",
		WorkingDir: t.TempDir(),
		Override:   "3.10",
	})
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
	if !strings.Contains(err.Error(), "3.10") {
		t.Errorf("error should name the requested version: %v", err)
	}
}

func TestResolveEnvOverride(t *testing.T) {
	source := newFakeSource()
	source.add(installedRecord("node", "18.19.0"))
	source.add(installedRecord("node", "20.11.1"))
	r := testResolver(t, source)

	res, err := r.Resolve(context.Background(), ResolutionContext{
		Language:   "node",
		WorkingDir: t.TempDir(),
		Environ:    map[string]string{"PAKMUX_NODE_VERSION": "20"},
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Version != "20.11.1" {
		t.Errorf("expected 20.11.1, got %s", res.Version)
	}
	if res.Source != SourceOverride {
		t.Errorf("expected source %s, got %s", SourceOverride, res.Source)
	}
}

// A pin file in the working directory outranks the user default.
func TestResolvePinBeatsUserDefault(t *testing.T) {
	source := newFakeSource()
	source.add(installedRecord("python", "3.9.2"))
	source.add(installedRecord("python", "3.11.4"))
	source.setCurrent(source.records["python"][0], ScopeUser)
	r := testResolver(t, source)

	dir := t.TempDir()
	writeFile(t, dir, ".python-version", "3.11\n")

	res, err := r.Resolve(context.Background(), ResolutionContext{
		Language:   "python",
		WorkingDir: dir,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Version != "3.11.4" {
		t.Errorf("pin file should beat user default: got %s", res.Version)
	}
	if res.Source != SourcePinFile {
		t.Errorf("expected source %s, got %s", SourcePinFile, res.Source)
	}
	if res.Requirement != "3.11" {
		t.Errorf("expected requirement 3.11, got %s", res.Requirement)
	}
}

func TestResolvePinPicksLatestMatch(t *testing.T) {
	source := newFakeSource()
	source.add(installedRecord("python", "3.12.1"))
	source.add(installedRecord("python", "3.12.7"))
	source.add(installedRecord("python", "3.11.9"))
	r := testResolver(t, source)

	dir := t.TempDir()
	writeFile(t, dir, ".python-version", "3.12")

	res, err := r.Resolve(context.Background(), ResolutionContext{
		Language:   "python",
		WorkingDir: dir,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Version != "3.12.7" {
		t.Errorf("expected newest matching 3.12.7, got %s", res.Version)
	}
}

// A pin naming a version nothing satisfies is skipped, not fatal.
func TestResolvePinUnsatisfiedFallsThrough(t *testing.T) {
	source := newFakeSource()
	source.add(installedRecord("python", "3.9.2"))
	source.setCurrent(source.records["python"][0], ScopeUser)
	r := testResolver(t, source)

	dir := t.TempDir()
	writeFile(t, dir, ".python-version", "3.10")

	res, err := r.Resolve(context.Background(), ResolutionContext{
		Language:   "python",
		WorkingDir: dir,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Version != "3.9.2" {
		t.Errorf("expected fallthrough to user default, got %s", res.Version)
	}
	if res.Source != SourceUserDefault {
		t.Errorf("expected source %s, got %s", SourceUserDefault, res.Source)
	}
}

func TestResolveParentPinStopsAtVCSRoot(t *testing.T) {
	source := newFakeSource()
	source.add(installedRecord("python", "3.8.18"))
	source.add(installedRecord("python", "3.11.4"))
	r := testResolver(t, source)

	// tmp/.python-version sits above the repository root and must stay
	// invisible from inside it.
	tmp := t.TempDir()
	writeFile(t, tmp, ".python-version", "3.8")
	repo := filepath.Join(tmp, "repo")
	work := filepath.Join(repo, "src", "app")
	if err := os.MkdirAll(filepath.Join(repo, ".git"), 0o755); err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatalf("failed to create workdir: %v", err)
	}
	writeFile(t, repo, ".python-version", "3.11")

	res, err := r.Resolve(context.Background(), ResolutionContext{
		Language:   "python",
		WorkingDir: work,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Version != "3.11.4" {
		t.Errorf("expected repo root pin 3.11.4, got %s", res.Version)
	}
	if res.Source != SourceParentPin {
		t.Errorf("expected source %s, got %s", SourceParentPin, res.Source)
	}
}

func TestResolveParentPinDepthBounded(t *testing.T) {
	source := newFakeSource()
	source.add(installedRecord("python", "3.8.18"))
	r := testResolver(t, source)

	// The pin sits six parents up, one past the walk limit.
	tmp := t.TempDir()
	writeFile(t, tmp, ".python-version", "3.8")
	work := filepath.Join(tmp, "a", "b", "c", "d", "e", "f")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatalf("failed to create workdir: %v", err)
	}

	_, err := r.Resolve(context.Background(), ResolutionContext{
		Language:   "python",
		WorkingDir: work,
	})
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
}

func TestResolveManifestRequirement(t *testing.T) {
	tests := []struct {
		name     string
		language string
		manifest string
		content  string
		versions []string
		want     string
	}{
		{
			name:     "package.json engines",
			language: "node",
			manifest: "package.json",
			content:  `{"name": "app", "engines": {"node": "^20.10"}}`,
			versions: []string{"18.19.0", "20.11.1"},
			want:     "20.11.1",
		},
		{
			name:     "pyproject requires-python",
			language: "python",
			manifest: "pyproject.toml",
			content:  "[project]\nname = \"app\"\nrequires-python = \">=3.11\"\n",
			versions: []string{"3.9.2", "3.11.4", "3.12.7"},
			want:     "3.12.7",
		},
		{
			name:     "go.mod directive",
			language: "go",
			manifest: "go.mod",
			content:  "module example.com/app\n\ngo 1.22\n",
			versions: []string{"1.21.5", "1.22.3"},
			want:     "1.22.3",
		},
		{
			name:     "Cargo.toml rust-version",
			language: "rust",
			manifest: "Cargo.toml",
			content:  "[package]\nname = \"app\"\nrust-version = \"1.75\"\n",
			versions: []string{"1.75.0"},
			want:     "1.75.0",
		},
		{
			name:     "composer.json require.php",
			language: "php",
			manifest: "composer.json",
			content:  `{"require": {"php": ">=8.2"}}`,
			versions: []string{"8.1.27", "8.3.2"},
			want:     "8.3.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newFakeSource()
			for _, v := range tt.versions {
				source.add(installedRecord(tt.language, v))
			}
			r := testResolver(t, source)

			dir := t.TempDir()
			writeFile(t, dir, tt.manifest, tt.content)

			res, err := r.Resolve(context.Background(), ResolutionContext{
				Language:   tt.language,
				WorkingDir: dir,
			})
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}
			if res.Version != tt.want {
				t.Errorf("expected %s, got %s", tt.want, res.Version)
			}
			if res.Source != SourceManifest {
				t.Errorf("expected source %s, got %s", SourceManifest, res.Source)
			}
		})
	}
}

func TestResolveUserDefaultBeforeSystemDefault(t *testing.T) {
	source := newFakeSource()
	user := installedRecord("ruby", "3.3.0")
	system := installedRecord("ruby", "3.2.2")
	source.add(user)
	source.add(system)
	source.setCurrent(user, ScopeUser)
	source.setCurrent(system, ScopeSystem)
	r := testResolver(t, source)

	res, err := r.Resolve(context.Background(), ResolutionContext{
		Language:   "ruby",
		WorkingDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Version != "3.3.0" || res.Source != SourceUserDefault {
		t.Errorf("expected user default 3.3.0, got %s (%s)", res.Version, res.Source)
	}
}

func TestResolveSystemDefault(t *testing.T) {
	source := newFakeSource()
	system := installedRecord("ruby", "3.2.2")
	source.add(system)
	source.setCurrent(system, ScopeSystem)
	r := testResolver(t, source)

	res, err := r.Resolve(context.Background(), ResolutionContext{
		Language:   "ruby",
		WorkingDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Version != "3.2.2" || res.Source != SourceSystemDefault {
		t.Errorf("expected system default 3.2.2, got %s (%s)", res.Version, res.Source)
	}
}

func TestResolveSystemBinary(t *testing.T) {
	r := testResolver(t, newFakeSource())
	r.lookPath = func(file string) (string, error) {
		if file != "python3" {
			t.Errorf("expected lookup of python3, got %s", file)
		}
		return "/usr/bin/python3", nil
	}

	res, err := r.Resolve(context.Background(), ResolutionContext{
		Language:   "python",
		WorkingDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Version != "system" {
		t.Errorf("expected version system, got %s", res.Version)
	}
	if res.Source != SourceSystemBinary {
		t.Errorf("expected source %s, got %s", SourceSystemBinary, res.Source)
	}
	if res.Path != "/usr/bin/python3" {
		t.Errorf("expected executable path, got %s", res.Path)
	}
}

func TestResolveInteractivePrompt(t *testing.T) {
	r := testResolver(t, newFakeSource())

	res, err := r.Resolve(context.Background(), ResolutionContext{
		Language:    "python",
		WorkingDir:  t.TempDir(),
		Interactive: true,
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !res.Interactive {
		t.Error("expected an interactive resolution")
	}
	if res.Version != "" {
		t.Errorf("interactive resolution should carry no version, got %s", res.Version)
	}
}

func TestResolveUnresolvedNamesConsulted(t *testing.T) {
	r := testResolver(t, newFakeSource())

	_, err := r.Resolve(context.Background(), ResolutionContext{
		Language:   "python",
		WorkingDir: t.TempDir(),
	})
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}

	var unresolved *UnresolvedError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected *UnresolvedError, got %T", err)
	}
	for _, want := range []string{".python-version", "parent directories", "pyproject.toml", "user default", "system default", "PATH"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q: %v", want, err)
		}
	}
}

// Identical contexts over identical store contents resolve identically.
func TestResolveDeterministic(t *testing.T) {
	source := newFakeSource()
	source.add(installedRecord("python", "3.11.4"))
	source.add(installedRecord("python", "3.12.7"))
	r := testResolver(t, source)

	dir := t.TempDir()
	writeFile(t, dir, ".python-version", "3.11")
	rctx := ResolutionContext{Language: "python", WorkingDir: dir}

	first, err := r.Resolve(context.Background(), rctx)
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	second, err := r.Resolve(context.Background(), rctx)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("resolutions differ: %+v vs %+v", first, second)
	}
}

func TestResolveUnknownLanguage(t *testing.T) {
	r := testResolver(t, newFakeSource())

	_, err := r.Resolve(context.Background(), ResolutionContext{
		Language:   "cobol",
		WorkingDir: t.TempDir(),
	})
	if err == nil || !strings.Contains(err.Error(), "unknown language") {
		t.Fatalf("expected unknown language error, got %v", err)
	}
}
