package version

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a migrated store backed by a temp file.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(StoreConfig{
		Path: filepath.Join(t.TempDir(), StateFile),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewStore(StoreConfig{
		Path: filepath.Join(t.TempDir(), StateFile),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreRequiresPath(t *testing.T) {
	if _, err := NewStore(StoreConfig{}); err == nil {
		t.Fatal("expected missing path to be rejected")
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"versions", "current_versions"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestVersionCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := &VersionRecord{
		Language:    "python",
		Version:     "3.12.7",
		InstallPath: "/data/languages/python/3.12.7",
		Scope:       ScopeUser,
		InstalledAt: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
	}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("failed to save version: %v", err)
	}

	got, err := store.Get(ctx, "python", "3.12.7")
	if err != nil {
		t.Fatalf("failed to get version: %v", err)
	}
	if got.InstallPath != rec.InstallPath {
		t.Errorf("expected install path %s, got %s", rec.InstallPath, got.InstallPath)
	}
	if got.Scope != ScopeUser {
		t.Errorf("expected scope %s, got %s", ScopeUser, got.Scope)
	}
	if !got.InstalledAt.Equal(rec.InstalledAt) {
		t.Errorf("expected installed_at %v, got %v", rec.InstalledAt, got.InstalledAt)
	}

	// Saving the same version again updates in place.
	rec.InstallPath = "/data/languages/python/3.12.7-rebuilt"
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("failed to re-save version: %v", err)
	}
	got, err = store.Get(ctx, "python", "3.12.7")
	if err != nil {
		t.Fatalf("failed to get version after update: %v", err)
	}
	if got.InstallPath != rec.InstallPath {
		t.Errorf("expected updated install path, got %s", got.InstallPath)
	}

	if err := store.Delete(ctx, "python", "3.12.7"); err != nil {
		t.Fatalf("failed to delete version: %v", err)
	}
	if _, err := store.Get(ctx, "python", "3.12.7"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "python", "3.12.7"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestSaveRejectsInvalidRecord(t *testing.T) {
	store := setupTestStore(t)

	err := store.Save(context.Background(), &VersionRecord{Language: "python"})
	if err == nil {
		t.Fatal("expected invalid record to be rejected")
	}
}

func TestListFiltersByLanguage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, rec := range []*VersionRecord{
		installedRecord("python", "3.11.4"),
		installedRecord("python", "3.12.7"),
		installedRecord("node", "20.11.1"),
	} {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("failed to save %s %s: %v", rec.Language, rec.Version, err)
		}
	}

	pythons, err := store.List(ctx, "python")
	if err != nil {
		t.Fatalf("failed to list python versions: %v", err)
	}
	if len(pythons) != 2 {
		t.Errorf("expected 2 python versions, got %d", len(pythons))
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("failed to list all versions: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 versions in total, got %d", len(all))
	}

	languages, err := store.Languages(ctx)
	if err != nil {
		t.Fatalf("failed to list languages: %v", err)
	}
	want := []string{"node", "python"}
	if len(languages) != 2 || languages[0] != want[0] || languages[1] != want[1] {
		t.Errorf("expected languages %v, got %v", want, languages)
	}
}

func TestSetCurrentAndCurrent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	older := installedRecord("python", "3.11.4")
	newer := installedRecord("python", "3.12.7")
	for _, rec := range []*VersionRecord{older, newer} {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("failed to save: %v", err)
		}
	}

	if err := store.SetCurrent(ctx, "python", "3.11.4", ScopeUser); err != nil {
		t.Fatalf("failed to set current: %v", err)
	}
	cur, err := store.Current(ctx, "python", ScopeUser)
	if err != nil {
		t.Fatalf("failed to get current: %v", err)
	}
	if cur.Version != "3.11.4" {
		t.Errorf("expected current 3.11.4, got %s", cur.Version)
	}

	// Switching replaces the pointer; the primary key allows only one
	// current version per language and scope.
	if err := store.SetCurrent(ctx, "python", "3.12.7", ScopeUser); err != nil {
		t.Fatalf("failed to switch current: %v", err)
	}
	cur, err = store.Current(ctx, "python", ScopeUser)
	if err != nil {
		t.Fatalf("failed to get current after switch: %v", err)
	}
	if cur.Version != "3.12.7" {
		t.Errorf("expected current 3.12.7, got %s", cur.Version)
	}

	// The system scope is independent and still unset.
	if _, err := store.Current(ctx, "python", ScopeSystem); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for system scope, got %v", err)
	}
}

func TestSetCurrentUnknownVersion(t *testing.T) {
	store := setupTestStore(t)

	err := store.SetCurrent(context.Background(), "python", "3.10.0", ScopeUser)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetCurrentRejectsInvalidScope(t *testing.T) {
	store := setupTestStore(t)

	err := store.SetCurrent(context.Background(), "python", "3.12.7", Scope("global"))
	if err == nil {
		t.Fatal("expected invalid scope to be rejected")
	}
}

// Deleting a version removes a current pointer that referenced it.
func TestDeleteClearsCurrent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := installedRecord("node", "20.11.1")
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := store.SetCurrent(ctx, "node", "20.11.1", ScopeUser); err != nil {
		t.Fatalf("failed to set current: %v", err)
	}

	if err := store.Delete(ctx, "node", "20.11.1"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if _, err := store.Current(ctx, "node", ScopeUser); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected current pointer to be gone, got %v", err)
	}
}

// The resolver and the real store agree end to end.
func TestResolverWithStore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := installedRecord("python", "3.12.7")
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := store.SetCurrent(ctx, "python", "3.12.7", ScopeUser); err != nil {
		t.Fatalf("failed to set current: %v", err)
	}

	r := testResolver(t, store)
	res, err := r.Resolve(ctx, ResolutionContext{
		Language:   "python",
		WorkingDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Version != "3.12.7" || res.Source != SourceUserDefault {
		t.Errorf("expected user default 3.12.7, got %s (%s)", res.Version, res.Source)
	}
}
