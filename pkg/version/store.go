package version

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// StateFile is the database file name under the data directory.
const StateFile = "state.db"

// sqliteTimeLayout stores timestamps as text so they sort and round-trip
// identically on every platform.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// Store persists installed versions and the per-scope current pointers
// in SQLite.
type Store struct {
	db   *sql.DB
	path string
	cfg  StoreConfig
}

// StoreConfig holds version store configuration. Only Path is required.
type StoreConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore creates a new version store instance.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &Store{path: cfg.Path, cfg: cfg}, nil
}

// Init opens the database, enables WAL mode and foreign keys, and sets a
// busy timeout so concurrent invocations queue instead of failing.
func (s *Store) Init(ctx context.Context) error {
	base := s.path
	if !strings.HasPrefix(base, "file:") {
		base = "file:" + filepath.ToSlash(base)
	}
	dsn := base + "?_txlock=immediate" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	if s.path == ":memory:" {
		// Each pooled connection to :memory: opens a distinct database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *Store) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Save inserts or updates an installed-version record.
func (s *Store) Save(ctx context.Context, rec *VersionRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid version record: %w", err)
	}

	query := `
		INSERT INTO versions (language, version, install_path, scope, installed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(language, version) DO UPDATE SET
			install_path = excluded.install_path,
			scope = excluded.scope,
			installed_at = excluded.installed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.Language,
		rec.Version,
		rec.InstallPath,
		string(rec.Scope),
		rec.InstalledAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save version: %w", err)
	}

	return nil
}

// Get retrieves one installed version. Returns an error wrapping
// ErrNotFound when the version is not recorded.
func (s *Store) Get(ctx context.Context, language, version string) (*VersionRecord, error) {
	query := `
		SELECT language, version, install_path, scope, installed_at
		FROM versions
		WHERE language = ? AND version = ?
	`

	rec, err := scanVersion(s.db.QueryRowContext(ctx, query, language, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, language, version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}

	return rec, nil
}

// List returns the installed versions for a language, or for every
// language when language is empty.
func (s *Store) List(ctx context.Context, language string) ([]*VersionRecord, error) {
	query := `
		SELECT language, version, install_path, scope, installed_at
		FROM versions
		WHERE (? = '' OR language = ?)
		ORDER BY language ASC, installed_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, language, language)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	records := []*VersionRecord{}
	for rows.Next() {
		rec, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	return records, nil
}

// Delete removes an installed-version record. A current pointer at the
// deleted version is removed with it.
func (s *Store) Delete(ctx context.Context, language, version string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM versions WHERE language = ? AND version = ?`,
		language, version,
	)
	if err != nil {
		return fmt.Errorf("failed to delete version: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, language, version)
	}

	return nil
}

// SetCurrent makes an installed version the default for a scope. The
// (language, scope) primary key keeps at most one current version per
// scope.
func (s *Store) SetCurrent(ctx context.Context, language, version string, scope Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if _, err := s.Get(ctx, language, version); err != nil {
		return fmt.Errorf("cannot set current %s: %w", language, err)
	}

	query := `
		INSERT INTO current_versions (language, scope, version, set_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(language, scope) DO UPDATE SET
			version = excluded.version,
			set_at = excluded.set_at
	`

	_, err := s.db.ExecContext(ctx, query,
		language,
		string(scope),
		version,
		time.Now().UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to set current version: %w", err)
	}

	return nil
}

// Current returns the default version for a language and scope. Returns
// an error wrapping ErrNotFound when no default is set.
func (s *Store) Current(ctx context.Context, language string, scope Scope) (*VersionRecord, error) {
	query := `
		SELECT v.language, v.version, v.install_path, v.scope, v.installed_at
		FROM current_versions c
		JOIN versions v ON v.language = c.language AND v.version = c.version
		WHERE c.language = ? AND c.scope = ?
	`

	rec, err := scanVersion(s.db.QueryRowContext(ctx, query, language, string(scope)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no %s %s default", ErrNotFound, language, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}

	return rec, nil
}

// Languages returns the languages with at least one installed version.
func (s *Store) Languages(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT language FROM versions ORDER BY language ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list languages: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan language: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating languages: %w", err)
	}

	return names, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row scanner) (*VersionRecord, error) {
	var rec VersionRecord
	var scope, installedAt string
	if err := row.Scan(&rec.Language, &rec.Version, &rec.InstallPath, &scope, &installedAt); err != nil {
		return nil, err
	}
	rec.Scope = Scope(scope)

	t, err := time.Parse(sqliteTimeLayout, installedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse installed_at: %w", err)
	}
	rec.InstalledAt = t

	return &rec, nil
}
