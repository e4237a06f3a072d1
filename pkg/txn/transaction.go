package txn

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a transaction.
type Status string

const (
	// StatusPending indicates the transaction is in progress. A Pending
	// record found on startup is evidence of a crash.
	StatusPending Status = "pending"

	// StatusCommitted indicates the transaction completed successfully.
	StatusCommitted Status = "committed"

	// StatusRolledBack indicates all recorded effects were inverted.
	StatusRolledBack Status = "rolled_back"

	// StatusFailed indicates the transaction failed and at least one
	// effect could not be inverted.
	StatusFailed Status = "failed"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCommitted, StatusRolledBack, StatusFailed:
		return true
	default:
		return false
	}
}

// Validate checks if the status is a valid transaction status.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusCommitted, StatusRolledBack, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid transaction status: %s", s)
	}
}

// EffectType identifies the kind of system change an Effect records.
type EffectType string

const (
	// EffectPackageInstalled records a package installed by a backend.
	EffectPackageInstalled EffectType = "package_installed"

	// EffectPackageRemoved records a package removed by a backend.
	EffectPackageRemoved EffectType = "package_removed"

	// EffectFileCreated records a file or directory tree created by
	// the operation. Inversion removes the whole path.
	EffectFileCreated EffectType = "file_created"

	// EffectFileModified records a file modified after a backup was taken.
	EffectFileModified EffectType = "file_modified"

	// EffectRepositoryAdded records a package repository added to a backend.
	EffectRepositoryAdded EffectType = "repository_added"
)

// Effect is one recorded system change. Effects are appended to the
// active transaction as they happen and inverted in reverse order during
// rollback.
type Effect struct {
	// Type discriminates which fields below are meaningful.
	Type EffectType `toml:"type" json:"type"`

	// Backend is the backend that performed the change, for package and
	// repository effects.
	Backend string `toml:"backend,omitempty" json:"backend,omitempty"`

	// Package is the package name for package effects.
	Package string `toml:"package,omitempty" json:"package,omitempty"`

	// Version is the package version that was installed or removed.
	Version string `toml:"version,omitempty" json:"version,omitempty"`

	// RestoreSource describes where a removed package can be reinstalled
	// from during rollback.
	RestoreSource string `toml:"restore_source,omitempty" json:"restore_source,omitempty"`

	// Path is the affected path for file effects.
	Path string `toml:"path,omitempty" json:"path,omitempty"`

	// BackupPath is where the pre-modification copy lives, for
	// file_modified effects.
	BackupPath string `toml:"backup_path,omitempty" json:"backup_path,omitempty"`

	// Checksum is the sha256 of the backup copy, for integrity checks
	// before restore.
	Checksum string `toml:"checksum,omitempty" json:"checksum,omitempty"`

	// RepoID identifies the repository for repository_added effects.
	RepoID string `toml:"repo_id,omitempty" json:"repo_id,omitempty"`

	// RecordedAt is when the effect was appended to the journal.
	RecordedAt time.Time `toml:"recorded_at" json:"recorded_at"`
}

// NewPackageInstalled builds a package_installed effect.
func NewPackageInstalled(backend, pkg, version string) Effect {
	return Effect{
		Type:    EffectPackageInstalled,
		Backend: backend,
		Package: pkg,
		Version: version,
	}
}

// NewPackageRemoved builds a package_removed effect.
func NewPackageRemoved(backend, pkg, version, restoreSource string) Effect {
	return Effect{
		Type:          EffectPackageRemoved,
		Backend:       backend,
		Package:       pkg,
		Version:       version,
		RestoreSource: restoreSource,
	}
}

// NewFileCreated builds a file_created effect.
func NewFileCreated(path string) Effect {
	return Effect{
		Type: EffectFileCreated,
		Path: path,
	}
}

// NewRepositoryAdded builds a repository_added effect.
func NewRepositoryAdded(backend, repoID string) Effect {
	return Effect{
		Type:    EffectRepositoryAdded,
		Backend: backend,
		RepoID:  repoID,
	}
}

// Validate checks that the effect carries the fields its type requires.
func (e *Effect) Validate() error {
	switch e.Type {
	case EffectPackageInstalled, EffectPackageRemoved:
		if e.Backend == "" || e.Package == "" {
			return fmt.Errorf("%s effect requires backend and package", e.Type)
		}
	case EffectFileCreated:
		if e.Path == "" {
			return fmt.Errorf("file_created effect requires path")
		}
	case EffectFileModified:
		if e.Path == "" || e.BackupPath == "" {
			return fmt.Errorf("file_modified effect requires path and backup_path")
		}
	case EffectRepositoryAdded:
		if e.Backend == "" || e.RepoID == "" {
			return fmt.Errorf("repository_added effect requires backend and repo_id")
		}
	default:
		return fmt.Errorf("invalid effect type: %s", e.Type)
	}
	return nil
}

// String renders the effect for logs and rollback reports.
func (e *Effect) String() string {
	switch e.Type {
	case EffectPackageInstalled, EffectPackageRemoved:
		if e.Version != "" {
			return fmt.Sprintf("%s %s %s (%s)", e.Type, e.Package, e.Version, e.Backend)
		}
		return fmt.Sprintf("%s %s (%s)", e.Type, e.Package, e.Backend)
	case EffectFileCreated, EffectFileModified:
		return fmt.Sprintf("%s %s", e.Type, e.Path)
	case EffectRepositoryAdded:
		return fmt.Sprintf("%s %s (%s)", e.Type, e.RepoID, e.Backend)
	default:
		return string(e.Type)
	}
}

// Transaction is one journaled operation. The record on disk is the
// source of truth; the in-memory value mirrors it.
type Transaction struct {
	// ID is the unique, monotonically-ordered transaction identifier.
	ID string `toml:"id" json:"id"`

	// Operation is the human-readable description of the operation,
	// e.g. "install ripgrep jq".
	Operation string `toml:"operation" json:"operation"`

	// Status is the transaction lifecycle state.
	Status Status `toml:"status" json:"status"`

	// StartedAt is when the transaction began.
	StartedAt time.Time `toml:"started_at" json:"started_at"`

	// FinishedAt is when the transaction reached a terminal status.
	FinishedAt *time.Time `toml:"finished_at,omitempty" json:"finished_at,omitempty"`

	// Effects are the recorded system changes, in execution order.
	Effects []Effect `toml:"effects,omitempty" json:"effects,omitempty"`
}

// newTransactionID builds an identifier that sorts chronologically:
// a fixed-width UTC timestamp plus a short random suffix.
func newTransactionID(now time.Time) string {
	return now.UTC().Format("20060102T150405.000000000") + "-" + uuid.NewString()[:8]
}
