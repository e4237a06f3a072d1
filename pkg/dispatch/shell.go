package dispatch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pakmux/pakmux/pkg/telemetry"
)

// LinkStatus describes what happened to one interposition link.
type LinkStatus string

const (
	// LinkCreated means the symlink was created.
	LinkCreated LinkStatus = "created"

	// LinkExists means the symlink already pointed at pakmux.
	LinkExists LinkStatus = "exists"

	// LinkSkipped means a foreign file occupies the name. It is never
	// touched.
	LinkSkipped LinkStatus = "skipped"

	// LinkRemoved means the symlink was removed.
	LinkRemoved LinkStatus = "removed"

	// LinkAbsent means there was nothing to remove.
	LinkAbsent LinkStatus = "absent"
)

// LinkResult reports the outcome for one command name.
type LinkResult struct {
	Command string
	Path    string
	Status  LinkStatus
}

// Linker manages the interposition symlinks in a bin directory, each
// pointing at the pakmux executable.
type Linker struct {
	binDir string
	target string
	logger *telemetry.Logger
}

// NewLinker creates a linker writing links in binDir that point at
// target, the absolute path of the pakmux executable. logger may be
// nil.
func NewLinker(binDir, target string, logger *telemetry.Logger) *Linker {
	if logger == nil {
		logger = telemetry.NewNopTelemetry().Logger
	}
	return &Linker{
		binDir: binDir,
		target: target,
		logger: logger.NewComponentLogger("dispatch"),
	}
}

// Link creates symlinks for every command of the given languages, or
// of all known languages when none are given. Foreign files are
// reported and left alone.
func (l *Linker) Link(languages ...string) ([]LinkResult, error) {
	commands, err := commandSet(languages)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.binDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bin directory: %w", err)
	}

	results := make([]LinkResult, 0, len(commands))
	for _, cmd := range commands {
		path := filepath.Join(l.binDir, cmd)
		result := LinkResult{Command: cmd, Path: path}

		switch dest, err := os.Readlink(path); {
		case err == nil && dest == l.target:
			result.Status = LinkExists
		case err == nil || fileExists(path):
			// A symlink elsewhere or a regular file. Not ours to replace.
			result.Status = LinkSkipped
			l.logger.WithField("path", path).Warn("name is taken, not linking")
		default:
			if err := os.Symlink(l.target, path); err != nil {
				return results, fmt.Errorf("failed to link %s: %w", path, err)
			}
			result.Status = LinkCreated
		}
		results = append(results, result)
	}
	return results, nil
}

// Unlink removes the symlinks for the given languages, or all known
// languages when none are given. Only links pointing at pakmux are
// removed.
func (l *Linker) Unlink(languages ...string) ([]LinkResult, error) {
	commands, err := commandSet(languages)
	if err != nil {
		return nil, err
	}

	results := make([]LinkResult, 0, len(commands))
	for _, cmd := range commands {
		path := filepath.Join(l.binDir, cmd)
		result := LinkResult{Command: cmd, Path: path}

		dest, err := os.Readlink(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			result.Status = LinkAbsent
		case err != nil || dest != l.target:
			result.Status = LinkSkipped
		default:
			if err := os.Remove(path); err != nil {
				return results, fmt.Errorf("failed to unlink %s: %w", path, err)
			}
			result.Status = LinkRemoved
		}
		results = append(results, result)
	}
	return results, nil
}

// commandSet expands language names to their commands, sorted for
// stable output.
func commandSet(languages []string) ([]string, error) {
	if len(languages) == 0 {
		for lang := range languageCommands {
			languages = append(languages, lang)
		}
	}
	var commands []string
	for _, lang := range languages {
		list, ok := languageCommands[lang]
		if !ok {
			return nil, fmt.Errorf("unknown language: %s", lang)
		}
		commands = append(commands, list...)
	}
	sort.Strings(commands)
	return commands, nil
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
