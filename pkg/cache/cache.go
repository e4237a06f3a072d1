// Package cache manages the download cache under the data directory.
// Archives are stored by file name, reused across installs, and
// cleaned by age.
package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pakmux/pakmux/pkg/telemetry"
)

// Cache is a flat directory of downloaded files.
type Cache struct {
	dir    string
	logger *telemetry.Logger
}

// New creates a cache rooted at dir. The directory is created lazily
// on first store. logger may be nil.
func New(dir string, logger *telemetry.Logger) *Cache {
	if logger == nil {
		logger = telemetry.NewNopTelemetry().Logger
	}
	return &Cache{
		dir:    dir,
		logger: logger.NewComponentLogger("cache"),
	}
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns where a named file lives in the cache, whether or not
// it exists yet.
func (c *Cache) Path(name string) string {
	return filepath.Join(c.dir, filepath.Base(name))
}

// Has reports whether a named file is cached.
func (c *Cache) Has(name string) bool {
	info, err := os.Stat(c.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// Store writes r into the cache under name and returns the final path
// and byte count. The write goes through a temp file and a rename, so
// a cached file is never observed half-written.
func (c *Cache) Store(name string, r io.Reader) (string, int64, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, ".download-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to write download: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to sync download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to close download: %w", err)
	}

	path := c.Path(name)
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to move download into cache: %w", err)
	}
	c.logger.Debugf("cached %s (%s)", filepath.Base(path), FormatSize(n))
	return path, n, nil
}

// Touch refreshes a cached file's age so reuse postpones cleaning.
func (c *Cache) Touch(name string) {
	now := time.Now()
	if err := os.Chtimes(c.Path(name), now, now); err != nil && !os.IsNotExist(err) {
		c.logger.Debugf("failed to touch %s: %v", name, err)
	}
}

// Entry describes one cached file.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Entries lists cached files sorted by name. A missing cache directory
// is an empty cache.
func (c *Cache) Entries() ([]Entry, error) {
	dirents, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var entries []Entry
	for _, d := range dirents {
		if !d.Type().IsRegular() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:    d.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Report summarizes cache usage.
type Report struct {
	Entries    int
	TotalBytes int64
}

func (r *Report) String() string {
	return fmt.Sprintf("%d files, %s", r.Entries, FormatSize(r.TotalBytes))
}

// Report sums up the cache contents.
func (c *Cache) Report() (*Report, error) {
	entries, err := c.Entries()
	if err != nil {
		return nil, err
	}
	report := &Report{Entries: len(entries)}
	for _, e := range entries {
		report.TotalBytes += e.Size
	}
	return report, nil
}

// CleanResult reports what a clean removed.
type CleanResult struct {
	Removed int
	Freed   int64
}

// Clean removes cached files whose age exceeds olderThan. Zero cleans
// everything.
func (c *Cache) Clean(olderThan time.Duration) (*CleanResult, error) {
	entries, err := c.Entries()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-olderThan)
	result := &CleanResult{}
	for _, e := range entries {
		if e.ModTime.After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name)); err != nil && !os.IsNotExist(err) {
			return result, fmt.Errorf("failed to remove %s: %w", e.Name, err)
		}
		result.Removed++
		result.Freed += e.Size
	}
	if result.Removed > 0 {
		c.logger.Infof("cleaned %d cached files (%s)", result.Removed, FormatSize(result.Freed))
	}
	return result, nil
}

// FormatSize renders a byte count for humans.
func FormatSize(bytes int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(bytes)
	idx := 0
	for size >= 1024 && idx < len(units)-1 {
		size /= 1024
		idx++
	}
	if idx == 0 {
		return fmt.Sprintf("%d %s", bytes, units[idx])
	}
	return fmt.Sprintf("%.1f %s", size, units[idx])
}
