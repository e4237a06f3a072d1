package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "cache"), nil)
}

func store(t *testing.T, c *Cache, name, content string) {
	t.Helper()
	path, n, err := c.Store(name, strings.NewReader(content))
	if err != nil {
		t.Fatalf("Store(%s) error = %v", name, err)
	}
	if n != int64(len(content)) {
		t.Fatalf("Store(%s) wrote %d bytes, want %d", name, n, len(content))
	}
	if path != c.Path(name) {
		t.Fatalf("Store(%s) path = %q, want %q", name, path, c.Path(name))
	}
}

func age(t *testing.T, c *Cache, name string, by time.Duration) {
	t.Helper()
	old := time.Now().Add(-by)
	if err := os.Chtimes(c.Path(name), old, old); err != nil {
		t.Fatalf("Chtimes(%s) error = %v", name, err)
	}
}

func TestStoreAndReuse(t *testing.T) {
	c := testCache(t)
	store(t, c, "node-v20.11.1-linux-x64.tar.xz", "archive-bytes")

	if !c.Has("node-v20.11.1-linux-x64.tar.xz") {
		t.Fatal("stored file not found")
	}
	data, err := os.ReadFile(c.Path("node-v20.11.1-linux-x64.tar.xz"))
	if err != nil || string(data) != "archive-bytes" {
		t.Fatalf("cached content = %q, %v", data, err)
	}
	if c.Has("go1.22.3.linux-amd64.tar.gz") {
		t.Fatal("Has() reported a file that was never stored")
	}
}

func TestStoreOverwrites(t *testing.T) {
	c := testCache(t)
	store(t, c, "dist.tar.gz", "first")
	store(t, c, "dist.tar.gz", "second")

	data, _ := os.ReadFile(c.Path("dist.tar.gz"))
	if string(data) != "second" {
		t.Fatalf("content = %q, want second", data)
	}
	entries, err := c.Entries()
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %v, %v", entries, err)
	}
}

func TestStoreIgnoresPathComponents(t *testing.T) {
	c := testCache(t)
	store(t, c, "../outside.tar.gz", "x")

	if !c.Has("outside.tar.gz") {
		t.Fatal("base name not used as the cache key")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(c.Dir()), "outside.tar.gz")); !os.IsNotExist(err) {
		t.Fatal("file escaped the cache directory")
	}
}

func TestReportSumsEntries(t *testing.T) {
	c := testCache(t)
	store(t, c, "a.tar.gz", "12345")
	store(t, c, "b.tar.xz", "1234567")

	report, err := c.Report()
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if report.Entries != 2 || report.TotalBytes != 12 {
		t.Fatalf("report = %+v", report)
	}
	if got := report.String(); got != "2 files, 12 B" {
		t.Fatalf("String() = %q", got)
	}
}

func TestReportOnMissingDirectory(t *testing.T) {
	c := testCache(t)
	report, err := c.Report()
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if report.Entries != 0 || report.TotalBytes != 0 {
		t.Fatalf("report = %+v, want empty", report)
	}
}

func TestCleanRemovesOldFilesOnly(t *testing.T) {
	c := testCache(t)
	store(t, c, "old.tar.gz", "stale-bytes")
	store(t, c, "fresh.tar.gz", "fresh")
	age(t, c, "old.tar.gz", 40*24*time.Hour)

	result, err := c.Clean(30 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if result.Removed != 1 || result.Freed != int64(len("stale-bytes")) {
		t.Fatalf("result = %+v", result)
	}
	if c.Has("old.tar.gz") {
		t.Fatal("old file survived the clean")
	}
	if !c.Has("fresh.tar.gz") {
		t.Fatal("fresh file was removed")
	}
}

func TestCleanEverything(t *testing.T) {
	c := testCache(t)
	store(t, c, "a.tar.gz", "x")
	store(t, c, "b.tar.gz", "y")

	result, err := c.Clean(0)
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if result.Removed != 2 {
		t.Fatalf("removed = %d, want 2", result.Removed)
	}
	entries, _ := c.Entries()
	if len(entries) != 0 {
		t.Fatalf("entries after full clean = %v", entries)
	}
}

func TestTouchPostponesCleaning(t *testing.T) {
	c := testCache(t)
	store(t, c, "reused.tar.xz", "x")
	age(t, c, "reused.tar.xz", 40*24*time.Hour)

	c.Touch("reused.tar.xz")

	result, err := c.Clean(30 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if result.Removed != 0 || !c.Has("reused.tar.xz") {
		t.Fatal("touched file was cleaned")
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}
