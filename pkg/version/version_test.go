package version

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLatestMatch(t *testing.T) {
	installed := []*VersionRecord{
		installedRecord("python", "3.11.9"),
		installedRecord("python", "3.12.1"),
		installedRecord("python", "3.12.7"),
		installedRecord("node", "lts/iron"),
	}

	tests := []struct {
		name        string
		requirement string
		want        string
		found       bool
	}{
		{"minor pin picks newest patch", "3.12", "3.12.7", true},
		{"exact version", "3.12.1", "3.12.1", true},
		{"range", ">=3.11 <3.13", "3.12.7", true},
		{"caret", "^3.11", "3.12.7", true},
		{"tilde", "~3.11.0", "3.11.9", true},
		{"non-semver exact match", "lts/iron", "lts/iron", true},
		{"no match", "3.10", "", false},
		{"empty requirement", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := LatestMatch(tt.requirement, installed)
			if ok != tt.found {
				t.Fatalf("expected found=%v, got %v", tt.found, ok)
			}
			if ok && rec.Version != tt.want {
				t.Errorf("expected %s, got %s", tt.want, rec.Version)
			}
		})
	}
}

func TestSortByVersion(t *testing.T) {
	records := []*VersionRecord{
		installedRecord("node", "18.19.0"),
		installedRecord("node", "nightly"),
		installedRecord("node", "20.11.1"),
		installedRecord("node", "20.9.0"),
	}

	SortByVersion(records)

	got := make([]string, len(records))
	for i, rec := range records {
		got[i] = rec.Version
	}
	want := []string{"20.11.1", "20.9.0", "18.19.0", "nightly"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestParsePin(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
		want string
	}{
		{"plain version", ".python-version", "3.11\n", "3.11"},
		{"leading comment", ".nvmrc", "# project default\n18.19.0\n", "18.19.0"},
		{"empty file", ".ruby-version", "\n\n", ""},
		{"rust toolchain toml", "rust-toolchain.toml", "[toolchain]\nchannel = \"1.75.0\"\n", "1.75.0"},
		{"rust toolchain toml malformed", "rust-toolchain.toml", "[toolchain\n", ""},
		{"legacy rust toolchain", "rust-toolchain", "nightly-2026-01-15\n", "nightly-2026-01-15"},
		{"dotnet global json", "global.json", `{"sdk": {"version": "8.0.100"}}`, "8.0.100"},
		{"dotnet global json malformed", "global.json", `{"sdk":`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePin(tt.file, []byte(tt.data))
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

// .nvmrc outranks .node-version when both exist.
func TestPinInDirOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".node-version", "18.19.0")
	writeFile(t, dir, ".nvmrc", "20.11.1")

	req, file, ok := pinInDir(dir, "node")
	if !ok {
		t.Fatal("expected a pin")
	}
	if file != ".nvmrc" || req != "20.11.1" {
		t.Errorf("expected .nvmrc 20.11.1, got %s %s", file, req)
	}
}

func TestIsVCSRoot(t *testing.T) {
	dir := t.TempDir()
	if isVCSRoot(dir) {
		t.Error("plain directory should not be a VCS root")
	}
	if err := os.Mkdir(filepath.Join(dir, ".hg"), 0o755); err != nil {
		t.Fatalf("failed to create marker: %v", err)
	}
	if !isVCSRoot(dir) {
		t.Error("directory with .hg should be a VCS root")
	}
}

func TestRecordValidate(t *testing.T) {
	rec := installedRecord("python", "3.12.7")
	if err := rec.Validate(); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}

	bad := *rec
	bad.Scope = Scope("global")
	if err := bad.Validate(); err == nil {
		t.Error("expected invalid scope to be rejected")
	}

	bad = *rec
	bad.InstallPath = ""
	if err := bad.Validate(); err == nil {
		t.Error("expected missing install path to be rejected")
	}
}

func TestResolutionDescribe(t *testing.T) {
	res := &Resolution{
		Language:    "python",
		Version:     "3.12.7",
		Source:      SourcePinFile,
		Requirement: "3.12",
	}
	got := res.Describe()
	if got != `python 3.12.7 (pin file "3.12")` {
		t.Errorf("unexpected description: %s", got)
	}

	res = &Resolution{Language: "node", Version: "system", Source: SourceSystemBinary}
	if got := res.Describe(); got != "node system (system binary)" {
		t.Errorf("unexpected description: %s", got)
	}
}
