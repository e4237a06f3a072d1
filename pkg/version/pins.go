package version

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// parentSearchDepth bounds the upward pin-file walk when no VCS root is
// found first.
const parentSearchDepth = 5

var vcsMarkers = []string{".git", ".hg", ".svn", ".bzr"}

// pinInDir looks for the language's pin file in one directory. It returns
// the requirement, the file that provided it, and whether one was found.
// Unreadable or malformed files are treated as absent.
func pinInDir(dir, language string) (string, string, bool) {
	info, ok := languages[language]
	if !ok {
		return "", "", false
	}
	for _, name := range info.pinFiles {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		req := parsePin(name, data)
		if req != "" {
			return req, name, true
		}
	}
	return "", "", false
}

// parsePin extracts the version requirement from pin file content. Most
// pin files hold a bare version string; rust-toolchain.toml and
// global.json are structured.
func parsePin(name string, data []byte) string {
	switch name {
	case "rust-toolchain.toml":
		var doc struct {
			Toolchain struct {
				Channel string `toml:"channel"`
			} `toml:"toolchain"`
		}
		if err := toml.Unmarshal(data, &doc); err != nil {
			return ""
		}
		return strings.TrimSpace(doc.Toolchain.Channel)
	case "global.json":
		var doc struct {
			SDK struct {
				Version string `json:"version"`
			} `json:"sdk"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return ""
		}
		return strings.TrimSpace(doc.SDK.Version)
	default:
		// First non-empty line; .nvmrc and friends may carry a trailing
		// comment or newline.
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				return line
			}
		}
		return ""
	}
}

// parentPin walks upward from the working directory's parent looking for
// a pin file. The walk stops after checking a directory that is a VCS
// root, or after parentSearchDepth levels.
func parentPin(workdir, language string) (string, string, bool) {
	dir := workdir
	for level := 0; level < parentSearchDepth; level++ {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent

		req, file, ok := pinInDir(dir, language)
		if ok {
			return req, file, true
		}
		if isVCSRoot(dir) {
			break
		}
	}
	return "", "", false
}

func isVCSRoot(dir string) bool {
	for _, marker := range vcsMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}
