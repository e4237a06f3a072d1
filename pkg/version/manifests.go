package version

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// manifestRequirement extracts a version requirement from the project
// manifest in the working directory, when the language defines one:
// package.json engines.node, pyproject.toml requires-python, go.mod's go
// directive, Cargo.toml rust-version, and composer.json require.php.
// A missing or malformed manifest is treated as no requirement.
func manifestRequirement(dir, language string) (string, string, bool) {
	info, ok := languages[language]
	if !ok || info.manifest == "" {
		return "", "", false
	}

	data, err := os.ReadFile(filepath.Join(dir, info.manifest))
	if err != nil {
		return "", "", false
	}

	var req string
	switch language {
	case "node":
		var doc struct {
			Engines struct {
				Node string `json:"node"`
			} `json:"engines"`
		}
		if err := json.Unmarshal(data, &doc); err == nil {
			req = doc.Engines.Node
		}
	case "python":
		var doc struct {
			Project struct {
				RequiresPython string `toml:"requires-python"`
			} `toml:"project"`
		}
		if err := toml.Unmarshal(data, &doc); err == nil {
			req = doc.Project.RequiresPython
		}
	case "go":
		req = goDirective(data)
	case "rust":
		var doc struct {
			Package struct {
				RustVersion string `toml:"rust-version"`
			} `toml:"package"`
		}
		if err := toml.Unmarshal(data, &doc); err == nil {
			req = doc.Package.RustVersion
		}
	case "php":
		var doc struct {
			Require struct {
				PHP string `json:"php"`
			} `json:"require"`
		}
		if err := json.Unmarshal(data, &doc); err == nil {
			req = doc.Require.PHP
		}
	}

	req = strings.TrimSpace(req)
	if req == "" {
		return "", "", false
	}
	return req, info.manifest, true
}

// goDirective scans go.mod for the `go` directive. The format is a fixed
// line, so a full module-file parser is not needed.
func goDirective(data []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "go" {
			return fields[1]
		}
	}
	return ""
}
