package version

import "sort"

// languageInfo describes how a managed language announces its desired
// version on disk and how to spot an unmanaged system install.
type languageInfo struct {
	// primary is the binary whose presence on PATH counts as a system
	// install of the language.
	primary string
	// pinFiles are checked in order; the first readable one wins.
	pinFiles []string
	// manifest is the project file that may carry a version requirement,
	// empty when the language has no recognized manifest field.
	manifest string
}

var languages = map[string]languageInfo{
	"python": {
		primary:  "python3",
		pinFiles: []string{".python-version"},
		manifest: "pyproject.toml",
	},
	"node": {
		primary:  "node",
		pinFiles: []string{".nvmrc", ".node-version"},
		manifest: "package.json",
	},
	"ruby": {
		primary:  "ruby",
		pinFiles: []string{".ruby-version"},
	},
	"go": {
		primary:  "go",
		pinFiles: []string{".go-version"},
		manifest: "go.mod",
	},
	"rust": {
		primary:  "rustc",
		pinFiles: []string{"rust-toolchain.toml", "rust-toolchain"},
		manifest: "Cargo.toml",
	},
	"php": {
		primary:  "php",
		pinFiles: []string{".php-version"},
		manifest: "composer.json",
	},
	"java": {
		primary:  "java",
		pinFiles: []string{".java-version"},
	},
	"dotnet": {
		primary:  "dotnet",
		pinFiles: []string{"global.json"},
	},
}

// Known reports whether the language is managed.
func Known(language string) bool {
	_, ok := languages[language]
	return ok
}

// KnownLanguages returns the managed language names, sorted.
func KnownLanguages() []string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PrimaryBinary returns the executable that identifies a system install
// of the language, or the language name itself when unknown.
func PrimaryBinary(language string) string {
	if info, ok := languages[language]; ok {
		return info.primary
	}
	return language
}
