package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pakmux/pakmux/pkg/version"
)

// environment builds the variable overlay for running a managed
// toolchain version. System resolutions get no overlay; the binary
// already lives in its own environment.
func environment(res *version.Resolution, home string) map[string]string {
	if res.Version == "system" || res.Path == "" {
		return nil
	}
	root := res.Path
	env := make(map[string]string)

	switch res.Language {
	case "python":
		env["PYTHONPATH"] = filepath.Join(root, "lib", "python"+majorMinor(res.Version), "site-packages")
		env["PYTHONUSERBASE"] = root
		env["PYTHONNOUSERSITE"] = "1"
	case "node":
		env["NODE_PATH"] = filepath.Join(root, "lib", "node_modules")
		env["NPM_CONFIG_PREFIX"] = root
		env["NPM_CONFIG_USERCONFIG"] = filepath.Join(root, ".npmrc")
	case "ruby":
		gems := filepath.Join(root, "lib", "ruby", "gems", res.Version)
		env["GEM_HOME"] = gems
		env["GEM_PATH"] = gems
		env["RUBYLIB"] = filepath.Join(root, "lib", "ruby", res.Version)
	case "rust":
		env["RUSTUP_HOME"] = root
		env["CARGO_HOME"] = root
		env["RUSTC"] = filepath.Join(root, "bin", "rustc")
	case "go":
		env["GOROOT"] = root
		env["GOBIN"] = filepath.Join(root, "bin")
		if home != "" {
			env["GOPATH"] = filepath.Join(home, "go")
		}
	case "java":
		env["JAVA_HOME"] = root
		env["CLASSPATH"] = filepath.Join(root, "lib")
	case "dotnet":
		env["DOTNET_ROOT"] = root
		env["DOTNET_CLI_HOME"] = root
	case "php":
		env["PHP_INI_DIR"] = filepath.Join(root, "etc")
		env["COMPOSER_HOME"] = filepath.Join(root, ".composer")
	}

	return env
}

// majorMinor trims a version to its first two segments, e.g. 3.12.7
// becomes 3.12. Python's site-packages path wants exactly that.
func majorMinor(v string) string {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) >= 2 {
		return parts[0] + "." + parts[1]
	}
	return v
}

// mergeEnviron overlays vars on the inherited environment and prepends
// binDir to PATH so tools the target spawns find their siblings first.
func mergeEnviron(environ []string, vars map[string]string, binDir string) []string {
	out := make([]string, 0, len(environ)+len(vars)+1)
	seen := make(map[string]bool, len(vars))

	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			out = append(out, entry)
			continue
		}
		if override, has := vars[key]; has {
			out = append(out, key+"="+override)
			seen[key] = true
			continue
		}
		if binDir != "" && key == "PATH" {
			out = append(out, fmt.Sprintf("PATH=%s%c%s", binDir, os.PathListSeparator, value))
			seen["PATH"] = true
			continue
		}
		out = append(out, entry)
	}

	for key, value := range vars {
		if !seen[key] {
			out = append(out, key+"="+value)
		}
	}
	if binDir != "" && !seen["PATH"] {
		out = append(out, "PATH="+binDir)
	}
	return out
}
