// Package dispatch interposes language commands. When pakmux is
// invoked through a symlink named python, npm, cargo, and so on, it
// resolves which toolchain version applies, assembles that version's
// environment, and hands the process over to the real binary. The
// interposed command behaves as itself in every other way.
package dispatch

import (
	"path/filepath"
	"runtime"
	"strings"
)

// OverrideFlag selects a version for one interposed invocation, e.g.
// `python --lang-version 3.11 script.py`. It is stripped before the
// target runs; the target's own --version remains untouched.
const OverrideFlag = "--lang-version"

// languageCommands maps each language to the commands pakmux
// interposes for it. The list is also the set of symlinks `pakmux
// shell link` creates.
var languageCommands = map[string][]string{
	"python": {"python", "python3", "pip", "pip3"},
	"node":   {"node", "npm", "npx", "yarn"},
	"ruby":   {"ruby", "gem", "bundle", "irb"},
	"rust":   {"cargo", "rustc", "rustup"},
	"go":     {"go", "gofmt"},
	"java":   {"java", "javac", "jar"},
	"dotnet": {"dotnet"},
	"php":    {"php", "composer"},
}

// commandLanguages is the inverse lookup, command name to language.
var commandLanguages = func() map[string]string {
	m := make(map[string]string)
	for lang, commands := range languageCommands {
		for _, cmd := range commands {
			m[cmd] = lang
		}
	}
	return m
}()

// binaryNames maps invoked command names to the binary under the
// managed version's bin directory, where they differ.
var binaryNames = map[string]string{
	"python": "python3",
	"pip":    "pip3",
}

// Invocation describes a command pakmux was invoked as through a
// symlink.
type Invocation struct {
	// Command is the base name pakmux was invoked as.
	Command string

	// Language owns the command.
	Language string

	// Args are the arguments after argv[0], with the override flag
	// stripped.
	Args []string

	// Override is the version named by the override flag, empty when
	// absent.
	Override string
}

// Detect reports whether argv names an interposed language command.
// The canonical name returns false and the caller proceeds to the
// regular CLI.
func Detect(argv []string) (*Invocation, bool) {
	if len(argv) == 0 {
		return nil, false
	}
	command := filepath.Base(argv[0])
	if runtime.GOOS == "windows" {
		command = strings.TrimSuffix(strings.ToLower(command), ".exe")
	}
	language, ok := commandLanguages[command]
	if !ok {
		return nil, false
	}
	args, override := splitOverride(argv[1:])
	return &Invocation{
		Command:  command,
		Language: language,
		Args:     args,
		Override: override,
	}, true
}

// splitOverride removes the override flag and its value from args.
// Both `--lang-version 3.11` and `--lang-version=3.11` forms work.
func splitOverride(args []string) ([]string, string) {
	out := make([]string, 0, len(args))
	var override string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == OverrideFlag {
			if i+1 < len(args) {
				override = args[i+1]
				i++
			}
			continue
		}
		if v, ok := strings.CutPrefix(arg, OverrideFlag+"="); ok {
			override = v
			continue
		}
		out = append(out, arg)
	}
	return out, override
}

// BinaryName maps an invoked command to the binary name under a
// managed version's bin directory ("python" runs bin/python3).
func BinaryName(command string) string {
	if name, ok := binaryNames[command]; ok {
		return name
	}
	return command
}

// Commands returns the interposed command names for a language, empty
// for unknown languages.
func Commands(language string) []string {
	commands := languageCommands[language]
	out := make([]string, len(commands))
	copy(out, commands)
	return out
}
