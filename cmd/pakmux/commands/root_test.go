package commands

import "testing"

func TestNewRootCommandSubcommands(t *testing.T) {
	root := newRootCommand("1.0.0", "abc123", "2026-01-01")

	want := []string{
		"install", "remove", "update", "search", "list", "info",
		"whatis", "where", "lang", "history", "rollback", "profile",
		"cache", "doctor", "shell", "version",
	}

	registered := make(map[string]bool)
	for _, sub := range root.Commands() {
		registered[sub.Name()] = true
	}

	for _, name := range want {
		if !registered[name] {
			t.Errorf("root command is missing subcommand %q", name)
		}
	}
}

func TestRootPersistentFlags(t *testing.T) {
	root := newRootCommand("1.0.0", "abc123", "2026-01-01")

	for _, name := range []string{"config", "verbose", "json"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Errorf("root command is missing persistent flag --%s", name)
		}
	}
	if root.PersistentFlags().ShorthandLookup("c") == nil {
		t.Error("root command is missing shorthand -c for --config")
	}
	if root.PersistentFlags().ShorthandLookup("v") == nil {
		t.Error("root command is missing shorthand -v for --verbose")
	}
}

func TestEnvMap(t *testing.T) {
	m := envMap([]string{"PATH=/usr/bin", "PAKMUX_PYTHON_VERSION=3.12", "EMPTY=", "MALFORMED"})

	if m["PATH"] != "/usr/bin" {
		t.Errorf("envMap PATH = %q, want /usr/bin", m["PATH"])
	}
	if m["PAKMUX_PYTHON_VERSION"] != "3.12" {
		t.Errorf("envMap override = %q, want 3.12", m["PAKMUX_PYTHON_VERSION"])
	}
	if v, ok := m["EMPTY"]; !ok || v != "" {
		t.Errorf("envMap EMPTY = %q (present %v), want empty string present", v, ok)
	}
	if _, ok := m["MALFORMED"]; ok {
		t.Error("envMap kept an entry without '='")
	}
}
