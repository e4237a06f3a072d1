// Package config loads the pakmux configuration file. The file lives
// at ~/.config/pakmux/config.yaml, every field has a default, and
// PAKMUX_* environment variables override the file. The loaded value
// is immutable: collaborators receive it at startup and nothing
// mutates it afterwards.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pakmux/pakmux/pkg/telemetry"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full pakmux configuration.
type Config struct {
	// DataDir holds the transaction journal, the state database, the
	// download cache, and installed language versions.
	DataDir string `yaml:"data_dir" validate:"required"`

	// BinDir is where `pakmux shell link` places interposition links.
	BinDir string `yaml:"bin_dir" validate:"required"`

	// DefaultScope is the installation scope when none is given.
	DefaultScope string `yaml:"default_scope" validate:"oneof=user system"`

	// LockTimeout bounds how long a mutating operation waits for the
	// data-directory lock.
	LockTimeout Duration `yaml:"lock_timeout" validate:"gt=0"`

	// JournalRetention is how many terminal transaction records are
	// kept before pruning.
	JournalRetention int `yaml:"journal_retention" validate:"min=1"`

	Log       LogConfig        `yaml:"log"`
	Backends  BackendsConfig   `yaml:"backends"`
	Telemetry TelemetryOptions `yaml:"telemetry"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// BackendsConfig overrides backend selection.
type BackendsConfig struct {
	// Priority replaces the platform's default backend order when
	// non-empty. A backend left off the list is never used.
	Priority []string `yaml:"priority"`
}

// TelemetryOptions controls metrics and tracing.
type TelemetryOptions struct {
	// Metrics toggles the Prometheus registry.
	Metrics bool `yaml:"metrics"`

	Tracing TracingOptions `yaml:"tracing"`
}

// TracingOptions selects a trace exporter.
type TracingOptions struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=none stdout otlp"`
	// Endpoint is the OTLP gRPC endpoint, host:port.
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:          defaultDataDir(home),
		BinDir:           defaultBinDir(home),
		DefaultScope:     "user",
		LockTimeout:      Duration(30 * time.Second),
		JournalRetention: 10,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryOptions{
			Metrics: true,
			Tracing: TracingOptions{Exporter: "none"},
		},
	}
}

func defaultDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" && runtime.GOOS == "linux" {
		return filepath.Join(xdg, "pakmux")
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "pakmux")
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "pakmux")
		}
		return filepath.Join(home, "AppData", "Local", "pakmux")
	default:
		return filepath.Join(home, ".local", "share", "pakmux")
	}
}

func defaultBinDir(home string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(defaultDataDir(home), "bin")
	}
	return filepath.Join(home, ".local", "bin")
}

// DefaultPath returns where the configuration file is looked up when
// neither --config nor PAKMUX_CONFIG names one.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "pakmux", "config.yaml")
}

// Load reads the configuration file at path, or the default location
// when path is empty. A missing file is not an error: defaults apply,
// then PAKMUX_* environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("PAKMUX_CONFIG")
	}
	explicit := path != ""
	if path == "" {
		path = DefaultPath()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			if explicit {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.BinDir = expandHome(cfg.BinDir)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays PAKMUX_* variables onto the configuration.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("PAKMUX_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PAKMUX_BIN_DIR"); v != "" {
		cfg.BinDir = v
	}
	if v := os.Getenv("PAKMUX_SCOPE"); v != "" {
		cfg.DefaultScope = v
	}
	if v := os.Getenv("PAKMUX_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PAKMUX_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("PAKMUX_LOCK_TIMEOUT"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PAKMUX_LOCK_TIMEOUT %q: %w", v, err)
		}
		cfg.LockTimeout = Duration(parsed)
	}
	if v := os.Getenv("PAKMUX_BACKEND_PRIORITY"); v != "" {
		cfg.Backends.Priority = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

// Derived paths inside the data directory. The layout is fixed;
// only the root moves.

// JournalDir returns the transaction journal directory.
func (c *Config) JournalDir() string { return filepath.Join(c.DataDir, "txn") }

// LockPath returns the data-directory lock file.
func (c *Config) LockPath() string { return filepath.Join(c.DataDir, "pakmux.lock") }

// StatePath returns the version-store database file.
func (c *Config) StatePath() string { return filepath.Join(c.DataDir, "state.db") }

// CacheDir returns the download cache directory.
func (c *Config) CacheDir() string { return filepath.Join(c.DataDir, "cache") }

// TelemetryConfig maps the user-facing settings onto the telemetry
// stack's configuration.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = c.Log.Level
	tc.Logging.Format = c.Log.Format
	tc.Metrics.Enabled = c.Telemetry.Metrics
	tc.Tracing.Enabled = c.Telemetry.Tracing.Enabled
	if c.Telemetry.Tracing.Exporter != "" {
		tc.Tracing.Exporter = c.Telemetry.Tracing.Exporter
	}
	tc.Tracing.Endpoint = c.Telemetry.Tracing.Endpoint
	return tc
}
