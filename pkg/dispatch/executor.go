package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pakmux/pakmux/pkg/telemetry"
	"github.com/pakmux/pakmux/pkg/version"
)

// Executor resolves an interposed invocation and hands the process
// over to the selected binary.
type Executor struct {
	resolver *version.Resolver
	logger   *telemetry.Logger

	// Overridable for tests.
	execFn  func(ctx context.Context, exe string, argv, envv []string) (int, error)
	environ func() []string
	getwd   func() (string, error)
	selfExe func() (string, error)
}

// NewExecutor creates an executor over the given resolver. logger may
// be nil.
func NewExecutor(resolver *version.Resolver, logger *telemetry.Logger) *Executor {
	if logger == nil {
		logger = telemetry.NewNopTelemetry().Logger
	}
	return &Executor{
		resolver: resolver,
		logger:   logger.NewComponentLogger("dispatch"),
		execFn:   replaceProcess,
		environ:  os.Environ,
		getwd:    os.Getwd,
		selfExe:  os.Executable,
	}
}

// Run resolves the invocation and executes the target. On unix the
// process image is replaced and Run only returns on error; elsewhere
// the target runs as a child and Run returns its exit code.
func (e *Executor) Run(ctx context.Context, inv *Invocation) (int, error) {
	exe, envv, err := e.prepare(ctx, inv)
	if err != nil {
		return 0, err
	}
	argv := append([]string{inv.Command}, inv.Args...)
	e.logger.WithLanguage(inv.Language).Debugf("executing %s", exe)
	return e.execFn(ctx, exe, argv, envv)
}

// prepare resolves the version and builds the executable path and
// environment for the invocation.
func (e *Executor) prepare(ctx context.Context, inv *Invocation) (string, []string, error) {
	environ := e.environ()
	cwd, err := e.getwd()
	if err != nil {
		return "", nil, fmt.Errorf("failed to read working directory: %w", err)
	}

	res, err := e.resolver.Resolve(ctx, version.ResolutionContext{
		Language:   inv.Language,
		Binary:     inv.Command,
		WorkingDir: cwd,
		Override:   inv.Override,
		Environ:    environMap(environ),
	})
	if err != nil {
		if inv.Override != "" {
			// The user named a version; running something else would
			// be a surprise.
			return "", nil, err
		}
		// No version resolved: behave as the system command.
		e.logger.WithLanguage(inv.Language).WithError(err).Debug("falling back to the system binary")
		res = &version.Resolution{
			Language: inv.Language,
			Version:  "system",
			Source:   version.SourceSystemBinary,
		}
	}

	if res.Version == "system" {
		exe, err := e.systemExecutable(inv.Command)
		if err != nil {
			return "", nil, fmt.Errorf("%s: no managed version and no system binary: %w", inv.Command, err)
		}
		return exe, environ, nil
	}

	exe := filepath.Join(res.Path, "bin", BinaryName(inv.Command))
	if _, err := os.Stat(exe); err != nil {
		return "", nil, fmt.Errorf("%s %s is installed but %s is missing; try reinstalling it",
			inv.Language, res.Version, exe)
	}

	binDir := filepath.Join(res.Path, "bin")
	envv := mergeEnviron(environ, environment(res, homeDir(environ)), binDir)
	return exe, envv, nil
}

// systemExecutable finds the command on PATH, skipping pakmux's own
// interposition links so a system fallback never loops back into
// pakmux.
func (e *Executor) systemExecutable(command string) (string, error) {
	self, _ := e.selfExe()
	if self != "" {
		if resolved, err := filepath.EvalSymlinks(self); err == nil {
			self = resolved
		}
	}

	var path string
	for _, entry := range e.environ() {
		if v, ok := strings.CutPrefix(entry, "PATH="); ok {
			path = v
			break
		}
	}

	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, command)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() || !isExecutable(info) {
			continue
		}
		if self != "" {
			if resolved, err := filepath.EvalSymlinks(candidate); err == nil && resolved == self {
				continue
			}
		}
		return candidate, nil
	}
	return "", fmt.Errorf("%s not found on PATH", command)
}

func isExecutable(info fs.FileInfo) bool {
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}

// environMap converts environ entries to a lookup map for the
// resolver's override check.
func environMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, entry := range environ {
		if key, value, ok := strings.Cut(entry, "="); ok {
			m[key] = value
		}
	}
	return m
}

func homeDir(environ []string) string {
	for _, entry := range environ {
		if v, ok := strings.CutPrefix(entry, "HOME="); ok {
			return v
		}
		if v, ok := strings.CutPrefix(entry, "USERPROFILE="); ok {
			return v
		}
	}
	return ""
}

// ErrNotInterposed is returned by Main when argv names the canonical
// command; the caller proceeds to the regular CLI.
var ErrNotInterposed = errors.New("not an interposed command")

// Main is the argv[0] entry point. It returns ErrNotInterposed when
// pakmux was invoked under its own name.
func Main(ctx context.Context, argv []string, resolver *version.Resolver, logger *telemetry.Logger) (int, error) {
	inv, ok := Detect(argv)
	if !ok {
		return 0, ErrNotInterposed
	}
	return NewExecutor(resolver, logger).Run(ctx, inv)
}
