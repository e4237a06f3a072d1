package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/pakmux/pakmux/pkg/telemetry"
)

// outputTailLimit caps how much process output is retained for
// classification. Backends can print megabytes; the diagnostic patterns
// live at the end.
const outputTailLimit = 64 * 1024

// Command describes one backend binary invocation. Argv[0] is the
// binary; there is never a shell in between.
type Command struct {
	// Argv is the full argument vector.
	Argv []string

	// Env is overlaid on the inherited environment.
	Env map[string]string

	// Dir is the working directory, empty for inherited.
	Dir string

	// Stdin feeds the process, nil for none.
	Stdin io.Reader

	// Passthrough streams output to the terminal while still capturing
	// the tail. Mutating calls set this so users see backend progress.
	Passthrough bool

	// Elevate marks commands that need root rights. Whether that turns
	// into an elevation prefix is decided once per process by the
	// privilege layer, never here.
	Elevate bool
}

// CommandResult is the captured result of one invocation. A non-zero
// exit code is a result, not an error; adapters classify it.
type CommandResult struct {
	// ExitCode is the process exit status.
	ExitCode int

	// Stdout and Stderr hold the output tails, separately captured.
	Stdout string
	Stderr string

	// Duration is the wall-clock run time.
	Duration time.Duration
}

// Runner executes backend commands. Adapters depend on this interface
// so tests can script results without spawning processes.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*CommandResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Output and ErrOutput receive passthrough streams. Default to the
	// process's own stdout and stderr.
	Output    io.Writer
	ErrOutput io.Writer

	logger *telemetry.Logger
}

// NewExecRunner creates a runner. logger may be nil.
func NewExecRunner(logger *telemetry.Logger) *ExecRunner {
	if logger == nil {
		logger = telemetry.NewNopTelemetry().Logger
	}
	return &ExecRunner{
		Output:    os.Stdout,
		ErrOutput: os.Stderr,
		logger:    logger.NewComponentLogger("exec"),
	}
}

// Run executes the command and captures its output. Returns an error
// only when the process could not run at all or the context ended; exit
// codes come back in the result.
func (r *ExecRunner) Run(ctx context.Context, c Command) (*CommandResult, error) {
	if len(c.Argv) == 0 {
		return nil, fmt.Errorf("empty argument vector")
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin

	if len(c.Env) > 0 {
		env := os.Environ()
		for k, v := range c.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	stdout := &tailBuffer{max: outputTailLimit}
	stderr := &tailBuffer{max: outputTailLimit}
	if c.Passthrough {
		cmd.Stdout = io.MultiWriter(r.Output, stdout)
		cmd.Stderr = io.MultiWriter(r.ErrOutput, stderr)
	} else {
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}

	r.logger.Debugf("running %v", c.Argv)

	start := time.Now()
	err := cmd.Run()
	result := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			return nil, fmt.Errorf("failed to run %s: %w", c.Argv[0], err)
		}
	}

	r.logger.Zerolog().Debug().
		Str("binary", c.Argv[0]).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("command finished")

	return result, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
