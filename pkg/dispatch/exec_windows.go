//go:build windows

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// replaceProcess runs the target as a child with stdio passthrough and
// mirrors its exit code. Windows has no execve.
func replaceProcess(ctx context.Context, exe string, argv, envv []string) (int, error) {
	cmd := exec.CommandContext(ctx, exe, argv[1:]...)
	cmd.Env = envv
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("failed to execute %s: %w", exe, err)
}
