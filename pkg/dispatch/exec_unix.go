//go:build unix

package dispatch

import (
	"context"
	"fmt"
	"syscall"
)

// replaceProcess swaps the current process image for the target. On
// success it never returns; the target inherits the pid, stdio, and
// signal disposition.
func replaceProcess(_ context.Context, exe string, argv, envv []string) (int, error) {
	if err := syscall.Exec(exe, argv, envv); err != nil {
		return 0, fmt.Errorf("failed to execute %s: %w", exe, err)
	}
	return 0, nil
}
