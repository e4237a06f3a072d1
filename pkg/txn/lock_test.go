package txn

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

func setupTestLock(t *testing.T) *Lock {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pakmux.lock")
	return NewLock(path, nil, nil)
}

// writeLockInfo plants a lock file as another process would have left it.
func writeLockInfo(t *testing.T, path string, pid int, startedAt time.Time) {
	t.Helper()
	data, err := toml.Marshal(LockInfo{
		PID:       pid,
		Hostname:  "testhost",
		StartedAt: startedAt,
	})
	if err != nil {
		t.Fatalf("toml.Marshal() error = %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

// deadPID returns a process ID that is guaranteed not to be running.
func deadPID(t *testing.T) int {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("no portable dead-process probe on windows")
	}
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("running true: %v", err)
	}
	return cmd.Process.Pid
}

func TestLockAcquireRelease(t *testing.T) {
	l := setupTestLock(t)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	info, err := l.Holder()
	if err != nil {
		t.Fatalf("Holder() error = %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", info.PID, os.Getpid())
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(l.path); !os.IsNotExist(err) {
		t.Error("lock file still exists after Release()")
	}
}

func TestLockTimesOutWhileHeld(t *testing.T) {
	holder := setupTestLock(t)
	ctx := context.Background()

	if err := holder.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer holder.Release()

	waiter := NewLock(holder.path, nil, nil)
	waiter.AcquireTimeout = 100 * time.Millisecond

	err := waiter.Acquire(ctx)
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Acquire() error = %v, want ErrLockTimeout", err)
	}
}

func TestLockAcquireAfterHolderReleases(t *testing.T) {
	holder := setupTestLock(t)
	ctx := context.Background()

	if err := holder.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	waiter := NewLock(holder.path, nil, nil)
	waiter.AcquireTimeout = 5 * time.Second

	done := make(chan error, 1)
	go func() {
		done <- waiter.Acquire(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := holder.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter Acquire() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not acquire after holder released")
	}
	waiter.Release()
}

func TestLockReclaimsStaleDeadHolder(t *testing.T) {
	l := setupTestLock(t)
	writeLockInfo(t, l.path, deadPID(t), time.Now().Add(-2*time.Hour))

	l.AcquireTimeout = 500 * time.Millisecond
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() over stale lock error = %v", err)
	}
	l.Release()
}

func TestLockKeepsFreshDeadHolder(t *testing.T) {
	// A dead holder whose lock is younger than the staleness window is
	// not reclaimed; crash recovery on the next run handles it.
	l := setupTestLock(t)
	writeLockInfo(t, l.path, deadPID(t), time.Now().Add(-1*time.Minute))

	l.AcquireTimeout = 100 * time.Millisecond
	err := l.Acquire(context.Background())
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Acquire() error = %v, want ErrLockTimeout", err)
	}
}

func TestLockKeepsStaleLiveHolder(t *testing.T) {
	l := setupTestLock(t)
	writeLockInfo(t, l.path, os.Getpid(), time.Now().Add(-2*time.Hour))

	l.AcquireTimeout = 100 * time.Millisecond
	err := l.Acquire(context.Background())
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Acquire() error = %v, want ErrLockTimeout", err)
	}
}

func TestLockAcquireHonorsContext(t *testing.T) {
	holder := setupTestLock(t)
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer holder.Release()

	waiter := NewLock(holder.path, nil, nil)
	waiter.AcquireTimeout = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- waiter.Acquire(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Acquire() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Acquire() did not return after context cancellation")
	}
}

func TestLockDoubleAcquireSameInstance(t *testing.T) {
	l := setupTestLock(t)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer l.Release()

	if err := l.Acquire(ctx); err == nil {
		t.Error("second Acquire() on the same instance = nil, want error")
	}
}

func TestLockReleaseWithoutAcquire(t *testing.T) {
	l := setupTestLock(t)
	if err := l.Release(); err != nil {
		t.Errorf("Release() without Acquire() error = %v", err)
	}
}

func TestLockHolderUnreadableFile(t *testing.T) {
	l := setupTestLock(t)
	if err := os.WriteFile(l.path, []byte("not toml {{{"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := l.Holder(); err == nil {
		t.Error("Holder() on corrupt lock file = nil, want error")
	}

	// A corrupt lock file is never reclaimed automatically.
	l.AcquireTimeout = 100 * time.Millisecond
	err := l.Acquire(context.Background())
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Acquire() error = %v, want ErrLockTimeout", err)
	}
}
