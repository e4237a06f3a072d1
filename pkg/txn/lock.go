package txn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/pakmux/pakmux/pkg/telemetry"
)

const (
	// DefaultAcquireTimeout is how long Acquire waits for a held lock.
	DefaultAcquireTimeout = 30 * time.Second

	// DefaultStaleAfter is the age past which a lock whose owner is gone
	// is considered abandoned and reclaimed.
	DefaultStaleAfter = time.Hour

	lockPollInterval = 500 * time.Millisecond
)

// ErrLockTimeout is returned when the lock could not be acquired within
// the acquire timeout.
var ErrLockTimeout = errors.New("timed out waiting for process lock")

// LockInfo is the lock file payload identifying the holder.
type LockInfo struct {
	// PID is the process holding the lock.
	PID int `toml:"pid"`

	// Hostname is where the holder runs. Informational; staleness
	// checks only apply to local processes.
	Hostname string `toml:"hostname"`

	// StartedAt is when the lock was taken.
	StartedAt time.Time `toml:"started_at"`
}

// Lock is the cross-process mutual exclusion for mutating operations.
// One file, created exclusively; existence means held. A crash leaves
// the file behind, so Acquire reclaims locks that are both old and
// owned by a dead process.
type Lock struct {
	path string

	// AcquireTimeout bounds how long Acquire blocks.
	AcquireTimeout time.Duration

	// StaleAfter is the minimum age before a lock can be reclaimed.
	StaleAfter time.Duration

	logger *telemetry.Logger
	events *telemetry.EventPublisher

	held bool
}

// NewLock creates a lock at path. logger and events may be nil.
func NewLock(path string, logger *telemetry.Logger, events *telemetry.EventPublisher) *Lock {
	if logger == nil {
		logger = telemetry.NewNopTelemetry().Logger
	}
	return &Lock{
		path:           path,
		AcquireTimeout: DefaultAcquireTimeout,
		StaleAfter:     DefaultStaleAfter,
		logger:         logger.NewComponentLogger("lock"),
		events:         events,
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire takes the lock, blocking up to AcquireTimeout. The wait wakes
// on lock file removal (via fsnotify) and on a coarse poll as backstop.
// Returns ErrLockTimeout (wrapped) when the holder does not release in
// time.
func (l *Lock) Acquire(ctx context.Context) error {
	if l.held {
		return fmt.Errorf("lock already held by this process")
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if ok, err := l.tryAcquire(); err != nil {
		return err
	} else if ok {
		return nil
	}

	// Contended: report once, then wait for release.
	if info, err := l.readInfo(); err == nil {
		l.logger.Infof("lock held by pid %d since %s", info.PID, info.StartedAt.Format(time.RFC3339))
		if l.events != nil {
			_ = l.events.PublishLockWaiting(info.PID)
		}
	}

	watcher, werr := fsnotify.NewWatcher()
	if werr == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(l.path)); err != nil {
			watcher = nil
		}
	} else {
		watcher = nil
	}

	waitStart := time.Now()
	deadline := time.NewTimer(l.AcquireTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(lockPollInterval)
	defer poll.Stop()

	for {
		var wake <-chan fsnotify.Event
		if watcher != nil {
			wake = watcher.Events
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w after %s", ErrLockTimeout, l.AcquireTimeout)
		case ev := <-wake:
			if ev.Name != l.path || !ev.Has(fsnotify.Remove) {
				continue
			}
		case <-poll.C:
		}

		if ok, err := l.tryAcquire(); err != nil {
			return err
		} else if ok {
			tel := telemetry.FromTelemetryContext(ctx)
			if tel != nil {
				tel.Metrics.RecordLockWait(time.Since(waitStart))
			}
			return nil
		}
	}
}

// tryAcquire attempts one exclusive create, reclaiming a stale lock
// first if there is one.
func (l *Lock) tryAcquire() (bool, error) {
	if err := l.reclaimIfStale(); err != nil {
		return false, err
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create lock file: %w", err)
	}

	hostname, _ := os.Hostname()
	info := LockInfo{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().UTC(),
	}
	data, err := toml.Marshal(info)
	if err != nil {
		f.Close()
		os.Remove(l.path)
		return false, fmt.Errorf("failed to marshal lock info: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(l.path)
		return false, fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(l.path)
		return false, fmt.Errorf("failed to close lock file: %w", err)
	}

	l.held = true
	l.logger.Debugf("lock acquired (pid %d)", info.PID)
	return true, nil
}

// reclaimIfStale removes the lock file if it is older than StaleAfter
// and its owner is no longer running.
func (l *Lock) reclaimIfStale() error {
	info, err := l.readInfo()
	if err != nil {
		// Missing file means nothing to reclaim. An unreadable file is
		// left alone; reclaiming a lock we cannot attribute would risk
		// breaking a live holder.
		return nil
	}

	if time.Since(info.StartedAt) < l.StaleAfter {
		return nil
	}
	if processAlive(info.PID) {
		return nil
	}

	l.logger.Warnf("reclaiming stale lock held by dead pid %d since %s",
		info.PID, info.StartedAt.Format(time.RFC3339))
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to reclaim stale lock: %w", err)
	}
	return nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	l.logger.Debug("lock released")
	return nil
}

// Holder returns the current lock holder, or nil when the lock is free.
func (l *Lock) Holder() (*LockInfo, error) {
	info, err := l.readInfo()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return info, nil
}

func (l *Lock) readInfo() (*LockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := toml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	return &info, nil
}

// processAlive reports whether pid refers to a running process. On unix
// a zero signal probes liveness; EPERM still means alive. On Windows
// FindProcess itself fails for dead pids.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
