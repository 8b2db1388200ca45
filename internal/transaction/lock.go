package transaction

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
)

const (
	// StaleLockThreshold is the age after which a lock with no readable owner
	// is considered stale.
	StaleLockThreshold = 10 * time.Minute

	// DefaultPollInterval is how often AcquireWait retries a held lock.
	DefaultPollInterval = 100 * time.Millisecond
)

// ErrLockExists is matched by errors returned for a held lock.
var ErrLockExists = errors.New("lock exists: another operation may be in progress")

// Lock is an exclusive per-formula lock file.
type Lock struct {
	path string
	file *os.File
}

// LockPath returns the lock file used for formula name.
func LockPath(dir, name string) string {
	return filepath.Join(dir, name+".lock")
}

// AcquireLock attempts to take the lock for name without waiting.
// Uses O_CREATE|O_EXCL for atomic lock creation. A held lock yields an error
// with code LOCKED that also matches ErrLockExists.
func AcquireLock(ctx context.Context, dir, name string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lockPath := LockPath(dir, name)

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if stale, _ := isLockStale(ctx, lockPath); !stale {
			return nil, lockedError(name, lockPath)
		}
		// Remove stale lock and retry once
		os.Remove(lockPath)
		file, err = os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err != nil {
			return nil, lockedError(name, lockPath)
		}
	}

	lockData := fmt.Sprintf("pid=%d\ntimestamp=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(lockData); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("write lock data: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return &Lock{
		path: lockPath,
		file: file,
	}, nil
}

// AcquireWait polls until the lock for name is free or ctx is done.
func AcquireWait(ctx context.Context, dir, name string, poll time.Duration) (*Lock, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		lock, err := AcquireLock(ctx, dir, name)
		if err == nil || !errors.Is(err, ErrLockExists) {
			return lock, err
		}
		select {
		case <-ctx.Done():
			return nil, kerr.Wrapf(ctx.Err(), kerr.CodeLocked, "waiting for lock on %s", name).With("formula", name)
		case <-ticker.C:
		}
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release releases the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	if l.path != "" {
		path := l.path
		l.path = ""
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove lock file: %w", err)
		}
	}

	return nil
}

func lockedError(name, path string) error {
	return kerr.Wrapf(ErrLockExists, kerr.CodeLocked, "%s is locked by another operation", name).
		With("formula", name).
		With("lock", path)
}

// isLockStale reports whether a lock was written by a process that no longer
// exists. The lock's age only counts when it names no readable owner.
func isLockStale(ctx context.Context, lockPath string) (bool, error) {
	pid, err := lockOwner(lockPath)
	if err == nil && pid > 0 {
		if pid == os.Getpid() {
			return false, nil
		}
		exists, err := process.PidExistsWithContext(ctx, int32(pid))
		if err != nil {
			return false, err
		}
		return !exists, nil
	}

	info, err := os.Stat(lockPath)
	if err != nil {
		return false, err
	}
	return time.Since(info.ModTime()) > StaleLockThreshold, nil
}

func lockOwner(lockPath string) (int, error) {
	f, err := os.Open(lockPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if v, ok := strings.CutPrefix(scanner.Text(), "pid="); ok {
			return strconv.Atoi(strings.TrimSpace(v))
		}
	}
	return 0, scanner.Err()
}
