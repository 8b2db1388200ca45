package transaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
)

func TestAcquireLock(t *testing.T) {
	t.Run("creates lock file", func(t *testing.T) {
		dir := t.TempDir()

		lock, err := AcquireLock(context.Background(), dir, "jq")
		if err != nil {
			t.Fatalf("AcquireLock failed: %v", err)
		}
		defer lock.Release()

		if lock.Path() != filepath.Join(dir, "jq.lock") {
			t.Errorf("Path() = %s", lock.Path())
		}
		if _, err := os.Stat(lock.Path()); err != nil {
			t.Errorf("lock file not created: %v", err)
		}
	})

	t.Run("prevents concurrent locks", func(t *testing.T) {
		dir := t.TempDir()
		ctx := context.Background()

		lock1, err := AcquireLock(ctx, dir, "jq")
		if err != nil {
			t.Fatalf("first AcquireLock failed: %v", err)
		}
		defer lock1.Release()

		_, err = AcquireLock(ctx, dir, "jq")
		if !errors.Is(err, ErrLockExists) {
			t.Errorf("expected ErrLockExists, got %v", err)
		}
		if !errors.Is(err, kerr.ErrLocked) {
			t.Errorf("expected LOCKED code, got %v", err)
		}
	})

	t.Run("different formulas do not contend", func(t *testing.T) {
		dir := t.TempDir()
		ctx := context.Background()

		a, err := AcquireLock(ctx, dir, "jq")
		if err != nil {
			t.Fatal(err)
		}
		defer a.Release()
		b, err := AcquireLock(ctx, dir, "yq")
		if err != nil {
			t.Fatalf("lock on another formula failed: %v", err)
		}
		defer b.Release()
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := AcquireLock(ctx, t.TempDir(), "jq"); err == nil {
			t.Error("expected error for cancelled context")
		}
	})

	t.Run("creates directory if needed", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "txn")
		lock, err := AcquireLock(context.Background(), dir, "jq")
		if err != nil {
			t.Fatalf("AcquireLock failed: %v", err)
		}
		defer lock.Release()
	})

	t.Run("writes lock metadata", func(t *testing.T) {
		lock, err := AcquireLock(context.Background(), t.TempDir(), "jq")
		if err != nil {
			t.Fatal(err)
		}
		defer lock.Release()

		data, err := os.ReadFile(lock.Path())
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), fmt.Sprintf("pid=%d", os.Getpid())) {
			t.Errorf("lock data missing pid: %q", data)
		}
		if !strings.Contains(string(data), "timestamp=") {
			t.Errorf("lock data missing timestamp: %q", data)
		}
	})
}

func TestLockRelease(t *testing.T) {
	t.Run("removes lock file and allows relock", func(t *testing.T) {
		dir := t.TempDir()
		ctx := context.Background()

		lock, err := AcquireLock(ctx, dir, "jq")
		if err != nil {
			t.Fatal(err)
		}
		if err := lock.Release(); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		if _, err := os.Stat(LockPath(dir, "jq")); !os.IsNotExist(err) {
			t.Error("lock file should be removed")
		}

		again, err := AcquireLock(ctx, dir, "jq")
		if err != nil {
			t.Fatalf("AcquireLock after release failed: %v", err)
		}
		again.Release()
	})

	t.Run("is idempotent", func(t *testing.T) {
		lock, err := AcquireLock(context.Background(), t.TempDir(), "jq")
		if err != nil {
			t.Fatal(err)
		}
		if err := lock.Release(); err != nil {
			t.Fatal(err)
		}
		if err := lock.Release(); err != nil {
			t.Errorf("second Release failed: %v", err)
		}
	})
}

func TestStaleLock(t *testing.T) {
	age := func(t *testing.T, path string) {
		t.Helper()
		old := time.Now().Add(-StaleLockThreshold - time.Minute)
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatalf("failed to set stale time: %v", err)
		}
	}

	t.Run("replaces old lock without an owner", func(t *testing.T) {
		dir := t.TempDir()
		lockPath := LockPath(dir, "jq")
		if err := os.WriteFile(lockPath, []byte("garbage\n"), 0o600); err != nil {
			t.Fatalf("failed to create stale lock: %v", err)
		}
		age(t, lockPath)

		lock, err := AcquireLock(context.Background(), dir, "jq")
		if err != nil {
			t.Fatalf("AcquireLock should succeed with stale lock: %v", err)
		}
		lock.Release()
	})

	t.Run("keeps fresh lock without an owner", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(LockPath(dir, "jq"), nil, 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := AcquireLock(context.Background(), dir, "jq"); !errors.Is(err, ErrLockExists) {
			t.Errorf("expected ErrLockExists, got %v", err)
		}
	})

	t.Run("replaces lock of a dead process", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(LockPath(dir, "jq"), []byte("pid=2147483646\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		lock, err := AcquireLock(context.Background(), dir, "jq")
		if err != nil {
			t.Fatalf("AcquireLock should replace a dead owner's lock: %v", err)
		}
		lock.Release()
	})

	t.Run("keeps old lock while its owner is alive", func(t *testing.T) {
		dir := t.TempDir()
		held, err := AcquireLock(context.Background(), dir, "jq")
		if err != nil {
			t.Fatal(err)
		}
		defer held.Release()
		age(t, held.Path())

		if _, err := AcquireLock(context.Background(), dir, "jq"); !errors.Is(err, ErrLockExists) {
			t.Fatalf("second AcquireLock error = %v, want ErrLockExists", err)
		}
		if _, err := os.Stat(held.Path()); err != nil {
			t.Errorf("held lock was removed: %v", err)
		}
	})

	t.Run("fails for fresh lock held by this process", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(LockPath(dir, "jq"), []byte(fmt.Sprintf("pid=%d\n", os.Getpid())), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := AcquireLock(context.Background(), dir, "jq"); !errors.Is(err, ErrLockExists) {
			t.Errorf("expected ErrLockExists, got %v", err)
		}
	})
}

func TestAcquireWait(t *testing.T) {
	t.Run("waits for release", func(t *testing.T) {
		dir := t.TempDir()
		ctx := context.Background()

		held, err := AcquireLock(ctx, dir, "jq")
		if err != nil {
			t.Fatal(err)
		}
		go func() {
			time.Sleep(50 * time.Millisecond)
			held.Release()
		}()

		lock, err := AcquireWait(ctx, dir, "jq", 5*time.Millisecond)
		if err != nil {
			t.Fatalf("AcquireWait failed: %v", err)
		}
		lock.Release()
	})

	t.Run("gives up when context ends", func(t *testing.T) {
		dir := t.TempDir()
		held, err := AcquireLock(context.Background(), dir, "jq")
		if err != nil {
			t.Fatal(err)
		}
		defer held.Release()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err = AcquireWait(ctx, dir, "jq", 5*time.Millisecond)
		if !errors.Is(err, kerr.ErrLocked) || !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("AcquireWait error = %v, want LOCKED wrapping deadline", err)
		}
	})

	t.Run("serializes holders", func(t *testing.T) {
		dir := t.TempDir()
		var inside, maxInside atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				lock, err := AcquireWait(context.Background(), dir, "jq", time.Millisecond)
				if err != nil {
					t.Error(err)
					return
				}
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)
				lock.Release()
			}()
		}
		wg.Wait()
		if maxInside.Load() != 1 {
			t.Errorf("max concurrent holders = %d, want 1", maxInside.Load())
		}
	})
}
