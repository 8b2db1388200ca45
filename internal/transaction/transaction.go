// Package transaction provides per-formula locks and a crash-recovery journal
// for install operations. Every path an install creates is journaled before
// the install commits, so a process that dies mid-install leaves enough
// behind for the next run to roll it back.
package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// State represents the current state of a journal.
type State string

const (
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateRolledBack State = "rolled_back"
)

// Operation is the kind of operation a journal covers.
type Operation string

const (
	OperationInstall   Operation = "install"
	OperationUninstall Operation = "uninstall"
)

const journalPrefix = "txn-"

// Journal records the paths created by one operation on one formula.
type Journal struct {
	Version   int       `json:"version"` // Schema version for future evolution
	ID        string    `json:"id"`
	Operation Operation `json:"operation"`
	Formula   string    `json:"formula"`
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`
	Created   []string  `json:"created"`
	Stashed   []Move    `json:"stashed,omitempty"`

	dir string
}

// Move records a path moved aside so a rollback can put it back.
type Move struct {
	Original string `json:"original"`
	Backup   string `json:"backup"`
}

// Begin creates and saves a journal for formula in dir.
func Begin(dir, formula string, op Operation) (*Journal, error) {
	j := &Journal{
		Version:   1,
		ID:        uuid.New().String(),
		Operation: op,
		Formula:   formula,
		Timestamp: time.Now().UTC(),
		State:     StateInProgress,
		Created:   []string{},
		dir:       dir,
	}
	if err := j.Save(); err != nil {
		return nil, err
	}
	return j, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return filepath.Join(j.dir, fmt.Sprintf("%s%s-%s-%s.json", journalPrefix, j.Operation, j.Formula, j.ID))
}

// Track journals path as created by this operation. The journal is saved
// before returning so the path is known even if the process dies right after.
func (j *Journal) Track(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	j.Created = append(j.Created, abs)
	return j.Save()
}

// StashDir is where Stash moves replaced paths. It lives next to the journal
// so renames stay on one filesystem with the install root.
func (j *Journal) StashDir() string {
	return filepath.Join(j.dir, journalPrefix+j.ID+".stash")
}

// Stash moves an existing path aside. Commit discards it; Rollback moves it
// back after removing whatever was created in its place. A path that does not
// exist is ignored.
func (j *Journal) Stash(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if _, err := os.Lstat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", abs, err)
	}

	if err := os.MkdirAll(j.StashDir(), 0o700); err != nil {
		return fmt.Errorf("create stash directory: %w", err)
	}
	backup := filepath.Join(j.StashDir(), fmt.Sprintf("%d-%s", len(j.Stashed), filepath.Base(abs)))

	// Journal first: a crash after the rename must still know where it went.
	j.Stashed = append(j.Stashed, Move{Original: abs, Backup: backup})
	if err := j.Save(); err != nil {
		j.Stashed = j.Stashed[:len(j.Stashed)-1]
		return err
	}
	if err := os.Rename(abs, backup); err != nil {
		j.Stashed = j.Stashed[:len(j.Stashed)-1]
		return multierr.Append(fmt.Errorf("stash %s: %w", abs, err), j.Save())
	}
	return nil
}

// Save writes the journal to disk atomically.
// Uses write-then-rename pattern for atomicity.
func (j *Journal) Save() error {
	if err := os.MkdirAll(j.dir, 0o700); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	finalPath := j.Path()
	tmpPath := finalPath + ".tmp"

	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}

	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temporary journal file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename journal file: %w", err)
	}

	// Sync directory for durability
	df, err := os.Open(j.dir)
	if err == nil {
		if syncErr := df.Sync(); syncErr != nil {
			df.Close()
			return fmt.Errorf("sync directory: %w", syncErr)
		}
		df.Close()
	}

	return nil
}

// Commit marks the operation complete, discards stashed paths and deletes the
// journal. Created paths are kept.
func (j *Journal) Commit() error {
	j.State = StateCompleted
	if err := os.RemoveAll(j.StashDir()); err != nil {
		return fmt.Errorf("discard stash: %w", err)
	}
	if err := os.Remove(j.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove journal: %w", err)
	}
	return nil
}

// Rollback removes every created path, newest first, moves stashed paths back,
// then deletes the journal. All errors are returned together; the journal is
// kept if any occurred so a later Recover can retry.
func (j *Journal) Rollback() error {
	var errs error
	for i := len(j.Created) - 1; i >= 0; i-- {
		if err := os.RemoveAll(j.Created[i]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remove %s: %w", j.Created[i], err))
		}
	}
	for i := len(j.Stashed) - 1; i >= 0; i-- {
		m := j.Stashed[i]
		if _, err := os.Lstat(m.Backup); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(m.Original), 0o755); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("restore %s: %w", m.Original, err))
			continue
		}
		if err := os.Rename(m.Backup, m.Original); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("restore %s: %w", m.Original, err))
		}
	}
	if errs != nil {
		return errs
	}

	if err := os.RemoveAll(j.StashDir()); err != nil {
		return fmt.Errorf("remove stash: %w", err)
	}

	j.State = StateRolledBack
	if err := os.Remove(j.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove journal: %w", err)
	}
	return nil
}

// Load reads a journal from disk.
func Load(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read journal file: %w", err)
	}

	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal journal: %w", err)
	}
	j.dir = filepath.Dir(path)

	return &j, nil
}

// Pending returns the journals left in dir, oldest first.
func Pending(dir string) ([]*Journal, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal directory: %w", err)
	}

	var journals []*Journal
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, journalPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		j, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		journals = append(journals, j)
	}
	sort.Slice(journals, func(a, b int) bool { return journals[a].Timestamp.Before(journals[b].Timestamp) })
	return journals, nil
}

// Recover rolls back journals left by operations that never finished.
// Journals whose formula lock is currently held belong to a live operation
// and are skipped. It returns the number of journals rolled back.
func Recover(ctx context.Context, dir string, logger zerolog.Logger) (int, error) {
	journals, err := Pending(dir)
	if err != nil {
		return 0, err
	}

	recovered := 0
	var errs error
	for _, j := range journals {
		lock, err := AcquireLock(ctx, dir, j.Formula)
		if err != nil {
			if errors.Is(err, ErrLockExists) {
				logger.Debug().Str("formula", j.Formula).Str("journal", j.ID).Msg("journal belongs to a running operation")
				continue
			}
			errs = multierr.Append(errs, err)
			continue
		}

		logger.Warn().Str("formula", j.Formula).Str("operation", string(j.Operation)).
			Int("paths", len(j.Created)).Msg("rolling back interrupted operation")
		if err := j.Rollback(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("recover %s: %w", j.Formula, err))
		} else {
			recovered++
		}
		errs = multierr.Append(errs, lock.Release())
	}
	return recovered, errs
}
