// Package receipt persists InstallRecords, one JSON file per installed formula.
package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
	"github.com/ZebulonRouseFrantzich/keg/internal/version"
)

// SchemaVersion is written into every record.
const SchemaVersion = 1

// Dir is the directory under the install root that holds records.
const Dir = "records"

// Record describes one installed formula. It is written only after the last
// install step succeeds and removed on uninstall.
type Record struct {
	Schema       int       `json:"schema"`
	ID           string    `json:"id"`
	Formula      string    `json:"formula"`
	Version      string    `json:"version"`
	Tap          string    `json:"tap,omitempty"`
	Prefix       string    `json:"prefix"`
	Files        []string  `json:"files"`
	Links        []string  `json:"links,omitempty"`
	Checksum     string    `json:"checksum"`
	Verification string    `json:"verification"`
	Dependencies []string  `json:"dependencies,omitempty"`
	InstalledAt  time.Time `json:"installed_at"`
}

// New returns a record with a fresh id.
func New(name string, v version.Version, installedAt time.Time) *Record {
	return &Record{
		Schema:      SchemaVersion,
		ID:          uuid.New().String(),
		Formula:     name,
		Version:     v.String(),
		Files:       []string{},
		InstalledAt: installedAt.UTC(),
	}
}

// ParsedVersion parses the recorded version.
func (r *Record) ParsedVersion() (version.Version, error) {
	return version.Parse(r.Version)
}

// Store reads and writes records under a directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at <root>/records.
func NewStore(root string) *Store {
	return &Store{dir: filepath.Join(root, Dir)}
}

// Dir returns the records directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the record file for name.
func (s *Store) Path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", kerr.Newf(kerr.CodeInvalidFormula, "invalid formula name %q", name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// Put writes r atomically, replacing any existing record for the formula.
func (s *Store) Put(r *Record) error {
	path, err := s.Path(r.Formula)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create records directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+r.Formula+".json.tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary record: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temporary record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temporary record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temporary record: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

// Get returns the record for name, or a NotFound error.
func (s *Store) Get(name string) (*Record, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, kerr.Newf(kerr.CodeNotFound, "%s is not installed", name).With("formula", name)
		}
		return nil, fmt.Errorf("read record: %w", err)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse record %s: %w", path, err)
	}
	return &r, nil
}

// Has reports whether a record exists for name.
func (s *Store) Has(name string) bool {
	path, err := s.Path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Delete removes the record for name.
func (s *Store) Delete(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return kerr.Newf(kerr.CodeNotFound, "%s is not installed", name).With("formula", name)
		}
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}

// List returns all records sorted by formula name. A missing directory yields
// an empty list.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read records directory: %w", err)
	}

	var records []*Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		r, err := s.Get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Formula < records[j].Formula })
	return records, nil
}
