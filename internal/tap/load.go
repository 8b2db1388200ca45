package tap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/ZebulonRouseFrantzich/keg/internal/formula"
	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
	"github.com/ZebulonRouseFrantzich/keg/internal/platform"
)

// FormulaDir is the directory inside a tap that holds formula files.
const FormulaDir = "Formula"

// Source is a directory of formulas and the tap name they are attributed to.
type Source struct {
	Name string
	Path string
}

// Load parses every formula file in sources and builds a Registry. All parse
// errors are reported together. info is exposed to Lua formulas and may be
// nil.
func Load(ctx context.Context, info *platform.Info, sources ...Source) (*Registry, error) {
	formulas, err := LoadFormulas(ctx, info, sources...)
	if err != nil {
		return nil, err
	}
	return NewRegistry(formulas)
}

// LoadFormulas parses sources without indexing them.
func LoadFormulas(ctx context.Context, info *platform.Info, sources ...Source) ([]*formula.Formula, error) {
	var all []*formula.Formula
	var errs error

	for _, src := range sources {
		files, err := formulaFiles(src.Path)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("tap %s: %w", src.Name, err))
			continue
		}
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			loaded, err := formula.LoadFile(ctx, path, info)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				errs = multierr.Append(errs, err)
				continue
			}
			for _, f := range loaded {
				f.Tap = src.Name
			}
			all = append(all, loaded...)
		}
	}

	if errs != nil {
		return nil, kerr.Wrap(errs, kerr.CodeInvalidFormula, "load formulas")
	}
	return all, nil
}

// formulaFiles lists formula files under root/Formula, or under root itself
// when it has no Formula directory. Hidden directories are skipped.
func formulaFiles(root string) ([]string, error) {
	dir := root
	if st, err := os.Stat(filepath.Join(root, FormulaDir)); err == nil && st.IsDir() {
		dir = filepath.Join(root, FormulaDir)
	} else if _, err := os.Stat(root); err != nil {
		return nil, err
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if formula.IsFormulaFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
