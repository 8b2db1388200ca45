package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/ZebulonRouseFrantzich/keg/internal/receipt"
	"github.com/ZebulonRouseFrantzich/keg/internal/transaction"
)

// UninstallOptions controls Uninstall.
type UninstallOptions struct {
	// Force removes a formula even if installed formulas depend on it.
	Force bool
}

// Uninstall removes name's links, keg and record. It refuses while other
// installed formulas depend on name unless opts.Force is set.
func (in *Installer) Uninstall(ctx context.Context, name string, opts UninstallOptions) (*receipt.Record, error) {
	lock, err := transaction.AcquireWait(ctx, in.txnDir, name, in.cfg.LockPoll)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	rec, err := in.records.Get(name)
	if err != nil {
		return nil, err
	}

	if !opts.Force {
		dependents, err := in.Dependents(name)
		if err != nil {
			return nil, err
		}
		if len(dependents) > 0 {
			return nil, fmt.Errorf("refusing to uninstall %s: required by %s", name, strings.Join(dependents, ", "))
		}
	}

	txn, err := transaction.Begin(in.txnDir, name, transaction.OperationUninstall)
	if err != nil {
		return nil, err
	}
	if err := in.removeInstalled(txn, rec); err != nil {
		if rbErr := txn.Rollback(); rbErr != nil {
			err = multierr.Append(err, rbErr)
		}
		return nil, fmt.Errorf("uninstall %s: %w", name, err)
	}
	if err := txn.Commit(); err != nil {
		in.cfg.Logger.Warn().Err(err).Str("formula", name).Msg("could not clear uninstall journal")
	}

	// The per-formula Cellar directory goes once its last keg does.
	_ = os.Remove(filepath.Join(in.cfg.Root, CellarDir, name))
	in.cfg.Logger.Info().Str("formula", name).Str("version", rec.Version).Msg("uninstalled")
	return rec, nil
}

func (in *Installer) removeInstalled(txn *transaction.Journal, rec *receipt.Record) error {
	for _, rel := range rec.Links {
		p := filepath.Join(in.cfg.Root, filepath.FromSlash(rel))
		if !in.ownsLink(p, rec.Formula) {
			continue
		}
		if err := txn.Stash(p); err != nil {
			return err
		}
	}
	if err := txn.Stash(in.KegPath(rec.Formula, rec.Version)); err != nil {
		return err
	}
	recordPath, err := in.records.Path(rec.Formula)
	if err != nil {
		return err
	}
	return txn.Stash(recordPath)
}

// Dependents returns the installed formulas that declare name as a dependency.
func (in *Installer) Dependents(name string) ([]string, error) {
	records, err := in.records.List()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range records {
		for _, d := range r.Dependencies {
			if d == name {
				out = append(out, r.Formula)
				break
			}
		}
	}
	return out, nil
}
