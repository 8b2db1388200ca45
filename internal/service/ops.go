package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/ZebulonRouseFrantzich/keg/internal/audit"
	"github.com/ZebulonRouseFrantzich/keg/internal/formula"
	"github.com/ZebulonRouseFrantzich/keg/internal/install"
	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
	"github.com/ZebulonRouseFrantzich/keg/internal/livecheck"
	"github.com/ZebulonRouseFrantzich/keg/internal/receipt"
	"github.com/ZebulonRouseFrantzich/keg/internal/verify"
	"github.com/ZebulonRouseFrantzich/keg/internal/version"
)

// InstallOutcome pairs a requested spec with its result or error.
type InstallOutcome struct {
	Spec   string
	Result *install.Result
	Err    error
}

// InstallAll installs every spec ("name[@constraint]"), running up to jobs
// installs at once. A failed install does not cancel the others; every
// outcome is returned and the errors are combined.
func (s *Service) InstallAll(ctx context.Context, specs []string, opts install.Options, jobs int) ([]InstallOutcome, error) {
	parsed := make([]formula.Spec, len(specs))
	for i, raw := range specs {
		sp, err := formula.ParseSpec(raw)
		if err != nil {
			return nil, err
		}
		parsed[i] = sp
	}

	in, err := s.Installer(ctx)
	if err != nil {
		return nil, err
	}
	if jobs < 1 {
		jobs = s.settings.Jobs
	}

	outcomes := make([]InstallOutcome, len(parsed))
	var g errgroup.Group
	g.SetLimit(jobs)
	for i, sp := range parsed {
		g.Go(func() error {
			res, err := in.Install(ctx, sp.Name, sp.Constraint, opts)
			outcomes[i] = InstallOutcome{Spec: sp.String(), Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	for _, o := range outcomes {
		errs = multierr.Append(errs, o.Err)
	}
	return outcomes, errs
}

// Install installs a single spec.
func (s *Service) Install(ctx context.Context, spec string, opts install.Options) (*install.Result, error) {
	outcomes, err := s.InstallAll(ctx, []string{spec}, opts, 1)
	if err != nil {
		return nil, err
	}
	return outcomes[0].Result, nil
}

// Resolve looks up a spec in the registry.
func (s *Service) Resolve(ctx context.Context, spec string) (*formula.Formula, error) {
	sp, err := formula.ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	reg, err := s.Registry(ctx)
	if err != nil {
		return nil, err
	}
	return reg.Lookup(sp.Name, sp.Constraint)
}

// Verify fetches and verifies a formula's artifact without installing it.
func (s *Service) Verify(ctx context.Context, spec string) (*formula.Formula, *verify.Result, error) {
	f, err := s.Resolve(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	in, err := s.Installer(ctx)
	if err != nil {
		return nil, nil, err
	}
	res, err := in.Verify(ctx, f)
	if err != nil {
		return f, nil, err
	}
	return f, res, nil
}

// ListEntry is one formula name in a listing.
type ListEntry struct {
	Name        string
	Latest      version.Version
	Versions    []version.Version
	Description string
	Tap         string
	Installed   *receipt.Record // nil when not installed
}

// List describes every formula in the registry. With installedOnly, only
// names with an install record are returned, including records whose
// formula no longer exists in any tap.
func (s *Service) List(ctx context.Context, installedOnly bool) ([]ListEntry, error) {
	reg, err := s.Registry(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.installedRecords()
	if err != nil {
		return nil, err
	}

	var out []ListEntry
	seen := map[string]bool{}
	for _, name := range reg.Names() {
		rec := records[name]
		if installedOnly && rec == nil {
			continue
		}
		latest, err := reg.Lookup(name, "")
		if err != nil {
			return nil, err
		}
		out = append(out, ListEntry{
			Name:        name,
			Latest:      latest.Version,
			Versions:    reg.Versions(name),
			Description: latest.Description,
			Tap:         latest.Tap,
			Installed:   rec,
		})
		seen[name] = true
	}
	if installedOnly {
		for name, rec := range records {
			if !seen[name] {
				out = append(out, ListEntry{Name: name, Tap: rec.Tap, Installed: rec})
			}
		}
		sortEntries(out)
	}
	return out, nil
}

func sortEntries(entries []ListEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

func (s *Service) installedRecords() (map[string]*receipt.Record, error) {
	store := receipt.NewStore(s.settings.Root)
	list, err := store.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*receipt.Record, len(list))
	for _, r := range list {
		out[r.Formula] = r
	}
	return out, nil
}

// Info describes one formula.
type Info struct {
	Formula    *formula.Formula
	Versions   []version.Version
	Installed  *receipt.Record
	Dependents []string
	Outdated   bool // installed version is older than the newest available
}

// Info resolves spec and reports its install status.
func (s *Service) Info(ctx context.Context, spec string) (*Info, error) {
	f, err := s.Resolve(ctx, spec)
	if err != nil {
		return nil, err
	}
	reg, err := s.Registry(ctx)
	if err != nil {
		return nil, err
	}
	in, err := s.Installer(ctx)
	if err != nil {
		return nil, err
	}

	info := &Info{Formula: f, Versions: reg.Versions(f.Name)}
	if rec, err := in.Records().Get(f.Name); err == nil {
		info.Installed = rec
		if v, err := rec.ParsedVersion(); err == nil && len(info.Versions) > 0 {
			info.Outdated = info.Versions[0].Compare(v) > 0
		}
	} else if !errors.Is(err, kerr.ErrNotFound) {
		return nil, err
	}
	if info.Dependents, err = in.Dependents(f.Name); err != nil {
		return nil, err
	}
	return info, nil
}

// Uninstall removes an installed formula.
func (s *Service) Uninstall(ctx context.Context, name string, force bool) (*receipt.Record, error) {
	if err := formula.ValidateName(name); err != nil {
		return nil, err
	}
	in, err := s.Installer(ctx)
	if err != nil {
		return nil, err
	}
	return in.Uninstall(ctx, name, install.UninstallOptions{Force: force})
}

// Audit checks every formula, or only the named ones.
func (s *Service) Audit(ctx context.Context, names ...string) (*audit.Report, error) {
	reg, err := s.Registry(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		if !reg.Has(n) {
			return nil, kerr.Newf(kerr.CodeNotFound, "no formula named %q", n).With("formula", n)
		}
	}
	a, err := s.Auditor(ctx)
	if err != nil {
		return nil, err
	}
	return a.Run(names...), nil
}

// Livecheck checks the newest version of each named formula, or of every
// formula with a livecheck block when names is empty. Checks run
// concurrently, bounded by the jobs setting.
func (s *Service) Livecheck(ctx context.Context, names ...string) ([]*livecheck.Result, error) {
	reg, err := s.Registry(ctx)
	if err != nil {
		return nil, err
	}

	var targets []*formula.Formula
	if len(names) == 0 {
		for _, n := range reg.Names() {
			f, err := reg.Lookup(n, "")
			if err != nil {
				return nil, err
			}
			if f.Livecheck != nil {
				targets = append(targets, f)
			}
		}
	} else {
		for _, n := range names {
			f, err := reg.Lookup(n, "")
			if err != nil {
				return nil, err
			}
			targets = append(targets, f)
		}
	}

	checker := s.Checker()
	results := make([]*livecheck.Result, len(targets))
	errs := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(s.settings.Jobs)
	for i, f := range targets {
		g.Go(func() error {
			res, err := checker.Check(ctx, f)
			if err != nil {
				errs[i] = fmt.Errorf("livecheck %s: %w", f.Name, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var out []*livecheck.Result
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, multierr.Combine(errs...)
}
