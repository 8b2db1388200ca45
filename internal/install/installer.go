// Package install drives a formula from lookup to an installed keg:
// fetch, verify, run install steps in a private staging directory, move the
// keg into the Cellar, link executables, write the install record and show
// caveats. Every change to the install root is journaled so a failure, a
// cancellation or a crash leaves the root as it was.
package install

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/ZebulonRouseFrantzich/keg/internal/formula"
	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
	"github.com/ZebulonRouseFrantzich/keg/internal/receipt"
	"github.com/ZebulonRouseFrantzich/keg/internal/transaction"
	"github.com/ZebulonRouseFrantzich/keg/internal/verify"
	"github.com/ZebulonRouseFrantzich/keg/internal/version"
)

// Layout under the install root.
const (
	CellarDir = "Cellar"
	BinDir    = "bin"
	TxnDir    = "var/txn"
)

// Resolver finds formulas. *tap.Registry implements it.
type Resolver interface {
	Lookup(name, constraint string) (*formula.Formula, error)
	ResolveDependencies(f *formula.Formula) ([]*formula.Formula, error)
}

// Fetcher retrieves artifacts. *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
	FetchToFile(ctx context.Context, rawURL, dest string) error
}

// Clock provides the install timestamp.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config wires an Installer.
type Config struct {
	Root      string // install root; required
	TempDir   string // staging root; defaults to os.TempDir()
	CacheDir  string // verified downloads are kept here when set
	Registry  Resolver
	Fetcher   Fetcher
	Verifier  *verify.Verifier
	Executors *Executors
	Notifier  Notifier
	Clock     Clock
	Logger    zerolog.Logger

	// TapDir returns the directory of a tap, for relative signature keyrings.
	TapDir func(tap string) string

	// Stdout and Stderr receive the output of run steps.
	Stdout io.Writer
	Stderr io.Writer

	// LockPoll is how often a blocked install re-checks the formula lock.
	LockPoll time.Duration
}

// Options controls a single install.
type Options struct {
	// Force reinstalls an installed version and replaces foreign bin links.
	Force bool
	// IgnoreDependencies installs only the named formula.
	IgnoreDependencies bool
}

// Result describes a completed install.
type Result struct {
	Formula          *formula.Formula
	Record           *receipt.Record
	State            State
	Caveats          string
	Warnings         []string
	AlreadyInstalled bool
	Dependencies     []*Result
}

// Error reports a failed install and the last state it reached.
type Error struct {
	Formula string
	State   State
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("install %s failed after %s: %v", e.Formula, e.State, e.Err)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Installer installs formulas into a root. It is safe for concurrent use;
// installs of the same formula are serialized by a lock file.
type Installer struct {
	cfg     Config
	records *receipt.Store
	txnDir  string
}

// New validates cfg and returns an Installer.
func New(cfg Config) (*Installer, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("install root is required")
	}
	if cfg.Registry == nil || cfg.Fetcher == nil {
		return nil, fmt.Errorf("registry and fetcher are required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve install root: %w", err)
	}
	cfg.Root = root
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.Verifier == nil {
		cfg.Verifier = verify.New(cfg.Logger)
	}
	if cfg.Executors == nil {
		cfg.Executors = NewExecutors()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}

	return &Installer{
		cfg:     cfg,
		records: receipt.NewStore(root),
		txnDir:  filepath.Join(root, filepath.FromSlash(TxnDir)),
	}, nil
}

// Root returns the absolute install root.
func (in *Installer) Root() string { return in.cfg.Root }

// BinDir returns the directory holding executable links.
func (in *Installer) BinDir() string { return filepath.Join(in.cfg.Root, BinDir) }

// Records returns the install record store.
func (in *Installer) Records() *receipt.Store { return in.records }

// Executors returns the executor set, for registering custom actions.
func (in *Installer) Executors() *Executors { return in.cfg.Executors }

// KegPath returns Cellar/<name>/<version> under the root.
func (in *Installer) KegPath(name, v string) string {
	return filepath.Join(in.cfg.Root, CellarDir, name, v)
}

// Recover rolls back installs interrupted by a crash.
func (in *Installer) Recover(ctx context.Context) (int, error) {
	return transaction.Recover(ctx, in.txnDir, in.cfg.Logger)
}

// Install resolves name@constraint and installs it with its dependencies.
func (in *Installer) Install(ctx context.Context, name, constraint string, opts Options) (*Result, error) {
	f, err := in.cfg.Registry.Lookup(name, constraint)
	if err != nil {
		return nil, err
	}
	return in.InstallFormula(ctx, f, opts)
}

// InstallFormula installs f, installing missing dependencies first.
// Dependencies whose installed version satisfies every edge are left alone.
func (in *Installer) InstallFormula(ctx context.Context, f *formula.Formula, opts Options) (*Result, error) {
	var deps []*Result
	if !opts.IgnoreDependencies && len(f.Dependencies) > 0 {
		closure, err := in.cfg.Registry.ResolveDependencies(f)
		if err != nil {
			return nil, &Error{Formula: f.ID(), State: StateResolved, Err: err}
		}
		constraints := edgeConstraints(append(closure, f))
		for _, dep := range closure {
			if in.satisfied(dep.Name, constraints[dep.Name]) {
				continue
			}
			res, err := in.installOne(ctx, dep, Options{})
			if err != nil {
				return nil, &Error{Formula: f.ID(), State: StateResolved, Err: fmt.Errorf("dependency %s: %w", dep.ID(), err)}
			}
			deps = append(deps, res)
		}
	}

	res, err := in.installOne(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	res.Dependencies = deps
	return res, nil
}

func edgeConstraints(fs []*formula.Formula) map[string][]version.Constraint {
	out := make(map[string][]version.Constraint)
	for _, f := range fs {
		for _, d := range f.Dependencies {
			out[d.Name] = append(out[d.Name], d.Constraint)
		}
	}
	return out
}

func (in *Installer) satisfied(name string, constraints []version.Constraint) bool {
	rec, err := in.records.Get(name)
	if err != nil {
		return false
	}
	v, err := rec.ParsedVersion()
	if err != nil {
		return false
	}
	for _, c := range constraints {
		if !c.Check(v) {
			return false
		}
	}
	_, err = os.Stat(in.KegPath(name, rec.Version))
	return err == nil
}

// installOne installs a single formula under its lock.
func (in *Installer) installOne(ctx context.Context, f *formula.Formula, opts Options) (*Result, error) {
	log := in.cfg.Logger.With().Str("formula", f.ID()).Logger()
	m := newMachine(f.ID(), in.cfg.Notifier)
	res := &Result{Formula: f, State: StateResolved}

	fail := func(err error) (*Result, error) {
		reached := m.fail()
		log.Debug().Err(err).Str("state", string(reached)).Msg("install failed")
		return nil, &Error{Formula: f.ID(), State: reached, Err: err}
	}

	lock, err := transaction.AcquireWait(ctx, in.txnDir, f.Name, in.cfg.LockPoll)
	if err != nil {
		return fail(err)
	}
	defer lock.Release()

	prev, err := in.records.Get(f.Name)
	if err != nil && !errors.Is(err, kerr.ErrNotFound) {
		return fail(err)
	}

	if prev != nil && !opts.Force && in.isInstalled(prev, f) {
		msg := fmt.Sprintf("%s is already installed", f.ID())
		log.Info().Msg(msg)
		in.cfg.Notifier.Warning(f.ID(), msg)
		res.Record = prev
		res.State = StateInstalled
		res.AlreadyInstalled = true
		return res, nil
	}

	txn, err := transaction.Begin(in.txnDir, f.Name, transaction.OperationInstall)
	if err != nil {
		return fail(err)
	}

	if err := in.stageAndCommit(ctx, m, res, f, prev, txn, opts); err != nil {
		if rbErr := txn.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("rollback incomplete; it will be retried on next start")
			err = multierr.Append(err, rbErr)
		}
		in.removeEmptyDirs(f.Name)
		return fail(err)
	}

	if err := txn.Commit(); err != nil {
		log.Warn().Err(err).Msg("could not clear install journal")
	}
	if err := m.advance(StateInstalled); err != nil {
		return fail(err)
	}
	res.State = StateInstalled
	log.Info().Str("prefix", res.Record.Prefix).Msg("installed")

	in.showCaveats(m, res)
	return res, nil
}

// removeEmptyDirs drops layout directories a rolled-back install created.
func (in *Installer) removeEmptyDirs(name string) {
	for _, dir := range []string{
		filepath.Join(in.cfg.Root, CellarDir, name),
		filepath.Join(in.cfg.Root, CellarDir),
		in.BinDir(),
	} {
		_ = os.Remove(dir)
	}
}

func (in *Installer) isInstalled(rec *receipt.Record, f *formula.Formula) bool {
	v, err := rec.ParsedVersion()
	if err != nil || !v.Equal(f.Version) {
		return false
	}
	_, err = os.Stat(in.KegPath(f.Name, rec.Version))
	return err == nil
}

// stageAndCommit fetches, verifies and builds the keg in a staging directory,
// then moves it into place. Every path it creates or replaces goes through txn.
func (in *Installer) stageAndCommit(ctx context.Context, m *machine, res *Result, f *formula.Formula,
	prev *receipt.Record, txn *transaction.Journal, opts Options) error {
	if err := os.MkdirAll(in.cfg.TempDir, 0o755); err != nil {
		return fmt.Errorf("create temp root: %w", err)
	}
	staging, err := os.MkdirTemp(in.cfg.TempDir, "keg-"+f.Name+"-")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)
	if err := txn.Track(staging); err != nil {
		return err
	}

	artifact, cached, err := in.fetchArtifact(ctx, f, staging, true)
	if err != nil {
		return err
	}
	if err := m.advance(StateFetched); err != nil {
		return err
	}

	vres, err := in.verifyArtifact(ctx, f, artifact)
	if err != nil {
		if cached {
			os.Remove(artifact)
		}
		return err
	}
	if vres.Warning != "" {
		res.Warnings = append(res.Warnings, vres.Warning)
		in.cfg.Notifier.Warning(f.ID(), vres.Warning)
	}
	if err := m.advance(StateVerified); err != nil {
		return err
	}

	stage := filepath.Join(staging, "keg")
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return fmt.Errorf("create stage: %w", err)
	}
	final := in.KegPath(f.Name, f.Version.String())
	sc := &StepContext{
		Formula:  f,
		Artifact: artifact,
		Stage:    stage,
		Prefix:   final,
		Root:     in.cfg.Root,
		Stdout:   in.cfg.Stdout,
		Stderr:   in.cfg.Stderr,
		Logger:   in.cfg.Logger.With().Str("formula", f.ID()).Logger(),
	}
	if err := in.runSteps(ctx, sc); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Commit phase: from here on the root changes.
	if err := txn.Stash(final); err != nil {
		return err
	}
	if err := txn.Track(final); err != nil {
		return err
	}
	if err := moveDir(stage, final); err != nil {
		return fmt.Errorf("move keg into place: %w", err)
	}

	if prev != nil {
		if old := in.KegPath(f.Name, prev.Version); old != final {
			if err := txn.Stash(old); err != nil {
				return err
			}
		}
	}

	links, err := in.linkBinaries(f, prev, sc.Links(), final, txn, opts)
	if err != nil {
		return err
	}

	files, err := kegFiles(in.cfg.Root, final)
	if err != nil {
		return err
	}
	rec := receipt.New(f.Name, f.Version, in.cfg.Clock.Now())
	rec.Tap = f.Tap
	rec.Prefix = final
	rec.Files = files
	rec.Links = links
	rec.Checksum = f.Checksum.String()
	rec.Verification = string(vres.Method)
	for _, d := range f.Dependencies {
		rec.Dependencies = append(rec.Dependencies, d.Name)
	}

	recordPath, err := in.records.Path(f.Name)
	if err != nil {
		return err
	}
	if err := txn.Stash(recordPath); err != nil {
		return err
	}
	if err := txn.Track(recordPath); err != nil {
		return err
	}
	if err := in.records.Put(rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res.Record = rec
	return nil
}

func (in *Installer) runSteps(ctx context.Context, sc *StepContext) error {
	f := sc.Formula
	for i, step := range f.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		x, ok := in.cfg.Executors.Lookup(step.Action)
		if !ok {
			return kerr.Newf(kerr.CodeInstallStep, "step %d: unknown action %q", i+1, step.Action).
				With("formula", f.ID()).
				With("step", i+1)
		}
		sc.Logger.Debug().Int("step", i+1).Str("action", step.String()).Msg("running install step")
		if err := x.Execute(ctx, sc, step); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("step %d (%s): %w", i+1, step.Action, ctxErr)
			}
			return kerr.Wrapf(err, kerr.CodeInstallStep, "step %d (%s) failed", i+1, step).
				With("formula", f.ID()).
				With("step", i+1)
		}
	}
	return nil
}

// linkBinaries creates Root/bin links for the new keg and removes links of
// the previous version that the new one no longer provides. It returns the
// link paths relative to the root.
func (in *Installer) linkBinaries(f *formula.Formula, prev *receipt.Record, links []Link, final string,
	txn *transaction.Journal, opts Options) ([]string, error) {
	binDir := in.BinDir()
	wanted := make(map[string]bool, len(links))
	var rels []string
	for _, l := range links {
		rel := path.Join(BinDir, l.Name)
		wanted[rel] = true
		rels = append(rels, rel)
	}

	if prev != nil {
		for _, rel := range prev.Links {
			if wanted[rel] {
				continue
			}
			p := filepath.Join(in.cfg.Root, filepath.FromSlash(rel))
			if in.ownsLink(p, f.Name) {
				if err := txn.Stash(p); err != nil {
					return nil, err
				}
			}
		}
	}

	if len(links) > 0 {
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			return nil, fmt.Errorf("create bin dir: %w", err)
		}
	}
	for _, l := range links {
		p := filepath.Join(binDir, l.Name)
		if _, err := os.Lstat(p); err == nil {
			if !opts.Force && !in.ownsLink(p, f.Name) {
				return nil, kerr.Newf(kerr.CodeInstallStep, "%s already exists and is not linked to %s", p, f.Name).
					With("formula", f.ID())
			}
			if err := txn.Stash(p); err != nil {
				return nil, err
			}
		}
		if err := txn.Track(p); err != nil {
			return nil, err
		}
		if err := os.Symlink(filepath.Join(final, filepath.FromSlash(l.Target)), p); err != nil {
			return nil, fmt.Errorf("link %s: %w", l.Name, err)
		}
	}
	return rels, nil
}

// ownsLink reports whether p is a symlink into one of name's kegs.
func (in *Installer) ownsLink(p, name string) bool {
	target, err := os.Readlink(p)
	if err != nil {
		return false
	}
	cellar := filepath.Join(in.cfg.Root, CellarDir, name) + string(os.PathSeparator)
	return strings.HasPrefix(target, cellar)
}

// fetchArtifact downloads the formula's artifact into the cache (when useCache,
// a cache dir is set and the formula is checksummed) or the staging
// directory. A cached copy is reused without fetching; verification decides
// whether it is still good.
func (in *Installer) fetchArtifact(ctx context.Context, f *formula.Formula, staging string, useCache bool) (string, bool, error) {
	base := artifactName(f)
	if useCache && in.cfg.CacheDir != "" && !f.Checksum.IsUnchecked() && !f.Checksum.IsMissing() {
		cached := filepath.Join(in.cfg.CacheDir, f.Name+"--"+f.Version.String()+"--"+base)
		if _, err := os.Stat(cached); err == nil {
			in.cfg.Logger.Debug().Str("path", cached).Msg("using cached download")
			return cached, true, nil
		}
		if err := in.cfg.Fetcher.FetchToFile(ctx, f.URL, cached); err != nil {
			return "", false, err
		}
		return cached, true, nil
	}

	dest := filepath.Join(staging, "download", base)
	if err := in.cfg.Fetcher.FetchToFile(ctx, f.URL, dest); err != nil {
		return "", false, err
	}
	return dest, false, nil
}

func artifactName(f *formula.Formula) string {
	if u, err := url.Parse(f.URL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return f.Name
}

// verifyArtifact checks the checksum and, if the formula names one, the
// detached signature.
func (in *Installer) verifyArtifact(ctx context.Context, f *formula.Formula, artifact string) (*verify.Result, error) {
	res, err := in.cfg.Verifier.VerifyFile(artifact, f.Checksum)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", f.ID(), err)
	}
	if f.Signature == nil {
		return res, nil
	}

	sig, err := in.cfg.Fetcher.Fetch(ctx, f.Signature.URL)
	if err != nil {
		return nil, err
	}
	keyring, err := os.ReadFile(in.keyringPath(f))
	if err != nil {
		return nil, kerr.Wrapf(err, kerr.CodeChecksumMismatch, "read keyring for %s", f.ID())
	}
	data, err := os.ReadFile(artifact)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	sres, err := in.cfg.Verifier.VerifySignature(bytes.NewReader(data), sig, keyring)
	if err != nil {
		return nil, kerr.Wrapf(err, kerr.CodeChecksumMismatch, "verify signature of %s", f.ID()).With("formula", f.ID())
	}
	res.Signer = sres.Signer
	if res.Method == verify.MethodUnchecked {
		res.Method = verify.MethodOpenPGP
	}
	return res, nil
}

func (in *Installer) keyringPath(f *formula.Formula) string {
	keyring := f.Signature.Keyring
	if filepath.IsAbs(keyring) {
		return keyring
	}
	if in.cfg.TapDir != nil {
		if dir := in.cfg.TapDir(f.Tap); dir != "" {
			return filepath.Join(dir, filepath.FromSlash(keyring))
		}
	}
	return filepath.Join(filepath.Dir(f.Source), filepath.FromSlash(keyring))
}

func (in *Installer) showCaveats(m *machine, res *Result) {
	f := res.Formula
	text, err := RenderCaveats(f, CaveatData{
		Name:    f.Name,
		Version: f.Version.String(),
		Prefix:  res.Record.Prefix,
		BinDir:  in.BinDir(),
		Root:    in.cfg.Root,
	})
	if err != nil {
		msg := fmt.Sprintf("caveats could not be rendered: %v", err)
		res.Warnings = append(res.Warnings, msg)
		in.cfg.Notifier.Warning(f.ID(), msg)
	}
	res.Caveats = text
	if text != "" {
		in.cfg.Notifier.Caveats(f.ID(), text)
	}
	if err := m.advance(StateCaveatsShown); err == nil {
		res.State = StateCaveatsShown
	}
}

// Verify fetches f's artifact from its URL, bypassing the download cache,
// and verifies it without installing.
func (in *Installer) Verify(ctx context.Context, f *formula.Formula) (*verify.Result, error) {
	if err := os.MkdirAll(in.cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}
	staging, err := os.MkdirTemp(in.cfg.TempDir, "keg-verify-"+f.Name+"-")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	artifact, _, err := in.fetchArtifact(ctx, f, staging, false)
	if err != nil {
		return nil, err
	}
	return in.verifyArtifact(ctx, f, artifact)
}
