// Package service wires keg's packages into the operations the CLI exposes:
// it loads taps into a registry, builds the installer from settings and runs
// installs, verification, audits and livechecks.
package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/keg/internal/audit"
	"github.com/ZebulonRouseFrantzich/keg/internal/fetch"
	"github.com/ZebulonRouseFrantzich/keg/internal/git"
	"github.com/ZebulonRouseFrantzich/keg/internal/install"
	"github.com/ZebulonRouseFrantzich/keg/internal/livecheck"
	"github.com/ZebulonRouseFrantzich/keg/internal/logging"
	"github.com/ZebulonRouseFrantzich/keg/internal/platform"
	"github.com/ZebulonRouseFrantzich/keg/internal/settings"
	"github.com/ZebulonRouseFrantzich/keg/internal/tap"
	"github.com/ZebulonRouseFrantzich/keg/internal/verify"
)

// Options configures a Service. Only Settings is required.
type Options struct {
	Settings *settings.Settings
	Logger   zerolog.Logger
	Notifier install.Notifier
	Clock    Clock

	// Platform is exposed to Lua formulas. Defaults to the running host.
	Platform platform.Detector
	// Git overrides the git client used for taps.
	Git func(path string) git.Git
	// FetchOptions are appended to the options derived from Settings.
	FetchOptions []fetch.Option

	// Stdout and Stderr receive install step output.
	Stdout io.Writer
	Stderr io.Writer
}

// Service is keg's application layer. Its registry and installer are built
// on first use and then shared; it is safe for concurrent use.
type Service struct {
	opts     Options
	settings *settings.Settings
	logger   zerolog.Logger
	taps     *tap.Manager
	fetcher  *fetch.Fetcher
	verifier *verify.Verifier

	loadOnce  sync.Once
	registry  *tap.Registry
	tapDirs   map[string]string
	loadErr   error
	buildOnce sync.Once
	installer *install.Installer
	buildErr  error
}

// New creates a Service from opts.
func New(opts Options) (*Service, error) {
	if opts.Settings == nil {
		return nil, fmt.Errorf("settings are required")
	}
	if opts.Notifier == nil {
		opts.Notifier = install.NopNotifier{}
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Platform == nil {
		opts.Platform = platform.NewDetector()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	s := opts.Settings
	fetchOpts := append([]fetch.Option{
		fetch.WithRetries(s.Retries),
		fetch.WithTimeout(s.Timeout),
		fetch.WithLogger(logging.Component(opts.Logger, "fetch")),
	}, opts.FetchOptions...)

	tapOpts := []tap.ManagerOption{tap.WithLogger(logging.Component(opts.Logger, "tap"))}
	if opts.Git != nil {
		tapOpts = append(tapOpts, tap.WithGit(opts.Git))
	}

	return &Service{
		opts:     opts,
		settings: s,
		logger:   logging.Component(opts.Logger, "service"),
		taps:     tap.NewManager(s.TapsDir, tapOpts...),
		fetcher:  fetch.New(fetchOpts...),
		verifier: verify.New(logging.Component(opts.Logger, "verify")),
	}, nil
}

// Settings returns the resolved settings.
func (s *Service) Settings() *settings.Settings { return s.settings }

// Taps returns the tap manager.
func (s *Service) Taps() *tap.Manager { return s.taps }

// Registry loads every tap under the taps directory plus the directories in
// the tap path.
func (s *Service) Registry(ctx context.Context) (*tap.Registry, error) {
	s.loadOnce.Do(func() {
		s.registry, s.tapDirs, s.loadErr = s.load(ctx)
	})
	return s.registry, s.loadErr
}

func (s *Service) load(ctx context.Context) (*tap.Registry, map[string]string, error) {
	sources, err := s.taps.Sources(ctx)
	if err != nil {
		return nil, nil, err
	}
	sources = append(sources, tap.LocalSources(s.settings.TapPath)...)

	info, err := s.opts.Platform.Detect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		s.logger.Warn().Err(err).Msg("platform detection failed; formulas see no platform table")
		info = nil
	}

	reg, err := tap.Load(ctx, info, sources...)
	if err != nil {
		return nil, nil, err
	}

	dirs := make(map[string]string, len(sources))
	for _, src := range sources {
		dirs[src.Name] = src.Path
	}
	s.logger.Debug().Int("taps", len(sources)).Int("formulas", reg.Len()).Msg("registry loaded")
	return reg, dirs, nil
}

// Installer builds the installer and rolls back installs a previous process
// left unfinished.
func (s *Service) Installer(ctx context.Context) (*install.Installer, error) {
	s.buildOnce.Do(func() {
		s.installer, s.buildErr = s.build(ctx)
	})
	return s.installer, s.buildErr
}

func (s *Service) build(ctx context.Context) (*install.Installer, error) {
	reg, err := s.Registry(ctx)
	if err != nil {
		return nil, err
	}

	in, err := install.New(install.Config{
		Root:     s.settings.Root,
		TempDir:  s.settings.TempDir,
		CacheDir: s.settings.CacheDir,
		Registry: reg,
		Fetcher:  s.fetcher,
		Verifier: s.verifier,
		Notifier: s.opts.Notifier,
		Clock:    s.opts.Clock,
		Logger:   logging.Component(s.opts.Logger, "install"),
		TapDir:   func(name string) string { return s.tapDirs[name] },
		Stdout:   s.opts.Stdout,
		Stderr:   s.opts.Stderr,
	})
	if err != nil {
		return nil, err
	}

	n, err := in.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover interrupted installs: %w", err)
	}
	if n > 0 {
		s.logger.Warn().Int("transactions", n).Msg("rolled back interrupted installs")
	}
	return in, nil
}

// Auditor returns an auditor over the loaded registry that knows the
// installer's registered actions.
func (s *Service) Auditor(ctx context.Context) (*audit.Auditor, error) {
	in, err := s.Installer(ctx)
	if err != nil {
		return nil, err
	}
	reg, err := s.Registry(ctx)
	if err != nil {
		return nil, err
	}
	return audit.New(reg, in.Executors().Actions()), nil
}

// Checker returns a livechecker using the service's fetcher.
func (s *Service) Checker() *livecheck.Checker {
	return livecheck.New(s.fetcher, logging.Component(s.opts.Logger, "livecheck"))
}
