package tap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/keg/internal/git"
	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
)

var tapNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*/[a-z0-9][a-z0-9_.-]*$`)

// Tap is a formula repository on disk.
type Tap struct {
	Name   string // "user/repo"
	Path   string
	Remote string // empty for local taps
	Commit string // empty when not a git repository
}

// Source returns the Load input for the tap.
func (t Tap) Source() Source {
	return Source{Name: t.Name, Path: t.Path}
}

// UpdateResult reports the outcome of updating one tap.
type UpdateResult struct {
	Tap     Tap
	Updated bool
	Err     error
}

// Manager owns the taps directory. Taps live at <dir>/<user>/<repo>.
type Manager struct {
	dir    string
	logger zerolog.Logger
	newGit func(path string) git.Git
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithGit overrides the git client constructor.
func WithGit(fn func(path string) git.Git) ManagerOption {
	return func(m *Manager) { m.newGit = fn }
}

// NewManager creates a Manager rooted at dir.
func NewManager(dir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		dir:    dir,
		logger: zerolog.Nop(),
		newGit: func(path string) git.Git { return git.NewClient(path) },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the taps directory.
func (m *Manager) Dir() string {
	return m.dir
}

// ValidateName checks a "user/repo" tap name.
func ValidateName(name string) error {
	if !tapNamePattern.MatchString(name) {
		return kerr.Newf(kerr.CodeInvalidFormula, "invalid tap name %q (want user/repo)", name)
	}
	return nil
}

// DefaultURL returns the GitHub URL used when a tap is added without one.
func DefaultURL(name string) string {
	user, repo, _ := strings.Cut(name, "/")
	return fmt.Sprintf("https://github.com/%s/keg-%s.git", user, strings.TrimPrefix(repo, "keg-"))
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, filepath.FromSlash(name))
}

// Add clones url as tap name. The clone happens in a temporary sibling
// directory and is renamed into place only when it succeeds.
func (m *Manager) Add(ctx context.Context, name, url string) (*Tap, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if url == "" {
		url = DefaultURL(name)
	}

	dest := m.path(name)
	if _, err := os.Stat(dest); err == nil {
		return nil, kerr.Newf(kerr.CodeInvalidFormula, "tap %s already exists at %s", name, dest)
	}

	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create taps directory: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, ".clone-*")
	if err != nil {
		return nil, fmt.Errorf("create clone directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	m.logger.Info().Str("tap", name).Str("url", url).Msg("cloning tap")
	// go-git wants to create the target itself.
	target := filepath.Join(tmp, "repo")
	if err := m.newGit(target).Clone(ctx, url, ""); err != nil {
		return nil, kerr.Wrapf(err, kerr.CodeFetch, "tap %s", name)
	}
	if err := os.Rename(target, dest); err != nil {
		return nil, fmt.Errorf("install tap %s: %w", name, err)
	}

	return m.Get(ctx, name)
}

// Create scaffolds a new local tap repository with a Formula directory and
// an initial commit.
func (m *Manager) Create(ctx context.Context, name string) (*Tap, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	dest := m.path(name)
	if _, err := os.Stat(dest); err == nil {
		return nil, kerr.Newf(kerr.CodeInvalidFormula, "tap %s already exists at %s", name, dest)
	}

	if err := os.MkdirAll(filepath.Join(dest, FormulaDir), 0o755); err != nil {
		return nil, fmt.Errorf("create tap: %w", err)
	}
	cleanup := func() { os.RemoveAll(dest) }

	readme := fmt.Sprintf("# %s\n\nFormulas for keg. Add one per file under `%s/`.\n", name, FormulaDir)
	files := []struct{ rel, content string }{
		{"README.md", readme},
		{FormulaDir + "/.gitkeep", ""},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dest, filepath.FromSlash(f.rel)), []byte(f.content), 0o644); err != nil {
			cleanup()
			return nil, fmt.Errorf("write %s: %w", f.rel, err)
		}
	}
	if err := git.WriteGitignore(filepath.Join(dest, ".gitignore")); err != nil {
		cleanup()
		return nil, err
	}

	g := m.newGit(dest)
	if err := g.InitRepo(ctx); err != nil {
		cleanup()
		return nil, err
	}
	if err := g.ConfigureUser(ctx, git.DetectUser()); err != nil {
		cleanup()
		return nil, err
	}
	if err := g.CommitFiles(ctx, "Create "+name+" tap", []string{"README.md", ".gitignore", FormulaDir + "/.gitkeep"}); err != nil {
		cleanup()
		return nil, err
	}

	m.logger.Info().Str("tap", name).Str("path", dest).Msg("created tap")
	return m.Get(ctx, name)
}

// Get describes an installed tap.
func (m *Manager) Get(ctx context.Context, name string) (*Tap, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	path := m.path(name)
	if st, err := os.Stat(path); err != nil || !st.IsDir() {
		return nil, kerr.Newf(kerr.CodeNotFound, "tap %s is not installed", name).With("tap", name)
	}

	t := &Tap{Name: name, Path: path}
	g := m.newGit(path)
	isRepo, err := g.IsGitRepo(ctx)
	if err != nil {
		return nil, err
	}
	if !isRepo {
		return t, nil
	}
	if t.Commit, err = g.HeadCommit(ctx); err != nil {
		m.logger.Debug().Err(err).Str("tap", name).Msg("no HEAD commit")
	}
	if t.Remote, err = g.RemoteURL(ctx); err != nil && !errors.Is(err, git.ErrNoRemote) {
		return nil, err
	}
	return t, nil
}

// List returns installed taps sorted by name. A missing taps directory is
// an empty list.
func (m *Manager) List(ctx context.Context) ([]Tap, error) {
	users, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read taps directory: %w", err)
	}

	var taps []Tap
	for _, u := range users {
		if !u.IsDir() || strings.HasPrefix(u.Name(), ".") {
			continue
		}
		repos, err := os.ReadDir(filepath.Join(m.dir, u.Name()))
		if err != nil {
			return nil, fmt.Errorf("read taps directory: %w", err)
		}
		for _, r := range repos {
			if !r.IsDir() || strings.HasPrefix(r.Name(), ".") {
				continue
			}
			name := u.Name() + "/" + r.Name()
			if ValidateName(name) != nil {
				m.logger.Debug().Str("dir", name).Msg("skipping directory with invalid tap name")
				continue
			}
			t, err := m.Get(ctx, name)
			if err != nil {
				return nil, err
			}
			taps = append(taps, *t)
		}
	}
	sort.Slice(taps, func(i, j int) bool { return taps[i].Name < taps[j].Name })
	return taps, nil
}

// Update pulls the named taps, or every git tap when names is empty. A
// failing tap does not stop the others; its error is in the result.
func (m *Manager) Update(ctx context.Context, names ...string) ([]UpdateResult, error) {
	var taps []Tap
	if len(names) == 0 {
		all, err := m.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range all {
			if t.Commit != "" && t.Remote != "" {
				taps = append(taps, t)
			}
		}
	} else {
		for _, name := range names {
			t, err := m.Get(ctx, name)
			if err != nil {
				return nil, err
			}
			taps = append(taps, *t)
		}
	}

	results := make([]UpdateResult, 0, len(taps))
	for _, t := range taps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := UpdateResult{Tap: t}
		g := m.newGit(t.Path)
		res.Updated, res.Err = g.Pull(ctx)
		if res.Err == nil && res.Updated {
			if commit, err := g.HeadCommit(ctx); err == nil {
				res.Tap.Commit = commit
			}
		}
		m.logger.Info().Str("tap", t.Name).Bool("updated", res.Updated).Err(res.Err).Msg("updated tap")
		results = append(results, res)
	}
	return results, nil
}

// Remove deletes a tap. Empty user directories are removed too.
func (m *Manager) Remove(ctx context.Context, name string) error {
	t, err := m.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(t.Path); err != nil {
		return fmt.Errorf("remove tap %s: %w", name, err)
	}
	userDir := filepath.Dir(t.Path)
	if entries, err := os.ReadDir(userDir); err == nil && len(entries) == 0 {
		_ = os.Remove(userDir)
	}
	m.logger.Info().Str("tap", name).Msg("removed tap")
	return nil
}

// Sources returns Load inputs for every installed tap.
func (m *Manager) Sources(ctx context.Context) ([]Source, error) {
	taps, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	sources := make([]Source, len(taps))
	for i, t := range taps {
		sources[i] = t.Source()
	}
	return sources, nil
}

// LocalSources turns plain directories (KEG_TAP_PATH) into sources named
// "local/<basename>".
func LocalSources(dirs []string) []Source {
	var sources []Source
	for _, d := range dirs {
		if d = strings.TrimSpace(d); d == "" {
			continue
		}
		sources = append(sources, Source{Name: "local/" + filepath.Base(d), Path: d})
	}
	return sources
}
