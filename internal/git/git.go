// Package git wraps the go-git operations keg needs to manage taps:
// cloning, fast-forward updates and scaffolding new tap repositories.
package git

import (
	"context"
	"errors"
	"fmt"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Common Git errors
var (
	ErrNotAGitRepo     = errors.New("not a git repository")
	ErrNothingToCommit = errors.New("nothing to commit")
	ErrEmptyMessage    = errors.New("commit message cannot be empty")
	ErrNoFiles         = errors.New("no files specified to stage")
	ErrGitInitFailed   = errors.New("git initialization failed")
	ErrInvalidRepo     = errors.New("invalid git repository")
	ErrNoRemote        = errors.New("repository has no origin remote")
)

// UserInfo identifies the author of commits keg creates.
type UserInfo struct {
	Name      string
	Email     string
	FromEnv   bool
	IsDefault bool
}

// Git is the set of repository operations used by taps.
type Git interface {
	Clone(ctx context.Context, url, branch string) error
	Pull(ctx context.Context) (updated bool, err error)
	HeadCommit(ctx context.Context) (string, error)
	RemoteURL(ctx context.Context) (string, error)
	IsGitRepo(ctx context.Context) (bool, error)

	InitRepo(ctx context.Context) error
	ConfigureUser(ctx context.Context, user UserInfo) error
	CommitFiles(ctx context.Context, message string, files []string) error
}

// Client implements Git for the repository at repoPath.
type Client struct {
	repoPath string
}

// NewClient creates a Client for repoPath. The repository need not exist yet.
func NewClient(repoPath string) *Client {
	return &Client{repoPath: repoPath}
}

// Path returns the repository path.
func (c *Client) Path() string {
	return c.repoPath
}

// Clone clones url into the client's path. An empty branch clones the
// remote's default branch.
func (c *Client) Clone(ctx context.Context, url, branch string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	opts := &gogit.CloneOptions{
		URL:          url,
		SingleBranch: true,
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}

	if _, err := gogit.PlainCloneContext(ctx, c.repoPath, false, opts); err != nil {
		return fmt.Errorf("clone %s: %w", url, err)
	}
	return nil
}

// Pull fast-forwards the current branch from origin. It reports false when
// the repository was already up to date.
func (c *Client) Pull(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context cancelled: %w", err)
	}

	repo, err := c.open()
	if err != nil {
		return false, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("get worktree: %w", err)
	}

	err = worktree.PullContext(ctx, &gogit.PullOptions{RemoteName: "origin", SingleBranch: true})
	switch {
	case errors.Is(err, gogit.NoErrAlreadyUpToDate):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("pull: %w", err)
	}
	return true, nil
}

// HeadCommit returns the hash HEAD points at.
func (c *Client) HeadCommit(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	repo, err := c.open()
	if err != nil {
		return "", err
	}

	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("get HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// RemoteURL returns the first URL of the origin remote.
func (c *Client) RemoteURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	repo, err := c.open()
	if err != nil {
		return "", err
	}

	remote, err := repo.Remote("origin")
	if errors.Is(err, gogit.ErrRemoteNotFound) {
		return "", ErrNoRemote
	}
	if err != nil {
		return "", fmt.Errorf("read origin: %w", err)
	}
	if urls := remote.Config().URLs; len(urls) > 0 {
		return urls[0], nil
	}
	return "", ErrNoRemote
}

// IsGitRepo returns (true, nil) for a valid repository, (false, nil) when
// none exists and (false, err) when the repository is corrupt.
func (c *Client) IsGitRepo(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context cancelled: %w", err)
	}

	_, err := gogit.PlainOpen(c.repoPath)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidRepo, err.Error())
	}
	return true, nil
}

// InitRepo creates an empty repository.
func (c *Client) InitRepo(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	if _, err := gogit.PlainInit(c.repoPath, false); err != nil {
		return fmt.Errorf("%w: %s", ErrGitInitFailed, err.Error())
	}
	return nil
}

// ConfigureUser writes user.name and user.email to the repository-local
// config. Global git config is never touched.
func (c *Client) ConfigureUser(ctx context.Context, user UserInfo) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	repo, err := c.open()
	if err != nil {
		return err
	}

	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("read repo config: %w", err)
	}
	cfg.User.Name = user.Name
	cfg.User.Email = user.Email

	if err := repo.Storer.SetConfig(cfg); err != nil {
		return fmt.Errorf("write repo config: %w", err)
	}
	return nil
}

// CommitFiles stages files (relative to the repository root) and commits
// them as the repository-local user.
func (c *Client) CommitFiles(ctx context.Context, message string, files []string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if message == "" {
		return ErrEmptyMessage
	}
	if len(files) == 0 {
		return ErrNoFiles
	}

	repo, err := c.open()
	if err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}

	for _, file := range files {
		if _, err := worktree.Add(file); err != nil {
			return fmt.Errorf("stage file %s: %w", file, err)
		}
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	staged := false
	for _, st := range status {
		if st.Staging != gogit.Unmodified && st.Staging != gogit.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		return ErrNothingToCommit
	}

	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("read repo config: %w", err)
	}

	_, err = worktree.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  cfg.User.Name,
			Email: cfg.User.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("create commit: %w", err)
	}
	return nil
}

func (c *Client) open() (*gogit.Repository, error) {
	repo, err := gogit.PlainOpen(c.repoPath)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotAGitRepo, c.repoPath)
	}
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}
