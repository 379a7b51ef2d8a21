// Package workspace implements the Git Workspace Service: cloning or
// updating a GitHub repository under a configured workspace root.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	"github.com/gofrs/flock"

	"github.com/opencommander/opencommander/internal/ocerr"
)

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Service clones or fast-forwards GitHub repositories under Root.
type Service struct {
	Root         string // workspace root; repos live at <Root>/repos/<owner>/<name>
	GitHubToken  string
	CloneTimeout time.Duration
}

// New creates a Service rooted at root.
func New(root, githubToken string, cloneTimeout time.Duration) *Service {
	return &Service{Root: root, GitHubToken: githubToken, CloneTimeout: cloneTimeout}
}

// CloneOrPull parses "owner/name", validates it, and ensures a fresh
// checkout exists at <root>/repos/<owner>/<name>, returning that path
// relative to Root.
func (s *Service) CloneOrPull(ctx context.Context, repo string) (string, error) {
	owner, name, err := parseOwnerName(repo)
	if err != nil {
		return "", err
	}

	relPath := filepath.Join("repos", owner, name)
	absPath := filepath.Join(s.Root, relPath)

	release, err := s.lock(absPath)
	if err != nil {
		return "", err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.CloneTimeout)
	defer cancel()

	if err := s.syncRepo(ctx, owner, name, absPath); err != nil {
		return "", err
	}
	return relPath, nil
}

func (s *Service) syncRepo(ctx context.Context, owner, name, absPath string) error {
	info, statErr := os.Stat(absPath)
	switch {
	case statErr != nil && os.IsNotExist(statErr):
		return s.clone(ctx, owner, name, absPath)
	case statErr != nil:
		return ocerr.New(ocerr.KindOther, "workspace.syncRepo", fmt.Errorf("stat %s: %w", absPath, statErr))
	case !info.IsDir():
		return ocerr.New(ocerr.KindInvalidInput, "workspace.syncRepo", fmt.Errorf("%s exists and is not a directory", absPath))
	}

	if !isGitWorkTree(absPath) {
		if err := os.RemoveAll(absPath); err != nil {
			return ocerr.New(ocerr.KindOther, "workspace.syncRepo", fmt.Errorf("remove non-git tree %s: %w", absPath, err))
		}
		return s.clone(ctx, owner, name, absPath)
	}

	if err := s.fetchAndHardReset(ctx, absPath); err != nil {
		if err := os.RemoveAll(absPath); err != nil {
			return ocerr.New(ocerr.KindOther, "workspace.syncRepo", fmt.Errorf("remove broken tree %s: %w", absPath, err))
		}
		return s.clone(ctx, owner, name, absPath)
	}
	return nil
}

func (s *Service) clone(ctx context.Context, owner, name, absPath string) error {
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return ocerr.New(ocerr.KindOther, "workspace.clone", fmt.Errorf("create parent of %s: %w", absPath, err))
	}

	_, err := gogit.PlainCloneContext(ctx, absPath, false, &gogit.CloneOptions{
		URL:           s.cloneURL(owner, name),
		Depth:         1,
		SingleBranch:  true,
		Auth:          s.auth(),
		RemoteName:    "origin",
		ReferenceName: "",
	})
	if err != nil {
		return ocerr.New(ocerr.KindOther, "workspace.clone", fmt.Errorf("clone %s/%s: %w", owner, name, s.redact(err)))
	}
	return nil
}

// fetchAndHardReset runs the equivalent of `fetch --all && reset --hard
// origin/HEAD` against an existing working tree.
func (s *Service) fetchAndHardReset(ctx context.Context, absPath string) error {
	repo, err := gogit.PlainOpen(absPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", absPath, err)
	}

	err = repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: "origin",
		Auth:       s.auth(),
		Force:      true,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch: %w", s.redact(err))
	}

	remote, err := repo.Remote("origin")
	if err != nil {
		return fmt.Errorf("lookup remote origin: %w", err)
	}
	refs, err := remote.ListContext(ctx, &gogit.ListOptions{Auth: s.auth()})
	if err != nil {
		return fmt.Errorf("list remote refs: %w", s.redact(err))
	}
	head, err := remoteHead(refs)
	if err != nil {
		return err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Reset(&gogit.ResetOptions{Commit: head, Mode: gogit.HardReset}); err != nil {
		return fmt.Errorf("hard reset to origin/HEAD: %w", err)
	}
	return nil
}

func remoteHead(refs []*plumbing.Reference) (plumbing.Hash, error) {
	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD {
			return ref.Hash(), nil
		}
	}
	for _, ref := range refs {
		if ref.Name().IsBranch() {
			return ref.Hash(), nil
		}
	}
	return plumbing.ZeroHash, errors.New("origin/HEAD not found")
}

// isGitWorkTree reports whether path looks like a git working tree: it has
// a .git entry (directory for a normal clone, file for a linked worktree)
// and go-git can open it.
func isGitWorkTree(path string) bool {
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		return false
	}
	_, err := gogit.PlainOpen(path)
	return err == nil
}

func (s *Service) cloneURL(owner, name string) string {
	return fmt.Sprintf("https://github.com/%s/%s.git", owner, name)
}

// auth returns HTTP basic auth using the configured GitHub token, or nil
// when no token is configured (public repo access).
func (s *Service) auth() transport.AuthMethod {
	if s.GitHubToken == "" {
		return nil
	}
	return &http.BasicAuth{Username: "x-access-token", Password: s.GitHubToken}
}

// redact strips the configured token from an error's text before it is
// allowed to propagate to a caller.
func (s *Service) redact(err error) error {
	if err == nil || s.GitHubToken == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), s.GitHubToken, "***"))
}

// lock acquires an advisory file lock on absPath+".lock" so concurrent
// cloneOrPull calls for the same repository path serialize instead of
// racing on the working tree.
func (s *Service) lock(absPath string) (release func(), err error) {
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, ocerr.New(ocerr.KindOther, "workspace.lock", fmt.Errorf("create lock parent: %w", err))
	}

	fl := flock.New(absPath + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), s.CloneTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil {
		return nil, ocerr.New(ocerr.KindOther, "workspace.lock", fmt.Errorf("acquire lock for %s: %w", absPath, err))
	}
	if !locked {
		return nil, ocerr.New(ocerr.KindUpstreamUnavailable, "workspace.lock", fmt.Errorf("timed out acquiring lock for %s", absPath))
	}
	return func() { _ = fl.Unlock() }, nil
}

func parseOwnerName(repo string) (owner, name string, err error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 {
		return "", "", ocerr.New(ocerr.KindInvalidInput, "workspace.parseOwnerName", fmt.Errorf("repo %q must be in owner/name form", repo))
	}
	owner, name = parts[0], parts[1]
	if owner == "" || name == "" || !repoPattern.MatchString(owner) || !repoPattern.MatchString(name) ||
		owner == "." || owner == ".." || name == "." || name == ".." {
		return "", "", ocerr.New(ocerr.KindInvalidInput, "workspace.parseOwnerName", fmt.Errorf("repo %q has an invalid owner or name", repo))
	}
	return owner, name, nil
}
