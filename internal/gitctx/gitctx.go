package gitctx

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNotRepository is returned by Open when no enclosing git repository exists.
var ErrNotRepository = errors.New("not a git repository")

// ChangeContext captures a minimal view of the current git change-set.
type ChangeContext struct {
	ModifiedFiles []string `json:"modified_files"`
	ChangeScope   string   `json:"change_scope"` // small | medium | large
	GitSHA        string   `json:"git_sha,omitempty"`
	Branch        string   `json:"branch,omitempty"`
}

// Signature names the commit author. Empty fields fall back to DefaultAuthor.
type Signature struct {
	Name  string
	Email string
}

var DefaultAuthor = Signature{Name: "reface", Email: "reface@localhost"}

// Repo wraps a go-git repository opened from a path inside its worktree.
type Repo struct {
	repo *git.Repository
	root string
}

// Open finds the repository enclosing dir.
func Open(dir string) (*Repo, error) {
	r, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	return &Repo{repo: r, root: wt.Filesystem.Root()}, nil
}

// Root is the worktree root directory.
func (r *Repo) Root() string { return r.root }

// Head returns the HEAD commit sha and short branch name. Both are empty on an unborn branch.
func (r *Repo) Head() (sha, branch string) {
	head, err := r.repo.Head()
	if err != nil {
		return "", ""
	}
	return head.Hash().String(), head.Name().Short()
}

// Collect gathers change context for the worktree.
func (r *Repo) Collect() (*ChangeContext, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, err
	}
	st, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}
	var modified []string
	for path, s := range st {
		// Consider both staged and unstaged changes
		if s.Staging != git.Unmodified || s.Worktree != git.Unmodified {
			modified = append(modified, filepath.ToSlash(path))
		}
	}
	sort.Strings(modified)
	sha, branch := r.Head()
	return &ChangeContext{
		ModifiedFiles: modified,
		ChangeScope:   classifyByFileCount(len(modified)),
		GitSHA:        sha,
		Branch:        branch,
	}, nil
}

// Collect opens the repository at target and gathers its change context.
// Returns nil without error when target is not inside a repository.
func Collect(target string) (*ChangeContext, error) {
	r, err := Open(target)
	if errors.Is(err, ErrNotRepository) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.Collect()
}

// Commit stages path and commits it. A path whose staged status shows no change
// produces no commit and an empty sha.
func (r *Repo) Commit(ctx context.Context, path, message string, author Signature) (string, error) {
	return r.CommitPaths(ctx, []string{path}, message, author)
}

// CommitPaths stages every path and records them in one commit. When none of them
// has a staged change nothing is committed and the sha is empty.
func (r *Repo) CommitPaths(ctx context.Context, paths []string, message string, author Signature) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	rels := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := r.relPath(p)
		if err != nil {
			return "", err
		}
		if _, err := wt.Add(rel); err != nil {
			return "", fmt.Errorf("stage %s: %w", rel, err)
		}
		rels = append(rels, rel)
	}
	st, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("worktree status: %w", err)
	}
	changed := false
	for _, rel := range rels {
		if s, ok := st[rel]; ok && s.Staging != git.Unmodified && s.Staging != git.Untracked {
			changed = true
			break
		}
	}
	if !changed {
		return "", nil
	}

	if author.Name == "" {
		author.Name = DefaultAuthor.Name
	}
	if author.Email == "" {
		author.Email = DefaultAuthor.Email
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: author.Name, Email: author.Email, When: time.Now()},
	})
	if err != nil {
		return "", fmt.Errorf("commit %s: %w", strings.Join(rels, ", "), err)
	}
	return hash.String(), nil
}

// FileAt returns the content of path at revision rev.
func (r *Repo) FileAt(ctx context.Context, rev, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := r.commitAt(rev)
	if err != nil {
		return nil, err
	}
	f, err := c.File(filepath.ToSlash(path))
	if err != nil {
		return nil, fmt.Errorf("%s at %s: %w", path, rev, err)
	}
	contents, err := f.Contents()
	if err != nil {
		return nil, fmt.Errorf("read %s at %s: %w", path, rev, err)
	}
	return []byte(contents), nil
}

// ChangedPaths lists the paths that differ between two revisions, sorted.
func (r *Repo) ChangedPaths(ctx context.Context, from, to string) ([]string, error) {
	fromTree, err := r.treeAt(from)
	if err != nil {
		return nil, err
	}
	toTree, err := r.treeAt(to)
	if err != nil {
		return nil, err
	}
	changes, err := fromTree.DiffContext(ctx, toTree)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", from, to, err)
	}
	seen := make(map[string]struct{}, len(changes))
	var out []string
	for _, ch := range changes {
		name := ch.To.Name
		if name == "" {
			name = ch.From.Name
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// BlobSHA returns the git object id content would have as a blob.
func BlobSHA(content []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, content).String()
}

func (r *Repo) commitAt(rev string) (*object.Commit, error) {
	h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rev, err)
	}
	c, err := r.repo.CommitObject(*h)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", rev, err)
	}
	return c, nil
}

func (r *Repo) treeAt(rev string) (*object.Tree, error) {
	c, err := r.commitAt(rev)
	if err != nil {
		return nil, err
	}
	return c.Tree()
}

// relPath maps an absolute or worktree-relative path onto the slash form go-git indexes by.
func (r *Repo) relPath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path)), nil
	}
	rootAbs, err := filepath.EvalSymlinks(r.root)
	if err != nil {
		rootAbs = r.root
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(path))
	if err != nil {
		dir = filepath.Dir(path)
	}
	rel, err := filepath.Rel(rootAbs, filepath.Join(dir, filepath.Base(path)))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside repository %s", path, r.root)
	}
	return filepath.ToSlash(rel), nil
}

func classifyByFileCount(n int) string {
	switch {
	case n <= 5:
		return "small"
	case n <= 20:
		return "medium"
	default:
		return "large"
	}
}
