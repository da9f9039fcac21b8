package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/reface/internal/gitctx"
	"github.com/fulmenhq/reface/pkg/format/finalizer"
	"github.com/fulmenhq/reface/pkg/safeio"
)

// IndexEntry locates the stored content of one repository path.
type IndexEntry struct {
	SHA         string `json:"sha"`
	Lines       int    `json:"lines"`
	ContentPath string `json:"content_path"`
}

type snapshotIndex struct {
	Files map[string]IndexEntry `json:"files"`
}

// SnapshotStore keeps file contents sharded by git blob id under Root, with
// index.json mapping repository paths to their latest entry.
type SnapshotStore struct {
	Root     string
	RepoRoot string
	Lock     LockOptions
}

func NewSnapshotStore(root, repoRoot string) *SnapshotStore {
	return &SnapshotStore{Root: root, RepoRoot: repoRoot, Lock: DefaultLockOptions}
}

func (s *SnapshotStore) indexPath() string { return filepath.Join(s.Root, "index.json") }

// Index returns the current index. A missing index is empty.
func (s *SnapshotStore) Index() (map[string]IndexEntry, error) {
	data, err := os.ReadFile(s.indexPath())
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]IndexEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot index: %w", err)
	}
	var idx snapshotIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse snapshot index: %w", err)
	}
	if idx.Files == nil {
		idx.Files = map[string]IndexEntry{}
	}
	return idx.Files, nil
}

// Ensure stores the current content of path (relative to RepoRoot) and indexes it.
func (s *SnapshotStore) Ensure(ctx context.Context, path string) (IndexEntry, error) {
	out, err := s.EnsureMany(ctx, []string{path})
	if err != nil {
		return IndexEntry{}, err
	}
	return out[path], nil
}

// EnsureMany stores and indexes every path under one index lock.
func (s *SnapshotStore) EnsureMany(ctx context.Context, paths []string) (map[string]IndexEntry, error) {
	out := make(map[string]IndexEntry, len(paths))
	err := WithLock(ctx, filepath.Join(s.Root, "index.lock"), s.Lock, func() error {
		idx, err := s.Index()
		if err != nil {
			return err
		}
		for _, p := range paths {
			entry, err := s.store(p)
			if err != nil {
				return err
			}
			idx[p] = entry
			out[p] = entry
		}
		data, err := json.MarshalIndent(snapshotIndex{Files: idx}, "", "  ")
		if err != nil {
			return err
		}
		return safeio.WriteFileAtomic(s.indexPath(), data, 0o644)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SnapshotStore) store(rel string) (IndexEntry, error) {
	if err := safeio.CheckRelPath(rel); err != nil {
		return IndexEntry{}, err
	}
	content, err := safeio.ReadFileContained(s.RepoRoot, rel)
	if err != nil {
		return IndexEntry{}, fmt.Errorf("snapshot %s: %w", rel, err)
	}
	sha := gitctx.BlobSHA(content)
	dir := filepath.Join(s.Root, sha[:2])
	target := filepath.Join(dir, sha+"."+filepath.Base(rel))
	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return IndexEntry{}, err
		}
		if err := safeio.WriteFileAtomic(target, content, 0o644); err != nil {
			return IndexEntry{}, err
		}
	}
	lines := 0
	if len(content) > 0 {
		lines = strings.Count(string(content), "\n") + 1
	}
	return IndexEntry{SHA: sha, Lines: lines, ContentPath: target}, nil
}

// Content returns the stored content for an indexed path.
func (s *SnapshotStore) Content(path string) ([]byte, error) {
	idx, err := s.Index()
	if err != nil {
		return nil, err
	}
	entry, ok := idx[path]
	if !ok {
		return nil, fmt.Errorf("snapshot not indexed for %s", path)
	}
	return os.ReadFile(entry.ContentPath) // #nosec G304 -- path recorded by this store
}

// PromptSnapshot is file content prepared for embedding in a prompt.
type PromptSnapshot struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

const (
	DefaultCollectFiles = 20
	DefaultCharLimit    = 8000
	truncationMarker    = "# ... (truncated) ..."
)

// Collect reads up to maxFiles of paths that lie under projectRoot, truncating each
// at the last line break before charLimit and escaping markdown fences.
func Collect(repoRoot, projectRoot string, paths []string, maxFiles, charLimit int) []PromptSnapshot {
	if maxFiles <= 0 {
		maxFiles = DefaultCollectFiles
	}
	if charLimit <= 0 {
		charLimit = DefaultCharLimit
	}
	root := strings.TrimSuffix(projectRoot, "/")
	if len(paths) > maxFiles {
		paths = paths[:maxFiles]
	}
	var out []PromptSnapshot
	for _, rel := range paths {
		rel = strings.TrimPrefix(strings.TrimSpace(rel), "./")
		if rel == "" || (root != "" && !strings.HasPrefix(rel, root+"/")) {
			continue
		}
		abs, err := safeio.ResolveContained(repoRoot, rel)
		if err != nil {
			continue
		}
		st, err := os.Stat(abs)
		if err != nil || !st.Mode().IsRegular() || st.Size() > int64(charLimit*8) {
			continue
		}
		data, err := os.ReadFile(abs) // #nosec G304 -- contained in repoRoot
		if err != nil || !finalizer.IsTextFile(data) {
			continue
		}
		snap := PromptSnapshot{Path: rel, Content: string(data)}
		if len(snap.Content) > charLimit {
			cut := strings.LastIndex(snap.Content[:charLimit], "\n")
			if cut < 0 {
				cut = charLimit
			}
			snap.Content = strings.TrimRight(snap.Content[:cut], "\n") + "\n" + truncationMarker + "\n"
			snap.Truncated = true
		}
		snap.Content = strings.ReplaceAll(snap.Content, "```", "``\u200b`")
		out = append(out, snap)
	}
	return out
}
