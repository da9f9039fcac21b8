package safeio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrOutsideBase is returned when a path resolves outside its base directory.
	ErrOutsideBase = errors.New("path is outside base directory")
	// ErrUnsafePath is returned by CleanUserPath and CheckRelPath for rejected paths.
	ErrUnsafePath = errors.New("unsafe path")
)

const maxLinkHops = 40

// renameFile is swapped in tests to simulate a crash between write and rename.
var renameFile = os.Rename

// CleanUserPath cleans a user-provided path and rejects traversal attempts.
// Returns paths with forward slashes for cross-platform consistency.
func CleanUserPath(p string) (string, error) {
	c := filepath.ToSlash(filepath.Clean(p))
	for _, seg := range strings.Split(c, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: path traversal detected", ErrUnsafePath)
		}
	}
	return c, nil
}

// CheckRelPath reports why a repository-relative path is unsafe to mutate.
// It rejects empty paths, NUL bytes, absolute paths, parent segments and empty segments.
func CheckRelPath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("%w: empty path", ErrUnsafePath)
	case strings.ContainsRune(p, 0):
		return fmt.Errorf("%w: contains NUL byte", ErrUnsafePath)
	case strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") || filepath.IsAbs(p) || filepath.VolumeName(p) != "":
		return fmt.Errorf("%w: absolute path", ErrUnsafePath)
	}
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		switch seg {
		case "..":
			return fmt.Errorf("%w: parent directory segment", ErrUnsafePath)
		case "":
			return fmt.Errorf("%w: empty path segment", ErrUnsafePath)
		}
	}
	return nil
}

// ResolveContained joins rel onto baseDir and returns the absolute result,
// failing with ErrOutsideBase when the result escapes baseDir. Symlinks in
// baseDir and in the existing part of the target are resolved before the
// containment check.
func ResolveContained(baseDir, rel string) (string, error) {
	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("resolve base directory: %w", err)
	}
	target := rel
	if !filepath.IsAbs(target) {
		target = filepath.Join(baseAbs, rel)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if !IsWithin(baseAbs, targetAbs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBase, rel)
	}
	realBase, err := resolveExisting(baseAbs)
	if err != nil {
		return "", fmt.Errorf("resolve base directory: %w", err)
	}
	realTarget, err := resolveExisting(targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if !IsWithin(realBase, realTarget) {
		return "", fmt.Errorf("%w: %s resolves to %s", ErrOutsideBase, rel, realTarget)
	}
	return targetAbs, nil
}

// resolveExisting evaluates symlinks in the deepest existing ancestor of p and
// re-appends the components that do not exist yet. A dangling link is
// followed to its target.
func resolveExisting(p string) (string, error) {
	var missing []string
	cur := p
	for hops := 0; ; {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{real}, missing...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if st, lerr := os.Lstat(cur); lerr == nil && st.Mode()&os.ModeSymlink != 0 {
			if hops++; hops > maxLinkHops {
				return "", fmt.Errorf("too many links resolving %s", p)
			}
			dest, err := os.Readlink(cur)
			if err != nil {
				return "", err
			}
			if !filepath.IsAbs(dest) {
				dest = filepath.Join(filepath.Dir(cur), dest)
			}
			cur = filepath.Clean(dest)
			continue
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		missing = append([]string{filepath.Base(cur)}, missing...)
		cur = parent
	}
}

// IsWithin reports whether target equals base or lies beneath it. Both must be absolute.
func IsWithin(base, target string) bool {
	r, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator)) && !filepath.IsAbs(r)
}

// ReadFileContained reads a file only if it is contained within baseDir.
func ReadFileContained(baseDir, filePath string) ([]byte, error) {
	abs, err := ResolveContained(baseDir, filePath)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- abs has been verified to be contained within baseDir
	return os.ReadFile(abs)
}

// WriteFileAtomic writes data to a sibling temporary file, syncs it, and renames it
// over path. Readers observe either the old content or the new content, never a
// partial write. The existing file mode is preserved; new files get defaultMode.
func WriteFileAtomic(path string, data []byte, defaultMode os.FileMode) (err error) {
	dir := filepath.Dir(path)
	mode := existingMode(path, defaultMode)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = renameFile(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	syncDir(dir)
	return nil
}

func existingMode(path string, fallback os.FileMode) os.FileMode {
	if st, err := os.Stat(path); err == nil {
		if mode := st.Mode() & 0o777; mode != 0 {
			return mode
		}
	}
	return fallback
}

// syncDir flushes the directory entry after a rename. Not all platforms support it.
func syncDir(dir string) {
	d, err := os.Open(dir) // #nosec G304 -- directory of a path we just wrote
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
