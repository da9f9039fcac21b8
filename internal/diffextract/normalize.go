package diffextract

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/reface/pkg/logger"
)

// NormalizeHeaders rewrites "---" headers whose existence assumption is stale
// relative to workdir. A destination that does not exist gets "--- /dev/null"; a
// "/dev/null" source whose destination exists becomes "--- a/<dest>". Hunk
// content is never touched.
func NormalizeHeaders(text, workdir string) string {
	if !strings.Contains(text, "--- ") || !strings.Contains(text, "+++ ") {
		return text
	}
	lines := strings.Split(text, "\n")
	for i := 0; i+1 < len(lines); i++ {
		src, dst := lines[i], lines[i+1]
		if !strings.HasPrefix(src, "--- ") || !strings.HasPrefix(dst, "+++ ") {
			continue
		}
		destRest := strings.TrimSpace(dst[4:])
		if !strings.HasPrefix(destRest, "b/") {
			continue
		}
		dest := strings.SplitN(destRest[2:], "\t", 2)[0]
		exists := fileExists(filepath.Join(workdir, filepath.FromSlash(dest)))
		srcIsNull := strings.HasPrefix(strings.TrimSpace(src[4:]), DevNull)

		switch {
		case !exists && !srcIsNull:
			lines[i] = "--- " + DevNull
			logger.Debug("diff header forced to new file", logger.String("path", dest))
		case exists && srcIsNull:
			lines[i] = "--- a/" + dest
			logger.Debug("diff header forced to existing file", logger.String("path", dest))
		}
		i++
	}
	return strings.Join(lines, "\n")
}

// Coerce repairs hunk bodies: inside a hunk any non-empty line lacking a
// '+', '-', ' ' or '\' prefix gets a leading space. The result ends with a newline.
func Coerce(text string) string {
	if text == "" {
		return text
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	inHunk := false
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "@@ "):
			inHunk = true
		case strings.HasPrefix(line, "diff --git "), strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "):
			inHunk = false
		case inHunk && line != "" && !strings.ContainsAny(line[:1], "+- \\"):
			lines[i] = " " + line
		}
	}
	out := strings.Join(lines, "\n")
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
