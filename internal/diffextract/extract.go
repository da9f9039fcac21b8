// Package diffextract recovers a unified diff from free-form generator output and
// repairs its headers against the working tree before application.
package diffextract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fulmenhq/reface/internal/mutation"
	"github.com/fulmenhq/reface/pkg/format/finalizer"
	"github.com/fulmenhq/reface/pkg/logger"
)

// Limits are hard ceilings applied to an extracted diff.
type Limits struct {
	MaxSize  int
	MaxFiles int
}

// DefaultLimits match the diff.max_size and diff.max_files defaults.
var DefaultLimits = Limits{MaxSize: 800_000, MaxFiles: 20}

var (
	fenceTagged  = regexp.MustCompile("```(?:diff|patch)[ \\t]*\\r?\\n?([\\s\\S]*?)```")
	fenceHeaders = regexp.MustCompile("```[^\\n`]*\\r?\\n?(---[\\s\\S]*?\\+\\+\\+[\\s\\S]*?)```")
	fenceAny     = regexp.MustCompile("```[^\\n`]*\\r?\\n?([\\s\\S]*?)```")

	sourceHeader = regexp.MustCompile(`(?m)^--- (?:a/|/dev/null)`)
	destHeader   = regexp.MustCompile(`(?m)^\+\+\+ (?:b/|/dev/null)`)
	hunkHeader   = regexp.MustCompile(`(?m)^@@.*@@`)
)

// Extract searches raw output for diff fragments, keeps those that begin with a
// unified header, and returns them joined as one diff. Every failure is an
// ExtractionFailed error.
func Extract(raw string, limits Limits) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", mutation.NewExtractionFailed("empty generator output")
	}
	if limits.MaxSize <= 0 {
		limits.MaxSize = DefaultLimits.MaxSize
	}
	if limits.MaxFiles <= 0 {
		limits.MaxFiles = DefaultLimits.MaxFiles
	}

	var parts []string
	found := false
	for _, blocks := range tiers(raw) {
		if len(blocks) == 0 {
			continue
		}
		found = true
		if parts = headerFragments(blocks); len(parts) > 0 {
			break
		}
	}
	if !found {
		return "", mutation.NewExtractionFailed("no diff block found")
	}
	if len(parts) == 0 {
		return "", mutation.NewExtractionFailed("no fragment starts with a unified diff header")
	}

	cleaned, _ := finalizer.StripNonASCII([]byte(strings.Join(parts, "\n")))
	diff := strings.TrimSpace(string(cleaned))

	if !hasHeaderPair(diff) {
		return "", mutation.NewExtractionFailed("missing '--- a/' and '+++ b/' header pair")
	}
	if !hunkHeader.MatchString(diff) {
		return "", mutation.NewExtractionFailed("missing '@@' hunk header")
	}
	if len(diff) > limits.MaxSize {
		return "", mutation.NewExtractionFailed(fmt.Sprintf("diff is %d bytes, limit %d", len(diff), limits.MaxSize))
	}
	if n := len(sourceHeader.FindAllStringIndex(diff, -1)); n > limits.MaxFiles {
		return "", mutation.NewExtractionFailed(fmt.Sprintf("diff touches %d files, limit %d", n, limits.MaxFiles))
	}

	logger.Debug("extracted diff", logger.Int("fragments", len(parts)), logger.Int("bytes", len(diff)))
	return diff, nil
}

// tiers returns the fragment sets to try, from most to least specific:
// diff/patch fences, fences holding headers, any fence, then unfenced text.
func tiers(raw string) [][]string {
	var out [][]string
	for _, re := range []*regexp.Regexp{fenceTagged, fenceHeaders, fenceAny} {
		var blocks []string
		for _, m := range re.FindAllStringSubmatch(raw, -1) {
			blocks = append(blocks, m[1])
		}
		out = append(out, blocks)
	}
	if s := unfenced(raw); s != "" {
		out = append(out, []string{s})
	}
	return out
}

// headerFragments keeps the blocks that begin with a unified diff header,
// cutting a leading "diff --git" preamble at its first "--- " line.
func headerFragments(blocks []string) []string {
	var parts []string
	for _, b := range blocks {
		b = strings.TrimSpace(strings.ReplaceAll(b, "\r\n", "\n"))
		if b == "" {
			continue
		}
		if strings.HasPrefix(b, "diff --git") {
			if loc := sourceHeader.FindStringIndex(b); loc != nil {
				b = b[loc[0]:]
			}
		}
		if sourceHeader.MatchString(b) {
			parts = append(parts, b)
		}
	}
	return parts
}

// unfenced scans plain text from the first diff marker to the last diff-shaped line.
func unfenced(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	start := -1
	for i, l := range lines {
		if strings.HasPrefix(l, "diff --git ") || strings.HasPrefix(l, "--- a/") || strings.HasPrefix(l, "--- /dev/null") {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}
	end := start
	for i := start; i < len(lines); i++ {
		if !diffShaped(lines[i]) {
			break
		}
		if lines[i] != "" {
			end = i
		}
	}
	return strings.Join(lines[start:end+1], "\n")
}

var diffLinePrefixes = []string{
	"diff ", "index ", "--- ", "+++ ", "@@", "+", "-", " ", "\\",
	"new file mode", "deleted file mode", "old mode", "new mode",
	"similarity index", "rename from", "rename to", "Binary files",
}

func diffShaped(line string) bool {
	if line == "" {
		return true
	}
	for _, p := range diffLinePrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// hasHeaderPair reports whether some '--- ' source header is immediately followed by a '+++ ' header.
func hasHeaderPair(diff string) bool {
	lines := strings.Split(diff, "\n")
	for i := 0; i+1 < len(lines); i++ {
		if sourceHeader.MatchString(lines[i]) && destHeader.MatchString(lines[i+1]) {
			return true
		}
	}
	return false
}
