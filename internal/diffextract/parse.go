package diffextract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fulmenhq/reface/internal/mutation"
	"github.com/sourcegraph/go-diff/diff"
)

// State tags a diff header.
type State int

const (
	Existing State = iota
	New
	Deleted
)

func (s State) String() string {
	switch s {
	case New:
		return "new"
	case Deleted:
		return "deleted"
	default:
		return "existing"
	}
}

// DevNull is the placeholder path for a missing side of a diff.
const DevNull = "/dev/null"

// File is one file section of a unified diff.
type File struct {
	Source      string
	Destination string
	State       State
	Hunks       []*diff.Hunk
}

// Path returns the repository path the file section affects.
func (f File) Path() string {
	if f.State == Deleted {
		return f.Source
	}
	return f.Destination
}

// AddedLines returns the '+' lines of every hunk without their prefix.
// "\ No newline at end of file" markers are skipped.
func (f File) AddedLines() []string {
	var out []string
	for _, h := range f.Hunks {
		body := strings.TrimSuffix(string(h.Body), "\n")
		for _, line := range strings.Split(body, "\n") {
			if strings.HasPrefix(line, "+") {
				out = append(out, line[1:])
			}
		}
	}
	return out
}

// ParseFiles parses diff text into tagged file sections.
func ParseFiles(text string) ([]File, error) {
	fds, err := diff.NewMultiFileDiffReader(strings.NewReader(text)).ReadAllFiles()
	if err != nil {
		return nil, mutation.NewExtractionFailed(fmt.Sprintf("parse diff: %v", err))
	}
	files := make([]File, 0, len(fds))
	for _, fd := range fds {
		f := File{
			Source:      stripSide(fd.OrigName, "a/"),
			Destination: stripSide(fd.NewName, "b/"),
			Hunks:       fd.Hunks,
		}
		switch {
		case f.Source == DevNull:
			f.State = New
		case f.Destination == DevNull:
			f.State = Deleted
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, mutation.NewExtractionFailed("diff contains no file sections")
	}
	return files, nil
}

func stripSide(name, prefix string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '\t'); i >= 0 {
		name = name[:i]
	}
	if name == DevNull {
		return name
	}
	return strings.TrimPrefix(name, prefix)
}

var destPathLine = regexp.MustCompile(`(?m)^\+\+\+ b/(.+)$`)

// DestinationPaths lists the "+++ b/" paths in order of first appearance.
func DestinationPaths(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range destPathLine.FindAllStringSubmatch(text, -1) {
		p := strings.TrimSpace(strings.SplitN(m[1], "\t", 2)[0])
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

var touchedPathLine = regexp.MustCompile(`(?m)^(?:--- a/|\+\+\+ b/|rename from |rename to |copy from |copy to )(.+)$`)

// MutatedPaths lists every repository path the diff creates, modifies,
// deletes or renames: each non-/dev/null source and destination, in order of
// first appearance. Header lines are scanned as well so that a section go-diff
// cannot parse still reaches the path guard.
func MutatedPaths(text string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		p = strings.TrimSpace(strings.SplitN(p, "\t", 2)[0])
		if p == "" || p == DevNull || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	if files, err := ParseFiles(text); err == nil {
		for _, f := range files {
			add(f.Source)
			add(f.Destination)
		}
	}
	for _, m := range touchedPathLine.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return out
}
