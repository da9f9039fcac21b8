// Package keepblock extracts and verifies protected "KEEP" regions. A block opens
// with "# >>> KEEP:<id>" and closes with "# <<< KEEP:<id>"; any common comment
// leader may replace '#'.
package keepblock

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fulmenhq/reface/internal/mutation"
	"github.com/mattn/go-runewidth"
)

// ErrMalformed is wrapped by every parse failure.
var ErrMalformed = errors.New("malformed keep block")

var (
	openMarker  = regexp.MustCompile(`(?:#|//|--|/\*|<!--|;|%)\s*>>> KEEP:([A-Za-z0-9_-]+)`)
	closeMarker = regexp.MustCompile(`(?:#|//|--|/\*|<!--|;|%)\s*<<< KEEP:([A-Za-z0-9_-]+)`)
)

// ParseError locates a marker problem.
type ParseError struct {
	Line   int
	ID     string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Detail)
}

func (e *ParseError) Unwrap() error { return ErrMalformed }

// Block is one protected region. Text includes both marker lines.
type Block struct {
	ID        string
	StartLine int
	EndLine   int
	Text      string
}

// Blocks returns the blocks of content in file order.
func Blocks(content string) ([]Block, error) {
	lines := strings.Split(content, "\n")
	var (
		out     []Block
		current *Block
		seen    = map[string]int{}
	)
	for i, line := range lines {
		n := i + 1
		if m := openMarker.FindStringSubmatch(line); m != nil {
			id := m[1]
			if current != nil {
				return nil, &ParseError{Line: n, ID: id, Detail: fmt.Sprintf("nested block %q inside %q", id, current.ID)}
			}
			if first, dup := seen[id]; dup {
				return nil, &ParseError{Line: n, ID: id, Detail: fmt.Sprintf("duplicate block id %q (first at line %d)", id, first)}
			}
			seen[id] = n
			current = &Block{ID: id, StartLine: n}
			continue
		}
		if m := closeMarker.FindStringSubmatch(line); m != nil {
			id := m[1]
			if current == nil {
				return nil, &ParseError{Line: n, ID: id, Detail: fmt.Sprintf("closing marker for %q without opening marker", id)}
			}
			if id != current.ID {
				return nil, &ParseError{Line: n, ID: id, Detail: fmt.Sprintf("block %q closed by %q", current.ID, id)}
			}
			current.EndLine = n
			current.Text = strings.Join(lines[current.StartLine-1:n], "\n")
			out = append(out, *current)
			current = nil
		}
	}
	if current != nil {
		return nil, &ParseError{Line: current.StartLine, ID: current.ID, Detail: fmt.Sprintf("unclosed block %q", current.ID)}
	}
	return out, nil
}

// Extract returns the blocks of content keyed by id.
func Extract(content string) (map[string]Block, error) {
	blocks, err := Blocks(content)
	if err != nil {
		return nil, err
	}
	m := make(map[string]Block, len(blocks))
	for _, b := range blocks {
		m[b.ID] = b
	}
	return m, nil
}

// Verify checks that every block of before survives byte-for-byte in after.
// New blocks in after are allowed.
func Verify(path, before, after string) error {
	prev, err := Blocks(before)
	if err != nil {
		return invalid(path, "current content", err)
	}
	next, err := Extract(after)
	if err != nil {
		return invalid(path, "new content", err)
	}
	for _, b := range prev {
		nb, ok := next[b.ID]
		if !ok {
			return mutation.NewKeepBlockViolation(path, b.ID, mutation.BlockRemoved, "")
		}
		if nb.Text != b.Text {
			return mutation.NewKeepBlockViolation(path, b.ID, mutation.BlockModified,
				fmt.Sprintf("lines %d-%d differ", b.StartLine, b.EndLine))
		}
	}
	return nil
}

func invalid(path, which string, err error) error {
	id := ""
	var pe *ParseError
	if errors.As(err, &pe) {
		id = pe.ID
	}
	e := mutation.NewKeepBlockViolation(path, id, mutation.BlockInvalid, which+": "+err.Error())
	e.Cause = err
	return e
}

// previewWidth is the display width of BlockInfo.Preview.
const previewWidth = 100

// BlockInfo summarizes a block for operators.
type BlockInfo struct {
	ID        string `json:"id" yaml:"id"`
	StartLine int    `json:"start_line" yaml:"start_line"`
	LineCount int    `json:"line_count" yaml:"line_count"`
	CharCount int    `json:"char_count" yaml:"char_count"`
	Preview   string `json:"preview" yaml:"preview"`
}

// Info lists the blocks of content, sorted by start line.
func Info(content string) ([]BlockInfo, error) {
	blocks, err := Blocks(content)
	if err != nil {
		return nil, err
	}
	out := make([]BlockInfo, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, BlockInfo{
			ID:        b.ID,
			StartLine: b.StartLine,
			LineCount: b.EndLine - b.StartLine + 1,
			CharCount: len([]rune(b.Text)),
			Preview:   runewidth.Truncate(b.Text, previewWidth, "..."),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartLine < out[j].StartLine })
	return out, nil
}
