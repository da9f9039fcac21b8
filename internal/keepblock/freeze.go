package keepblock

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxTokenRetries = 8

type frozenBlock struct {
	token string
	block Block
}

// TokenTable maps opaque tokens back to the blocks they replaced.
type TokenTable struct {
	entries []frozenBlock
}

// Len returns the number of frozen blocks.
func (t *TokenTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Tokens returns the tokens in file order.
func (t *TokenTable) Tokens() []string {
	out := make([]string, 0, t.Len())
	for _, e := range t.entries {
		out = append(out, e.token)
	}
	return out
}

// Freeze replaces each block with a single line holding an opaque token, indented
// like the block's opening marker, so a formatter cannot touch the block.
func Freeze(content string) (string, *TokenTable, error) {
	blocks, err := Blocks(content)
	if err != nil {
		return "", nil, err
	}
	table := &TokenTable{}
	if len(blocks) == 0 {
		return content, table, nil
	}

	used := map[string]bool{}
	for i, b := range blocks {
		tok, err := newToken(i+1, b.ID, content, used)
		if err != nil {
			return "", nil, err
		}
		used[tok] = true
		table.entries = append(table.entries, frozenBlock{token: tok, block: b})
	}

	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	next := 0
	for i := 0; i < len(lines); i++ {
		if next < len(table.entries) && i == table.entries[next].block.StartLine-1 {
			e := table.entries[next]
			out = append(out, leadingSpace(lines[i])+e.token)
			i = e.block.EndLine - 1
			next++
			continue
		}
		out = append(out, lines[i])
	}
	return strings.Join(out, "\n"), table, nil
}

func newToken(n int, id, content string, used map[string]bool) (string, error) {
	for attempt := 0; attempt < maxTokenRetries; attempt++ {
		nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
		tok := fmt.Sprintf("__REFACE_KEEP_%d_%s_%s__", n, strings.ReplaceAll(id, "-", "_"), nonce)
		if !strings.Contains(content, tok) && !used[tok] {
			return tok, nil
		}
	}
	return "", fmt.Errorf("%w: could not generate a unique token for %q", ErrMalformed, id)
}

// Thaw restores every frozen block. Each token must appear exactly once, alone on
// its line; the whole line is replaced by the original block text.
func (t *TokenTable) Thaw(text string) (string, error) {
	if t.Len() == 0 {
		return text, nil
	}
	lines := strings.Split(text, "\n")
	for _, e := range t.entries {
		if c := strings.Count(text, e.token); c != 1 {
			return "", fmt.Errorf("keep block %q: token found %d times after formatting", e.block.ID, c)
		}
		found := false
		for i, line := range lines {
			if !strings.Contains(line, e.token) {
				continue
			}
			if strings.TrimSpace(line) != e.token {
				return "", fmt.Errorf("keep block %q: token shares line %d with other content", e.block.ID, i+1)
			}
			lines[i] = e.block.Text
			found = true
			break
		}
		if !found {
			return "", fmt.Errorf("keep block %q: token missing", e.block.ID)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func leadingSpace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}
