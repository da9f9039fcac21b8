package keepblock

import (
	"errors"
	"strings"
	"testing"

	"github.com/fulmenhq/reface/internal/mutation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const authFile = `import os

# >>> KEEP:auth
def check_token(tok):
    return tok == os.environ["TOKEN"]
# <<< KEEP:auth

def handler():
    pass
`

func TestBlocks(t *testing.T) {
	blocks, err := Blocks(authFile)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	b := blocks[0]
	assert.Equal(t, "auth", b.ID)
	assert.Equal(t, 3, b.StartLine)
	assert.Equal(t, 6, b.EndLine)
	assert.True(t, strings.HasPrefix(b.Text, "# >>> KEEP:auth\n"))
	assert.True(t, strings.HasSuffix(b.Text, "# <<< KEEP:auth"))
}

func TestBlocksCommentLeaders(t *testing.T) {
	content := "// >>> KEEP:a\nx := 1\n// <<< KEEP:a\n-- >>> KEEP:b-2\nselect 1;\n-- <<< KEEP:b-2\n/* >>> KEEP:c_3 */\n/* <<< KEEP:c_3 */\n"
	m, err := Extract(content)
	require.NoError(t, err)
	assert.Len(t, m, 3)
	assert.Contains(t, m, "b-2")
	assert.Contains(t, m, "c_3")
}

func TestBlocksMalformed(t *testing.T) {
	tests := map[string]string{
		"nested":     "# >>> KEEP:a\n# >>> KEEP:b\n# <<< KEEP:b\n# <<< KEEP:a\n",
		"mismatched": "# >>> KEEP:a\n# <<< KEEP:b\n",
		"stray end":  "x\n# <<< KEEP:a\n",
		"duplicate":  "# >>> KEEP:a\n# <<< KEEP:a\n# >>> KEEP:a\n# <<< KEEP:a\n",
		"unclosed":   "# >>> KEEP:a\nbody\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Blocks(content)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestVerify(t *testing.T) {
	withNew := authFile + "\n# >>> KEEP:extra\nX = 1\n# <<< KEEP:extra\n"
	moved := strings.Replace(authFile, "def handler():\n    pass\n", "", 1)
	moved = "def handler():\n    pass\n\n" + moved

	tests := []struct {
		name   string
		after  string
		change mutation.BlockChange
	}{
		{"unchanged", authFile, ""},
		{"new block allowed", withNew, ""},
		{"block moved", moved, ""},
		{"removed", "import os\n\ndef handler():\n    pass\n", mutation.BlockRemoved},
		{"modified", strings.Replace(authFile, "TOKEN", "SECRET", 1), mutation.BlockModified},
		{"broken markers", strings.Replace(authFile, "# <<< KEEP:auth", "", 1), mutation.BlockInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify("app/auth.py", authFile, tt.after)
			if tt.change == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, mutation.ErrKeepBlockViolation))
			var me *mutation.Error
			require.True(t, errors.As(err, &me))
			assert.Equal(t, tt.change, me.BlockChange)
			assert.Equal(t, "app/auth.py", me.Path)
		})
	}
}

func TestInfo(t *testing.T) {
	long := "# >>> KEEP:wide\n" + strings.Repeat("界", 120) + "\n# <<< KEEP:wide\n"
	infos, err := Info(authFile + long)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, "auth", infos[0].ID)
	assert.Equal(t, 3, infos[0].StartLine)
	assert.Equal(t, 4, infos[0].LineCount)

	assert.Equal(t, "wide", infos[1].ID)
	assert.True(t, strings.HasSuffix(infos[1].Preview, "..."))
	assert.LessOrEqual(t, len([]rune(infos[1].Preview)), 100)
}
