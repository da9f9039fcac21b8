package syntax

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fulmenhq/reface/internal/mutation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLanguage(t *testing.T) {
	tests := map[string]string{
		"main.go":       "go",
		"app/x.py":      "python",
		"web/a.jsx":     "javascript",
		"web/a.mjs":     "javascript",
		"web/a.ts":      "typescript",
		"web/a.tsx":     "tsx",
		"src/lib.rs":    "rust",
		"run.sh":        "bash",
		"README.md":     "",
		"Makefile":      "",
		"UPPER/MAIN.GO": "go",
	}
	for path, want := range tests {
		assert.Equal(t, want, Language(path), path)
	}
}

func TestCheckValid(t *testing.T) {
	c := NewChecker(0)
	ctx := context.Background()
	cases := map[string]string{
		"a.go": "package a\n\nfunc A() int { return 1 }\n",
		"a.py": "def a():\n    return 1\n",
		"a.js": "export function a() { return 1; }\n",
		"a.ts": "export const a = (x: number): number => x + 1;\n",
		"a.rs": "fn main() { println!(\"hi\"); }\n",
		"a.sh": "#!/bin/sh\necho hi\n",
		"a.md": "# not code {{{",
	}
	for path, src := range cases {
		assert.NoError(t, c.Check(ctx, path, []byte(src)), path)
	}
}

func TestCheckInvalid(t *testing.T) {
	c := NewChecker(0)
	ctx := context.Background()
	cases := map[string]string{
		"a.go": "package a\n\nfunc A() int { return 1\n",
		"a.py": "def a(:\n    return 1\n",
		"a.js": "function a( { return 1; }\n",
	}
	for path, src := range cases {
		t.Run(path, func(t *testing.T) {
			err := c.Check(ctx, path, []byte(src))
			require.Error(t, err)
			assert.True(t, errors.Is(err, mutation.ErrSyntaxInvalid))
			var me *mutation.Error
			require.True(t, errors.As(err, &me))
			assert.Equal(t, path, me.Path)
			assert.Greater(t, me.Line, 0)
			assert.NotEmpty(t, me.Detail)
		})
	}
}

func TestCheckTimeoutIsFailure(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200_000; i++ {
		fmt.Fprintf(&b, "def f%d(a, b):\n    return [a + b for _ in range(%d)]\n", i, i)
	}
	content := []byte(b.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &Checker{Timeout: time.Nanosecond}
	err := c.Check(ctx, "app/big.py", content)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mutation.ErrSyntaxInvalid))
	assert.Equal(t, mutation.SyntaxInvalid, mutation.KindOf(err))
}
