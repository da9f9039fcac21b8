package contract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fulmenhq/reface/internal/formatting"
	"github.com/fulmenhq/reface/internal/gitctx"
	"github.com/fulmenhq/reface/internal/mutation"
	"github.com/fulmenhq/reface/pkg/tools"
	git "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyntax struct {
	reject string
	calls  int
}

func (f *fakeSyntax) Check(_ context.Context, path string, content []byte) error {
	f.calls++
	if f.reject != "" && bytes.Contains(content, []byte(f.reject)) {
		return mutation.NewSyntaxInvalid(path, "python", 1, 1, "ERROR")
	}
	return nil
}

// upperFormatter upper-cases everything outside frozen keep blocks.
type upperFormatter struct{}

func (upperFormatter) Format(_ context.Context, _ string, content []byte) formatting.Result {
	lines := strings.Split(string(content), "\n")
	for i, l := range lines {
		if !strings.Contains(l, "__REFACE_KEEP_") {
			lines[i] = strings.ToUpper(l)
		}
	}
	return formatting.Result{Content: []byte(strings.Join(lines, "\n")), Formatted: true, Tools: []string{"upper"}}
}

type recordingCommitter struct {
	messages []string
	sha      string
}

func (r *recordingCommitter) Commit(_ context.Context, _ string, message string, _ gitctx.Signature) (string, error) {
	r.messages = append(r.messages, message)
	return r.sha, nil
}

func newTestValidator(root string) (*Validator, *recordingCommitter) {
	committer := &recordingCommitter{sha: "abc123"}
	v := NewValidator(Options{
		Root:             root,
		MinConfidence:    0.75,
		MaxContentSize:   1_000_000,
		KeepBlocks:       true,
		SyntaxValidation: true,
		GitCommit:        true,
	}, &fakeSyntax{reject: "def broken("}, nil)
	v.Committer = committer
	return v, committer
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(b)
}

func TestApplyWritesAndCommits(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/x.py", "x = 1\n")
	v, committer := newTestValidator(root)

	c := &Contract{
		FilePath:   "app/x.py",
		PreHash:    ContentHash([]byte("x = 1\n")),
		NewContent: "x = 2\n\n\n",
		Changelog:  []string{"bump x"},
		Confidence: 0.9,
	}
	out, err := v.Apply(context.Background(), c, "app/x.py")
	require.NoError(t, err)
	assert.Equal(t, "x = 2\n", readFile(t, root, "app/x.py"))
	assert.Equal(t, ContentHash([]byte("x = 2\n")), out.NewHash)
	assert.True(t, out.Written)
	assert.Equal(t, "abc123", out.CommitSHA)
	assert.Equal(t, []string{"reface: x.py - bump x"}, committer.messages)

	var gates []string
	for _, g := range out.Gates {
		gates = append(gates, g.Gate)
	}
	assert.Equal(t, []string{GateConfidence, GatePath, GateSize, GateBase, GateKeepPre, GateSyntax, GateKeepPost, GateWrite, GateSmoke, GateCommit}, gates)

	// Re-running the same contract must fail: the base moved.
	_, err = v.Apply(context.Background(), c, "app/x.py")
	assert.ErrorIs(t, err, mutation.ErrBaseChanged)
	assert.Len(t, committer.messages, 1)
}

func TestApplyRejectsSymlinkOutOfRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "app")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	v, committer := newTestValidator(root)

	c := &Contract{FilePath: "app/x.py", PreHash: ContentHash(nil), NewContent: "x = 1\n", Confidence: 1}
	_, err := v.Apply(context.Background(), c, "app/x.py")
	require.Error(t, err)
	assert.Equal(t, mutation.UnsafePath, mutation.KindOf(err))
	assert.NoFileExists(t, filepath.Join(outside, "x.py"))
	assert.Empty(t, committer.messages)
}

func TestApplyCreatesMissingFile(t *testing.T) {
	root := t.TempDir()
	v, _ := newTestValidator(root)
	c := &Contract{FilePath: "app/new.py", PreHash: ContentHash(nil), NewContent: "y = 1", Confidence: 1}
	_, err := v.Apply(context.Background(), c, "app/new.py")
	require.NoError(t, err)
	assert.Equal(t, "y = 1\n", readFile(t, root, "app/new.py"))
}

func TestApplyRejections(t *testing.T) {
	const original = "import os\n# >>> KEEP:cfg\nTOKEN = 'x'\n# <<< KEEP:cfg\n"
	okHash := ContentHash([]byte(original))

	tests := []struct {
		name     string
		contract Contract
		expected string
		kind     mutation.Kind
	}{
		{
			name:     "base changed",
			contract: Contract{FilePath: "app/x.py", PreHash: ContentHash([]byte("stale")), NewContent: original, Confidence: 0.9},
			expected: "app/x.py",
			kind:     mutation.BaseChanged,
		},
		{
			name:     "low confidence",
			contract: Contract{FilePath: "app/x.py", PreHash: okHash, NewContent: original + "z = 1\n", Confidence: 0.4},
			expected: "app/x.py",
			kind:     mutation.LowConfidence,
		},
		{
			name:     "keep block removed",
			contract: Contract{FilePath: "app/x.py", PreHash: okHash, NewContent: "import os\n", Confidence: 0.9},
			expected: "app/x.py",
			kind:     mutation.KeepBlockViolation,
		},
		{
			name: "keep block modified",
			contract: Contract{FilePath: "app/x.py", PreHash: okHash, Confidence: 0.9,
				NewContent: "import os\n# >>> KEEP:cfg\nTOKEN = 'y'\n# <<< KEEP:cfg\n"},
			expected: "app/x.py",
			kind:     mutation.KeepBlockViolation,
		},
		{
			name:     "path mismatch",
			contract: Contract{FilePath: "app/y.py", PreHash: okHash, NewContent: original, Confidence: 0.9},
			expected: "app/x.py",
			kind:     mutation.PathMismatch,
		},
		{
			name:     "unsafe path",
			contract: Contract{FilePath: "../x.py", PreHash: okHash, NewContent: original, Confidence: 0.9},
			expected: "../x.py",
			kind:     mutation.UnsafePath,
		},
		{
			name:     "oversize",
			contract: Contract{FilePath: "app/x.py", PreHash: okHash, NewContent: strings.Repeat("a", 101), Confidence: 0.9},
			expected: "app/x.py",
			kind:     mutation.OversizeContent,
		},
		{
			name:     "syntax invalid",
			contract: Contract{FilePath: "app/x.py", PreHash: okHash, NewContent: original + "def broken(\n", Confidence: 0.9},
			expected: "app/x.py",
			kind:     mutation.SyntaxInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, root, "app/x.py", original)
			v, committer := newTestValidator(root)
			v.MaxContentSize = 100

			c := tt.contract
			out, err := v.Apply(context.Background(), &c, tt.expected)
			require.Error(t, err)
			assert.Nil(t, out)
			assert.Equal(t, tt.kind, mutation.KindOf(err), "error: %v", err)
			assert.Equal(t, original, readFile(t, root, "app/x.py"), "file must be untouched")
			assert.Empty(t, committer.messages, "nothing may be committed")
		})
	}
}

func TestApplyDryRun(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/x.py", "x = 1\n")
	v, committer := newTestValidator(root)
	v.DryRun = true

	c := &Contract{FilePath: "app/x.py", PreHash: ContentHash([]byte("x = 1\n")), NewContent: "x = 3\n", Confidence: 0.9}
	out, err := v.Apply(context.Background(), c, "app/x.py")
	require.NoError(t, err)
	assert.True(t, out.DryRun)
	assert.False(t, out.Written)
	assert.Equal(t, ContentHash([]byte("x = 3\n")), out.NewHash)
	assert.Equal(t, "x = 1\n", readFile(t, root, "app/x.py"))
	assert.Empty(t, committer.messages)
}

func TestApplyFormatsAroundKeepBlocks(t *testing.T) {
	root := t.TempDir()
	original := "a = 1\n# >>> KEEP:raw\nkeep_me = 'lower'\n# <<< KEEP:raw\n"
	writeFile(t, root, "app/x.py", original)
	v, _ := newTestValidator(root)
	v.AutoFormat = true
	v.Formatter = upperFormatter{}

	c := &Contract{FilePath: "app/x.py", PreHash: ContentHash([]byte(original)), NewContent: original + "b = 2\n", Confidence: 0.9}
	out, err := v.Apply(context.Background(), c, "app/x.py")
	require.NoError(t, err)
	assert.True(t, out.Formatted)
	assert.Equal(t, "A = 1\n# >>> KEEP:raw\nkeep_me = 'lower'\n# <<< KEEP:raw\nB = 2\n", readFile(t, root, "app/x.py"))
}

// timeoutExec reports every tool as installed and every run as timed out.
type timeoutExec struct{ calls int }

func (e *timeoutExec) Execute(_ context.Context, opts tools.ExecuteOptions) (*tools.ExecuteResult, error) {
	e.calls++
	return &tools.ExecuteResult{ExitCode: -1}, fmt.Errorf("%w: %s after 1ms", tools.ErrTimeout, opts.Tool)
}
func (e *timeoutExec) IsAvailable(string) bool { return true }
func (e *timeoutExec) Name() string { return "timeout" }

func TestApplyFormatsTimeoutKeepsUnformatted(t *testing.T) {
	root := t.TempDir()
	v, _ := newTestValidator(root)
	runner := &timeoutExec{}
	v.AutoFormat = true
	v.Formatter = formatting.New(runner, func(string) time.Duration { return time.Millisecond })

	c := &Contract{FilePath: "app/x.py", PreHash: ContentHash(nil), NewContent: "x  =  1\n", Confidence: 0.9}
	out, err := v.Apply(context.Background(), c, "app/x.py")
	require.NoError(t, err)
	assert.False(t, out.Formatted)
	assert.Equal(t, 2, runner.calls, "ruff and black are both attempted")
	assert.Equal(t, "x  =  1\n", readFile(t, root, "app/x.py"))
}

func TestApplyCommitsWithGoGit(t *testing.T) {
	root := t.TempDir()
	_, err := git.PlainInit(root, false)
	require.NoError(t, err)
	v := NewValidator(Options{Root: root, MinConfidence: 0.5, GitCommit: true}, nil, nil)
	ctx := context.Background()

	c := &Contract{FilePath: "app/x.py", PreHash: ContentHash(nil), NewContent: "x = 1\n", Changelog: []string{"create"}, Confidence: 0.9}
	out, err := v.Apply(ctx, c, "app/x.py")
	require.NoError(t, err)
	assert.Len(t, out.CommitSHA, 40)

	// Identical rewrite: base matches, nothing staged, commit is a no-op.
	same := &Contract{FilePath: "app/x.py", PreHash: ContentHash([]byte("x = 1\n")), NewContent: "x = 1\n", Confidence: 0.9}
	out, err = v.Apply(ctx, same, "app/x.py")
	require.NoError(t, err)
	assert.True(t, out.Written)
	assert.Empty(t, out.CommitSHA)
}

func TestApplyWithoutRepositorySkipsCommit(t *testing.T) {
	root := t.TempDir()
	v := NewValidator(Options{Root: root, GitCommit: true}, nil, nil)
	c := &Contract{FilePath: "a.txt", PreHash: ContentHash(nil), NewContent: "hi", Confidence: 1}
	out, err := v.Apply(context.Background(), c, "a.txt")
	require.NoError(t, err)
	assert.True(t, out.Written)
	assert.Empty(t, out.CommitSHA)
}
