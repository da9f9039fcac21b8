package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fulmenhq/reface/internal/contract"
	"github.com/fulmenhq/reface/internal/ledger"
	"github.com/fulmenhq/reface/internal/mutation"
	"github.com/fulmenhq/reface/internal/pathpolicy"
	"github.com/fulmenhq/reface/internal/runrecord"
	"github.com/fulmenhq/reface/pkg/buildinfo"
	"github.com/fulmenhq/reface/pkg/config"
	"github.com/fulmenhq/reface/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threadID = "thread-1"

// failingExec makes every external tool fail so only the manual strategy can succeed.
type failingExec struct{}

func (failingExec) Execute(_ context.Context, _ tools.ExecuteOptions) (*tools.ExecuteResult, error) {
	return &tools.ExecuteResult{ExitCode: 1, Stderr: []byte("error: patch failed")}, nil
}
func (failingExec) IsAvailable(string) bool { return false }
func (failingExec) Name() string            { return "failing" }

type recordingPoster struct {
	mu        sync.Mutex
	summaries []string
}

func (r *recordingPoster) Post(_ context.Context, _, summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, summary)
	return nil
}

func (r *recordingPoster) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.summaries) == 0 {
		return ""
	}
	return r.summaries[len(r.summaries)-1]
}

// freshGenerator rewrites the file against whatever hash it is handed.
type freshGenerator struct {
	calls []GenerationContext
	body  string
}

func (g *freshGenerator) Generate(_ context.Context, gc GenerationContext) (Generation, error) {
	g.calls = append(g.calls, gc)
	return Generation{
		Output:           contractJSON(gc.Path, gc.PreHash, g.body, 0.9),
		Model:            "test-model",
		PromptTokens:     120,
		CompletionTokens: 40,
		Cost:             0.01,
	}, nil
}

type staticLister []string

func (s staticLister) ChangedPaths(context.Context, string, string) ([]string, error) {
	return s, nil
}

type mapSource map[string]string

func (m mapSource) FileAt(_ context.Context, rev, path string) ([]byte, error) {
	if c, ok := m[rev+":"+path]; ok {
		return []byte(c), nil
	}
	return nil, errors.New("not found")
}

func contractJSON(path, preHash, body string, confidence float64) string {
	b, _ := json.Marshal(map[string]interface{}{
		"file_path":   path,
		"pre_hash":    preHash,
		"new_content": body,
		"changelog":   []string{"rewrite " + path},
		"confidence":  confidence,
	})
	return string(b)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Pipeline.AutoFormat = false
	cfg.Pipeline.SyntaxValidation = false
	cfg.Pipeline.GitCommit = false
	cfg.Ledger.LockTimeout = 500 * time.Millisecond
	cfg.Ledger.PollInterval = 10 * time.Millisecond
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config) (*Pipeline, *recordingPoster, string) {
	t.Helper()
	dir := t.TempDir()
	p, err := New(context.Background(), cfg, dir, failingExec{})
	require.NoError(t, err)
	poster := &recordingPoster{}
	p.Poster = poster
	return p, poster, dir
}

func decisionKinds(t *testing.T, s *ledger.Store) []string {
	t.Helper()
	doc, err := s.Load(threadID)
	require.NoError(t, err)
	var kinds []string
	for _, d := range doc.Decisions {
		kinds = append(kinds, d.Kind)
	}
	return kinds
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	abs := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

const newFileDiff = "```diff\n--- /dev/null\n+++ b/app/x.py\n@@ -0,0 +1,3 @@\n+import os\n+def x():\n+    return os.getcwd()\n```\n"

func TestApplyDiffCreatesFileThroughManualStrategy(t *testing.T) {
	p, poster, dir := newTestPipeline(t, testConfig())

	out, err := p.ApplyDiff(context.Background(), threadID, "Here is the fix:\n"+newFileDiff)
	require.NoError(t, err)
	assert.Equal(t, "manual", out.Strategy)
	assert.Equal(t, []string{"app/x.py"}, out.Files)
	assert.False(t, out.Preflight.OK)
	assert.Empty(t, out.CommitSHA)

	got, err := os.ReadFile(filepath.Join(dir, "app", "x.py"))
	require.NoError(t, err)
	assert.Equal(t, "import os\ndef x():\n    return os.getcwd()\n", string(got))

	doc, err := p.Ledger.Load(threadID)
	require.NoError(t, err)
	require.NotNil(t, doc.DevFix.Preflight)
	assert.False(t, doc.DevFix.Preflight.OK)
	assert.Contains(t, doc.Snapshots, "app/x.py")
	assert.Equal(t, contract.ContentHash(got), doc.Snapshots["app/x.py"].Hash)
	assert.Equal(t, []string{DecisionApplied}, decisionKinds(t, p.Ledger))
	assert.Len(t, poster.summaries, 1)
}

func TestApplyDiffScopeViolationRecordsDecision(t *testing.T) {
	p, poster, dir := newTestPipeline(t, testConfig())
	raw := "```diff\n--- /dev/null\n+++ b/app/x.py\n@@ -0,0 +1 @@\n+x = 1\n--- /dev/null\n+++ b/secrets/key.pem\n@@ -0,0 +1 @@\n+KEY\n```"

	_, err := p.ApplyDiff(context.Background(), threadID, raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mutation.ErrScopeViolation))
	assert.Contains(t, err.Error(), "secrets/key.pem")

	_, statErr := os.Stat(filepath.Join(dir, "app", "x.py"))
	assert.True(t, os.IsNotExist(statErr), "no destination may be written when any is rejected")
	assert.Equal(t, []string{"ScopeViolation"}, decisionKinds(t, p.Ledger))
	require.Len(t, poster.summaries, 1)
	assert.Contains(t, poster.summaries[0], "ScopeViolation")
}

func TestApplyDiffGuardsDeletedPaths(t *testing.T) {
	cfg := testConfig()
	cfg.Scope.ProjectRoot = "projects/alpha"
	p, _, dir := newTestPipeline(t, cfg)
	writeFile(t, dir, "projects/alpha/a.py", "x = 1\n")
	writeFile(t, dir, "secrets/key.pem", "KEY\n")
	raw := "```diff\n--- a/projects/alpha/a.py\n+++ b/projects/alpha/a.py\n@@ -1 +1 @@\n-x = 1\n+x = 2\n" +
		"--- a/secrets/key.pem\n+++ /dev/null\n@@ -1 +0,0 @@\n-KEY\n```"

	_, err := p.ApplyDiff(context.Background(), threadID, raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mutation.ErrScopeViolation))
	assert.Contains(t, err.Error(), "secrets/key.pem")

	key, err := os.ReadFile(filepath.Join(dir, "secrets", "key.pem"))
	require.NoError(t, err)
	assert.Equal(t, "KEY\n", string(key))
	a, err := os.ReadFile(filepath.Join(dir, "projects", "alpha", "a.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", string(a))
	assert.Equal(t, []string{"ScopeViolation"}, decisionKinds(t, p.Ledger))
}

func TestApplyDiffRecordsRunArtifacts(t *testing.T) {
	cfg := testConfig()
	cfg.Artifacts.Enabled = true
	p, _, _ := newTestPipeline(t, cfg)
	require.NotNil(t, p.Recorder)

	_, err := p.ApplyDiff(context.Background(), threadID, newFileDiff)
	require.NoError(t, err)

	for _, name := range []string{runrecord.MetadataFile, runrecord.ModelRawFile, runrecord.PayloadFile} {
		_, statErr := os.Stat(filepath.Join(p.Recorder.Dir, name))
		assert.NoError(t, statErr, name)
	}
	data, err := os.ReadFile(filepath.Join(p.Recorder.Dir, runrecord.MetadataFile))
	require.NoError(t, err)
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.Equal(t, threadID, meta["thread"])
	assert.Equal(t, "diff", meta["operation"])
	assert.Equal(t, buildinfo.BinaryVersion, meta["reface_version"])
	assert.Equal(t, p.Recorder.RunID, meta["run_id"])
}

func TestApplyDiffExtractionFailure(t *testing.T) {
	p, _, _ := newTestPipeline(t, testConfig())

	_, err := p.ApplyDiff(context.Background(), threadID, "I could not produce a patch this time.")
	require.Error(t, err)
	assert.Equal(t, mutation.ExtractionFailed, mutation.KindOf(err))
	assert.Equal(t, []string{"ExtractionFailed"}, decisionKinds(t, p.Ledger))
}

func TestApplyDiffDryRunLeavesTreeUntouched(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.DryRun = true
	p, _, dir := newTestPipeline(t, cfg)

	out, err := p.ApplyDiff(context.Background(), threadID, newFileDiff)
	require.NoError(t, err)
	assert.True(t, out.DryRun)
	assert.Empty(t, out.Strategy)

	_, statErr := os.Stat(filepath.Join(dir, "app", "x.py"))
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, []string{DecisionDryRun}, decisionKinds(t, p.Ledger))
}

func TestApplyContractWritesFile(t *testing.T) {
	p, poster, dir := newTestPipeline(t, testConfig())
	writeFile(t, dir, "app/main.py", "print('old')\n")

	gc, err := p.Prepare(context.Background(), threadID, "app/main.py")
	require.NoError(t, err)
	assert.Equal(t, "print('old')\n", gc.Content)

	body, err := json.Marshal(map[string]interface{}{
		"file_path":   "app/main.py",
		"pre_hash":    gc.PreHash,
		"new_content": "print('new')\n",
		"changelog":   []string{"ping @org/security; rm -rf / `id`"},
		"confidence":  0.9,
	})
	require.NoError(t, err)
	raw := "```json\n" + string(body) + "\n```"
	out, err := p.ApplyContract(context.Background(), threadID, raw, "app/main.py")
	require.NoError(t, err)
	assert.True(t, out.Written)

	got, err := os.ReadFile(filepath.Join(dir, "app", "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('new')\n", string(got))

	doc, err := p.Ledger.Load(threadID)
	require.NoError(t, err)
	assert.Equal(t, out.NewHash, doc.Snapshots["app/main.py"].Hash)
	assert.Equal(t, []string{DecisionApplied}, decisionKinds(t, p.Ledger))

	summary := poster.last()
	assert.Contains(t, summary, "rewrote app/main.py")
	assert.Contains(t, summary, "org/security")
	for _, bad := range []string{"@", ";", "`"} {
		assert.NotContains(t, summary, bad)
	}
	assert.Equal(t, summary, doc.Decisions[len(doc.Decisions)-1].Note)
}

func TestApplyContractRetriesBaseChanged(t *testing.T) {
	p, _, dir := newTestPipeline(t, testConfig())
	writeFile(t, dir, "app/main.py", "print('edited elsewhere')\n")
	gen := &freshGenerator{body: "print('merged')\n"}
	p.Generator = gen

	stale := contract.ContentHash([]byte("print('old')\n"))
	out, err := p.ApplyContract(context.Background(), threadID, contractJSON("app/main.py", stale, "print('new')\n", 0.9), "app/main.py")
	require.NoError(t, err)
	assert.True(t, out.Written)

	require.Len(t, gen.calls, 1)
	assert.Equal(t, 1, gen.calls[0].Attempt)
	assert.Equal(t, "print('edited elsewhere')\n", gen.calls[0].Content)
	assert.Contains(t, gen.calls[0].LastError, "BaseChanged")

	got, err := os.ReadFile(filepath.Join(dir, "app", "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('merged')\n", string(got))
	assert.Equal(t, []string{DecisionRetry, DecisionApplied}, decisionKinds(t, p.Ledger))

	doc, err := p.Ledger.Load(threadID)
	require.NoError(t, err)
	assert.Equal(t, "test-model", doc.DevFix.Model)
	assert.NotEmpty(t, doc.DevFix.LastPromptHash)
	assert.Equal(t, 120, doc.Telemetry.Tokens.Prompt)
	assert.Equal(t, 40, doc.Telemetry.Tokens.Completion)
	assert.InDelta(t, 0.01, doc.Telemetry.CostEstimate, 1e-9)
}

func TestRestoreUndoesContract(t *testing.T) {
	p, poster, dir := newTestPipeline(t, testConfig())
	writeFile(t, dir, "app/main.py", "print('old')\n")

	pre := contract.ContentHash([]byte("print('old')\n"))
	_, err := p.ApplyContract(context.Background(), threadID, contractJSON("app/main.py", pre, "print('new')\n", 0.9), "app/main.py")
	require.NoError(t, err)

	snap, err := p.Restore(context.Background(), threadID, "app/main.py")
	require.NoError(t, err)
	assert.Equal(t, pre, snap.Hash)

	got, err := os.ReadFile(filepath.Join(dir, "app", "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('old')\n", string(got))
	assert.Equal(t, []string{DecisionApplied, DecisionRestore}, decisionKinds(t, p.Ledger))
	assert.Contains(t, poster.last(), "restored app/main.py")
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	p, _, dir := newTestPipeline(t, testConfig())
	writeFile(t, dir, "app/main.py", "print('old')\n")

	_, err := p.Restore(context.Background(), threadID, "app/main.py")
	require.Error(t, err)

	_, err = p.Restore(context.Background(), threadID, "secrets/key.pem")
	assert.Equal(t, mutation.ScopeViolation, mutation.KindOf(err))
}

func TestApplyContractRejections(t *testing.T) {
	const original = "print('edited elsewhere')\n"
	stale := contract.ContentHash([]byte("print('old')\n"))
	current := contract.ContentHash([]byte(original))

	tests := []struct {
		name       string
		maxRetries int
		generator  bool
		raw        string
		kind       mutation.Kind
		wantNoGen  bool
		decisions  []string
	}{
		{
			name:       "retries exhausted",
			maxRetries: 0,
			generator:  true,
			raw:        contractJSON("app/main.py", stale, "x = 1\n", 0.9),
			kind:       mutation.BaseChanged,
			decisions:  []string{"BaseChanged"},
		},
		{
			name:       "no generator",
			maxRetries: 1,
			raw:        contractJSON("app/main.py", stale, "x = 1\n", 0.9),
			kind:       mutation.BaseChanged,
			wantNoGen:  true,
			decisions:  []string{"BaseChanged"},
		},
		{
			name:       "low confidence is not retried",
			maxRetries: 1,
			generator:  true,
			raw:        contractJSON("app/main.py", current, "x = 1\n", 0.2),
			kind:       mutation.LowConfidence,
			decisions:  []string{"LowConfidence"},
		},
		{
			name:       "path mismatch",
			maxRetries: 1,
			generator:  true,
			raw:        contractJSON("app/other.py", current, "x = 1\n", 0.9),
			kind:       mutation.PathMismatch,
			decisions:  []string{"PathMismatch"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Pipeline.MaxRetries = tt.maxRetries
			p, _, dir := newTestPipeline(t, cfg)
			writeFile(t, dir, "app/main.py", original)
			gen := &freshGenerator{body: "y = 2\n"}
			if tt.generator {
				p.Generator = gen
			}

			_, err := p.ApplyContract(context.Background(), threadID, tt.raw, "app/main.py")
			require.Error(t, err)
			assert.Equal(t, tt.kind, mutation.KindOf(err))
			assert.Equal(t, tt.wantNoGen, errors.Is(err, ErrNoGenerator))
			assert.Empty(t, gen.calls)

			got, err := os.ReadFile(filepath.Join(dir, "app", "main.py"))
			require.NoError(t, err)
			assert.Equal(t, original, string(got))
			assert.Equal(t, tt.decisions, decisionKinds(t, p.Ledger))
		})
	}
}

func TestApplyContractOutsideScope(t *testing.T) {
	cfg := testConfig()
	cfg.Scope.ProjectRoot = "projects/alpha"
	p, _, _ := newTestPipeline(t, cfg)

	raw := contractJSON("projects/beta/app.py", contract.ContentHash(nil), "x = 1\n", 0.9)
	_, err := p.ApplyContract(context.Background(), threadID, raw, "projects/beta/app.py")
	require.Error(t, err)
	assert.Equal(t, mutation.ScopeViolation, mutation.KindOf(err))
}

func TestPrepareReadsBaseContent(t *testing.T) {
	p, _, dir := newTestPipeline(t, testConfig())
	writeFile(t, dir, "app/main.py", "print('now')\n")
	p.Source = mapSource{"abc123:app/main.py": "print('then')\n"}
	_, err := p.Ledger.SetBase(context.Background(), threadID, "abc123", "main")
	require.NoError(t, err)

	gc, err := p.Prepare(context.Background(), threadID, "app/main.py")
	require.NoError(t, err)
	assert.Equal(t, "print('then')\n", gc.Base)
	assert.Equal(t, contract.ContentHash([]byte("print('now')\n")), gc.PreHash)

	doc, err := p.Ledger.Load(threadID)
	require.NoError(t, err)
	snap := doc.Snapshots["app/main.py"]
	assert.Equal(t, gc.PreHash, snap.Hash)
	assert.NotEmpty(t, snap.ContentRef)
}

func TestPrepareCollectsRelatedFiles(t *testing.T) {
	p, _, dir := newTestPipeline(t, testConfig())
	writeFile(t, dir, "app/main.py", "import util\n")
	writeFile(t, dir, "app/util.py", "def helper():\n    return 1\n")
	_, err := p.Ledger.SetScope(context.Background(), threadID, []string{"app/main.py", "app/util.py"}, nil)
	require.NoError(t, err)

	gc, err := p.Prepare(context.Background(), threadID, "app/main.py")
	require.NoError(t, err)
	require.Len(t, gc.Related, 1)
	assert.Equal(t, "app/util.py", gc.Related[0].Path)
	assert.Contains(t, gc.Related[0].Content, "def helper")
}

func TestPrepareMissingFile(t *testing.T) {
	p, _, _ := newTestPipeline(t, testConfig())

	gc, err := p.Prepare(context.Background(), threadID, "app/new.py")
	require.NoError(t, err)
	assert.Empty(t, gc.Content)
	assert.Equal(t, contract.ContentHash(nil), gc.PreHash)
}

func TestCheckChanges(t *testing.T) {
	p, _, _ := newTestPipeline(t, testConfig())

	paths, err := p.CheckChanges(context.Background(), threadID, staticLister{"app/a.py", "docs/guide.md"}, "HEAD~1", "HEAD")
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	_, err = p.CheckChanges(context.Background(), threadID, staticLister{"app/a.py", "secrets/key.pem"}, "HEAD~1", "HEAD")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mutation.ErrScopeViolation))
	assert.Equal(t, []string{"ScopeViolation"}, decisionKinds(t, p.Ledger))
}

func TestCheckChangesWithoutRepository(t *testing.T) {
	p, _, _ := newTestPipeline(t, testConfig())
	_, err := p.CheckChanges(context.Background(), threadID, nil, "HEAD~1", "HEAD")
	require.Error(t, err)
}

func TestStartThreadDetectsProject(t *testing.T) {
	p, _, dir := newTestPipeline(t, testConfig())
	writeFile(t, dir, "pyproject.toml", "[project]\nname = \"demo\"\n")
	writeFile(t, dir, "app/main.py", "print(1)\n")

	t.Setenv(pathpolicy.ProjectRootEnv, "")
	doc, err := p.StartThread(context.Background(), threadID, ThreadOrigin{})
	require.NoError(t, err)
	require.NotNil(t, doc.ProjectStructure)
	assert.Equal(t, "demo", doc.ProjectStructure.Name)
	assert.Empty(t, doc.BaseSHA)
}

func TestStartThreadResolvesProjectRootFromOrigin(t *testing.T) {
	t.Setenv(pathpolicy.ProjectRootEnv, "")
	tests := []struct {
		name   string
		origin ThreadOrigin
		want   string
	}{
		{"tag", ThreadOrigin{Text: "Fix login\nProject: Alpha"}, "projects/alpha"},
		{"issue", ThreadOrigin{Text: "Broken login", Issue: 42}, "projects/issue-42-broken-login"},
		{"pull request", ThreadOrigin{PR: 7}, "projects/pr-7"},
		{"none", ThreadOrigin{Text: "no tag here"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, _ := newTestPipeline(t, testConfig())
			doc, err := p.StartThread(context.Background(), threadID, tt.origin)
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.ProjectRoot)
		})
	}
}

func TestThreadProjectRootScopesLaterRuns(t *testing.T) {
	t.Setenv(pathpolicy.ProjectRootEnv, "")
	p, _, dir := newTestPipeline(t, testConfig())
	_, err := p.StartThread(context.Background(), threadID, ThreadOrigin{Text: "[project:alpha]"})
	require.NoError(t, err)

	// a fresh pipeline over the same tree picks the root up from the ledger
	again, err := New(context.Background(), testConfig(), dir, failingExec{})
	require.NoError(t, err)
	again.Poster = &recordingPoster{}

	_, err = again.ApplyDiff(context.Background(), threadID, newFileDiff)
	require.Error(t, err)
	assert.Equal(t, mutation.ScopeViolation, mutation.KindOf(err))
	assert.Equal(t, "projects/alpha", again.Scope.Root)
	assert.NoFileExists(t, filepath.Join(dir, "app", "x.py"))
}
