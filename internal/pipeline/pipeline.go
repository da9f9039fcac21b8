// Package pipeline drives a change request from raw generator output to one
// filesystem mutation plus a ledger update. Every failure is recorded as a ledger
// decision and posted before it is returned.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/reface/internal/contract"
	"github.com/fulmenhq/reface/internal/diffapply"
	"github.com/fulmenhq/reface/internal/diffextract"
	"github.com/fulmenhq/reface/internal/formatting"
	"github.com/fulmenhq/reface/internal/gitctx"
	"github.com/fulmenhq/reface/internal/ledger"
	"github.com/fulmenhq/reface/internal/mutation"
	"github.com/fulmenhq/reface/internal/pathpolicy"
	"github.com/fulmenhq/reface/internal/runrecord"
	"github.com/fulmenhq/reface/internal/syntax"
	"github.com/fulmenhq/reface/pkg/buildinfo"
	"github.com/fulmenhq/reface/pkg/config"
	"github.com/fulmenhq/reface/pkg/logger"
	"github.com/fulmenhq/reface/pkg/safeio"
	"github.com/fulmenhq/reface/pkg/tools"
)

// DefaultActor is the decision actor used when Pipeline.Actor is empty.
const DefaultActor = "reface"

// Decision kinds written on success paths. Failures use the error kind name.
const (
	DecisionApplied = "applied"
	DecisionDryRun  = "dry_run"
	DecisionRetry   = "retry"
	DecisionRestore = "restored"
)

// ErrNoGenerator is returned when a retryable failure occurs without a generator to rebuild the contract.
var ErrNoGenerator = errors.New("no contract generator configured")

// Pipeline holds the collaborators for one invocation.
type Pipeline struct {
	Config    *config.Config
	WorkDir   string
	Actor     string
	Ledger    *ledger.Store
	Snapshots *ledger.SnapshotStore
	Guard     *pathpolicy.Guard
	Scope     pathpolicy.Scope
	Engine    *diffapply.Engine
	Validator *contract.Validator
	Generator ContractGenerator
	Poster    AuditPoster
	Recorder  *runrecord.Recorder
	Source    ContentSource
}

// New builds a pipeline rooted at workDir from cfg. Relative ledger, snapshot,
// artifact and policy paths resolve against workDir.
func New(ctx context.Context, cfg *config.Config, workDir string, exec tools.ToolExecutor) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if exec == nil {
		exec = tools.NewExecutor()
	}
	root, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}

	guard := pathpolicy.New(cfg.Scope.Allow, cfg.Scope.Deny)
	if cfg.Scope.PolicyFile != "" {
		policy, err := pathpolicy.LoadPolicy(ctx, under(root, cfg.Scope.PolicyFile))
		if err != nil {
			return nil, err
		}
		guard.Policy = policy
	}

	store := ledger.StoreFromConfig(cfg)
	store.Root = under(root, cfg.Ledger.Root)
	snaps := ledger.NewSnapshotStore(under(root, cfg.Ledger.SnapshotRoot), root)
	snaps.Lock = store.Lock

	var rec *runrecord.Recorder
	if cfg.Artifacts.Enabled {
		if rec, err = runrecord.New(under(root, cfg.Artifacts.Root), ""); err != nil {
			return nil, err
		}
	}

	engine := diffapply.NewEngine(exec, root, diffapply.Timeouts{
		Check:    cfg.Timeouts.Git.Check,
		Apply:    cfg.Timeouts.Git.Apply,
		ThreeWay: cfg.Timeouts.Git.ThreeWay,
		Patch:    cfg.Timeouts.Git.Patch,
	})
	if rec != nil {
		engine.ArtifactDir = rec.Dir
	}

	var syn contract.SyntaxChecker
	if cfg.Pipeline.SyntaxValidation {
		syn = syntax.NewChecker(cfg.Timeouts.Syntax)
	}
	var fmtr contract.ContentFormatter
	if cfg.Pipeline.AutoFormat {
		fmtr = formatting.New(exec, cfg.FormatTimeout)
	}

	p := &Pipeline{
		Config:    cfg,
		WorkDir:   root,
		Actor:     DefaultActor,
		Ledger:    store,
		Snapshots: snaps,
		Guard:     guard,
		Scope:     pathpolicy.NewScope(cfg.Scope.ProjectRoot, cfg.Scope.Exceptions...),
		Engine:    engine,
		Validator: contract.NewValidator(contract.OptionsFromConfig(root, cfg), syn, fmtr),
		Poster:    LogPoster{},
		Recorder:  rec,
	}
	if repo, err := gitctx.Open(root); err == nil {
		p.Source = repo
	} else if !errors.Is(err, gitctx.ErrNotRepository) {
		return nil, err
	}
	return p, nil
}

func under(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, filepath.FromSlash(p))
}

func (p *Pipeline) actor() string {
	if p.Actor == "" {
		return DefaultActor
	}
	return p.Actor
}

// fail records err as a ledger decision, posts its summary and returns it unchanged.
func (p *Pipeline) fail(ctx context.Context, threadID string, err error) error {
	kind := "error"
	if k := mutation.KindOf(err); k != mutation.KindUnknown {
		kind = k.String()
	}
	summary := mutation.Summary(err)
	if _, lerr := p.Ledger.AppendDecision(ctx, threadID, p.actor(), kind, summary); lerr != nil {
		logger.Warn("could not record failure in ledger", logger.String("thread", threadID), logger.Err(lerr))
	}
	p.post(ctx, threadID, summary)
	return err
}

func (p *Pipeline) post(ctx context.Context, threadID, summary string) {
	if p.Poster == nil {
		return
	}
	if err := p.Poster.Post(ctx, threadID, mutation.Sanitize(summary)); err != nil {
		logger.Warn("audit post failed", logger.String("thread", threadID), logger.Err(err))
	}
}

// Check returns every path in paths that the thread may not mutate.
func (p *Pipeline) Check(ctx context.Context, threadID string, paths []string) []pathpolicy.Violation {
	p.threadScope(threadID)
	return p.Guard.Check(ctx, paths, p.Scope)
}

func (p *Pipeline) scopeCheck(ctx context.Context, threadID string, paths []string) error {
	if v := p.Check(ctx, threadID, paths); len(v) > 0 {
		return mutation.NewScopeViolation(pathpolicy.ViolationStrings(v))
	}
	return nil
}

// threadScope adopts the project root recorded for threadID when the
// configuration names none.
func (p *Pipeline) threadScope(threadID string) {
	if p.Config.Scope.ProjectRoot != "" || threadID == "" {
		return
	}
	doc, err := p.Ledger.Load(threadID)
	if err != nil || doc.ProjectRoot == "" || doc.ProjectRoot == p.Scope.Root {
		return
	}
	p.Scope = pathpolicy.NewScope(doc.ProjectRoot, p.Config.Scope.Exceptions...)
}

// ThreadOrigin is what a thread was started from. Its text is searched for a
// project tag and doubles as the issue slug.
type ThreadOrigin struct {
	Text  string
	Issue int
	PR    int
}

// StartThread resolves the thread's project root, then records it with the
// project structure and, inside a repository, the base commit and branch the
// thread works from. A configured project root takes precedence over origin.
func (p *Pipeline) StartThread(ctx context.Context, threadID string, origin ThreadOrigin) (*ledger.Document, error) {
	if p.Config.Scope.ProjectRoot == "" {
		root := pathpolicy.ResolveProjectRoot(os.Getenv(pathpolicy.ProjectRootEnv),
			pathpolicy.ProjectTag(origin.Text), origin.Issue, origin.PR, origin.Text)
		if root != "" {
			p.Scope = pathpolicy.NewScope(root, p.Config.Scope.Exceptions...)
		}
	}
	doc, err := p.Ledger.SetProject(ctx, threadID, p.WorkDir, p.Scope.Root)
	if err != nil {
		return nil, err
	}
	if repo, ok := p.Source.(*gitctx.Repo); ok {
		if sha, branch := repo.Head(); sha != "" {
			return p.Ledger.SetBase(ctx, threadID, sha, branch)
		}
	}
	return doc, nil
}

// Prepare authorizes path, snapshots its current content and returns what a
// generator needs to write a contract against it. A missing file yields empty
// content and the hash of empty content.
func (p *Pipeline) Prepare(ctx context.Context, threadID, path string) (*GenerationContext, error) {
	if err := p.scopeCheck(ctx, threadID, []string{path}); err != nil {
		return nil, p.fail(ctx, threadID, err)
	}
	abs, err := safeio.ResolveContained(p.WorkDir, path)
	if err != nil {
		return nil, p.fail(ctx, threadID, mutation.NewUnsafePath(path, err.Error()))
	}
	content, err := os.ReadFile(abs) // #nosec G304 -- contained in WorkDir
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, p.fail(ctx, threadID, fmt.Errorf("read %s: %w", path, err))
	}

	ref := ""
	if exists && p.Snapshots != nil {
		entry, err := p.Snapshots.Ensure(ctx, path)
		if err != nil {
			logger.Warn("snapshot store failed", logger.String("path", path), logger.Err(err))
		} else {
			ref = entry.ContentPath
		}
	}
	doc, err := p.Ledger.RecordSnapshot(ctx, threadID, path, ledger.SnapshotOf(content, ref))
	if err != nil {
		return nil, err
	}

	gc := &GenerationContext{
		ThreadID:    threadID,
		Path:        path,
		Content:     string(content),
		PreHash:     contract.ContentHash(content),
		ProjectRoot: p.Scope.Root,
	}
	var related []string
	for _, other := range doc.Scope.MustEdit {
		if other != path {
			related = append(related, other)
		}
	}
	if len(related) > 0 {
		gc.Related = ledger.Collect(p.WorkDir, p.Scope.Root, related, ledger.DefaultCollectFiles, ledger.DefaultCharLimit)
	}
	if doc.BaseSHA != "" && p.Source != nil {
		base, err := p.Source.FileAt(ctx, doc.BaseSHA, path)
		if err != nil {
			logger.Debug("no base content", logger.String("path", path), logger.String("base", doc.BaseSHA), logger.Err(err))
		} else {
			gc.Base = string(base)
		}
	}
	return gc, nil
}

// DiffOutcome describes a diff that passed preflight and, unless dry-run, was applied.
type DiffOutcome struct {
	Patch     string                    `json:"patch"`
	Files     []string                  `json:"files"`
	Preflight diffapply.PreflightResult `json:"preflight"`
	Strategy  string                    `json:"strategy,omitempty"`
	Attempts  []string                  `json:"attempts,omitempty"`
	CommitSHA string                    `json:"commit_sha,omitempty"`
	DryRun    bool                      `json:"dry_run,omitempty"`
}

// ApplyDiff extracts a diff from raw, authorizes every path it touches (deleted
// and renamed sources included), runs a preflight check and applies it through
// the strategy chain.
func (p *Pipeline) ApplyDiff(ctx context.Context, threadID, raw string) (*DiffOutcome, error) {
	p.stamp(threadID, "diff")
	p.artifact(runrecord.ModelRawFile, p.Recorder.RecordModelRaw(raw))

	text, err := diffextract.Extract(raw, diffextract.Limits{MaxSize: p.Config.Diff.MaxSize, MaxFiles: p.Config.Diff.MaxFiles})
	if err != nil {
		return nil, p.fail(ctx, threadID, err)
	}
	text = diffextract.NormalizeHeaders(diffextract.Coerce(text), p.WorkDir)

	paths := diffextract.MutatedPaths(text)
	if len(paths) == 0 {
		return nil, p.fail(ctx, threadID, mutation.NewExtractionFailed("diff names no files"))
	}
	if err := p.scopeCheck(ctx, threadID, paths); err != nil {
		return nil, p.fail(ctx, threadID, err)
	}
	p.artifact(runrecord.PayloadFile, p.Recorder.RecordPayload(text))

	out := &DiffOutcome{Patch: text, Files: paths, DryRun: p.Config.Pipeline.DryRun}
	pre, err := p.Engine.Preflight(ctx, text)
	if err != nil {
		logger.Warn("preflight could not run", logger.Err(err))
		pre = diffapply.PreflightResult{Stderr: err.Error()}
	}
	out.Preflight = pre
	if err := p.Recorder.RecordPreflight("", pre.Stderr); err != nil {
		logger.Debug("preflight artifact not saved", logger.Err(err))
	}
	if _, err := p.Ledger.RecordPreflight(ctx, threadID, pre.OK, mutation.Sanitize(pre.Stderr)); err != nil {
		return nil, err
	}

	if out.DryRun {
		note := fmt.Sprintf("preflight ok=%t for %s", pre.OK, strings.Join(paths, ", "))
		if _, err := p.Ledger.AppendDecision(ctx, threadID, p.actor(), DecisionDryRun, note); err != nil {
			return nil, err
		}
		logger.Info("dry run: diff not applied", logger.Strings("files", paths), logger.Bool("preflight_ok", pre.OK))
		return out, nil
	}

	p.snapshotBefore(ctx, paths)
	res, err := p.Engine.Apply(ctx, text)
	if res != nil {
		for _, a := range res.Attempts {
			if !a.Skipped {
				out.Attempts = append(out.Attempts, a.Strategy)
			}
		}
		if rerr := p.Recorder.SaveJSON(runrecord.AttemptsFile, res.Attempts); rerr != nil {
			logger.Debug("attempts artifact not saved", logger.Err(rerr))
		}
	}
	if err != nil {
		return out, p.fail(ctx, threadID, err)
	}
	out.Strategy = res.Strategy

	sha, err := p.commitDiff(ctx, paths, out.Strategy)
	if err != nil {
		return out, p.fail(ctx, threadID, err)
	}
	out.CommitSHA = sha
	if _, err := p.Ledger.RecordApplied(ctx, threadID, sha, text); err != nil {
		return out, err
	}
	p.snapshotAfter(ctx, threadID, paths)

	note := mutation.Sanitize(fmt.Sprintf("diff applied via %s: %s", out.Strategy, strings.Join(paths, ", ")))
	if _, err := p.Ledger.AppendDecision(ctx, threadID, p.actor(), DecisionApplied, note); err != nil {
		return out, err
	}
	p.post(ctx, threadID, note)
	return out, nil
}

func (p *Pipeline) commitDiff(ctx context.Context, paths []string, strategy string) (string, error) {
	if !p.Config.Pipeline.GitCommit {
		return "", nil
	}
	repo, err := gitctx.Open(p.WorkDir)
	if errors.Is(err, gitctx.ErrNotRepository) {
		logger.Warn("not a git repository, skipping commit", logger.String("root", p.WorkDir))
		return "", nil
	}
	if err != nil {
		return "", err
	}
	data := gitctx.MessageData{
		Name:      filepath.Base(paths[0]),
		Path:      paths[0],
		Changelog: []string{"apply diff (" + strategy + ")"},
	}
	if len(paths) > 1 {
		data.Changelog = append(data.Changelog, paths[1:]...)
	}
	msg, err := gitctx.CommitMessage(p.Config.Commit.MessageTemplate, data)
	if err != nil {
		return "", err
	}
	abs := make([]string, 0, len(paths))
	for _, rel := range paths {
		abs = append(abs, filepath.Join(p.WorkDir, filepath.FromSlash(rel)))
	}
	author := gitctx.Signature{Name: p.Config.Commit.AuthorName, Email: p.Config.Commit.AuthorEmail}
	sha, err := repo.CommitPaths(ctx, abs, msg, author)
	if err != nil {
		return "", err
	}
	if sha != "" {
		logger.Info("committed diff", logger.String("sha", sha), logger.Int("files", len(paths)))
	}
	return sha, nil
}

// snapshotBefore indexes the current content of every existing path, so the
// snapshot index always holds the pre-image of the latest mutation.
func (p *Pipeline) snapshotBefore(ctx context.Context, paths []string) {
	var existing []string
	for _, rel := range paths {
		if abs, err := safeio.ResolveContained(p.WorkDir, rel); err == nil {
			if st, err := os.Stat(abs); err == nil && st.Mode().IsRegular() {
				existing = append(existing, rel)
			}
		}
	}
	if len(existing) == 0 {
		return
	}
	if _, err := p.Snapshots.EnsureMany(ctx, existing); err != nil {
		logger.Warn("pre-apply snapshot failed", logger.Strings("paths", existing), logger.Err(err))
	}
}

// snapshotAfter records the post-apply hash of each path in the thread ledger.
// The snapshot index is left pointing at the pre-image.
func (p *Pipeline) snapshotAfter(ctx context.Context, threadID string, paths []string) {
	for _, rel := range paths {
		content, err := safeio.ReadFileContained(p.WorkDir, rel)
		if err != nil {
			logger.Debug("post-apply snapshot skipped", logger.String("path", rel), logger.Err(err))
			continue
		}
		if _, err := p.Ledger.RecordSnapshot(ctx, threadID, rel, ledger.SnapshotOf(content, "")); err != nil {
			logger.Warn("post-apply snapshot not recorded", logger.String("path", rel), logger.Err(err))
		}
	}
}

// Restore writes back the indexed snapshot of path: the content it had before
// its latest accepted mutation, or when it was last prepared.
func (p *Pipeline) Restore(ctx context.Context, threadID, path string) (ledger.Snapshot, error) {
	if err := p.scopeCheck(ctx, threadID, []string{path}); err != nil {
		return ledger.Snapshot{}, p.fail(ctx, threadID, err)
	}
	abs, err := safeio.ResolveContained(p.WorkDir, path)
	if err != nil {
		return ledger.Snapshot{}, p.fail(ctx, threadID, mutation.NewUnsafePath(path, err.Error()))
	}
	content, err := p.Snapshots.Content(path)
	if err != nil {
		return ledger.Snapshot{}, p.fail(ctx, threadID, err)
	}
	snap := ledger.SnapshotOf(content, "")
	if p.Config.Pipeline.DryRun {
		note := fmt.Sprintf("would restore %s to %s", path, snap.Hash)
		if _, err := p.Ledger.AppendDecision(ctx, threadID, p.actor(), DecisionDryRun, note); err != nil {
			return snap, err
		}
		return snap, nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return snap, p.fail(ctx, threadID, fmt.Errorf("restore %s: %w", path, err))
	}
	if err := safeio.WriteFileAtomic(abs, content, 0o644); err != nil {
		return snap, p.fail(ctx, threadID, fmt.Errorf("restore %s: %w", path, err))
	}
	if _, err := p.Ledger.RecordSnapshot(ctx, threadID, path, snap); err != nil {
		return snap, err
	}
	note := fmt.Sprintf("restored %s to %s", path, snap.Hash)
	if _, err := p.Ledger.AppendDecision(ctx, threadID, p.actor(), DecisionRestore, note); err != nil {
		return snap, err
	}
	p.post(ctx, threadID, note)
	return snap, nil
}

// ApplyContract parses raw as a rewrite contract for expectedPath and runs it
// through the validator. A BaseChanged rejection is retried up to
// pipeline.max_retries times with a contract regenerated from the file's current
// content. Other failures are returned immediately.
func (p *Pipeline) ApplyContract(ctx context.Context, threadID, raw, expectedPath string) (*contract.Outcome, error) {
	p.stamp(threadID, "contract")
	if err := p.scopeCheck(ctx, threadID, []string{expectedPath}); err != nil {
		return nil, p.fail(ctx, threadID, err)
	}
	for attempt := 0; ; attempt++ {
		p.artifact(runrecord.ModelRawFile, p.Recorder.RecordModelRaw(raw))
		c, err := contract.ParseContract(raw)
		if err != nil {
			return nil, p.fail(ctx, threadID, err)
		}
		if err := p.Recorder.SaveJSON(runrecord.ContractFile, c); err != nil {
			logger.Debug("contract artifact not saved", logger.Err(err))
		}

		if !p.Config.Pipeline.DryRun {
			// only a contract that can pass the base gate moves the restore point
			if cur, rerr := safeio.ReadFileContained(p.WorkDir, expectedPath); rerr == nil && contract.ContentHash(cur) == c.PreHash {
				p.snapshotBefore(ctx, []string{expectedPath})
			}
		}
		out, err := p.Validator.Apply(ctx, c, expectedPath)
		if err == nil {
			return out, p.contractApplied(ctx, threadID, out)
		}
		if !mutation.IsRetryable(err) || attempt >= p.Config.Pipeline.MaxRetries {
			return out, p.fail(ctx, threadID, err)
		}
		if p.Generator == nil {
			return out, p.fail(ctx, threadID, fmt.Errorf("%w: %w", ErrNoGenerator, err))
		}

		summary := mutation.Summary(err)
		if _, lerr := p.Ledger.AppendDecision(ctx, threadID, p.actor(), DecisionRetry, summary); lerr != nil {
			return nil, lerr
		}
		logger.Info("base changed, regenerating contract", logger.String("path", expectedPath), logger.Int("attempt", attempt+1))

		gc, err := p.Prepare(ctx, threadID, expectedPath)
		if err != nil {
			return nil, err
		}
		gc.Attempt = attempt + 1
		gc.LastError = summary
		raw, err = p.generate(ctx, threadID, gc)
		if err != nil {
			return nil, p.fail(ctx, threadID, fmt.Errorf("regenerate contract: %w", err))
		}
	}
}

// generate asks the generator for a fresh contract and records the request, the
// model and its usage.
func (p *Pipeline) generate(ctx context.Context, threadID string, gc *GenerationContext) (string, error) {
	req, err := json.MarshalIndent(gc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode generation context: %w", err)
	}
	p.artifact(runrecord.PromptFile, p.Recorder.RecordPrompt(string(req)))

	start := time.Now()
	gen, err := p.Generator.Generate(ctx, *gc)
	if err != nil {
		return "", err
	}
	if _, err := p.Ledger.RecordGeneration(ctx, threadID, gen.Model, contract.ContentHash(req), gen.Output); err != nil {
		return "", err
	}
	if _, err := p.Ledger.RecordTelemetry(ctx, threadID, gen.PromptTokens, gen.CompletionTokens, time.Since(start), gen.Cost); err != nil {
		logger.Warn("telemetry not recorded", logger.String("thread", threadID), logger.Err(err))
	}
	return gen.Output, nil
}

func (p *Pipeline) contractApplied(ctx context.Context, threadID string, out *contract.Outcome) error {
	if err := p.Recorder.SaveJSON(runrecord.OutcomeFile, out); err != nil {
		logger.Debug("outcome artifact not saved", logger.Err(err))
	}
	if out.DryRun {
		_, err := p.Ledger.AppendDecision(ctx, threadID, p.actor(), DecisionDryRun, "contract accepted for "+out.Path)
		return err
	}
	if _, err := p.Ledger.RecordApplied(ctx, threadID, out.CommitSHA, ""); err != nil {
		return err
	}
	p.snapshotAfter(ctx, threadID, []string{out.Path})
	note := fmt.Sprintf("rewrote %s (%s)", out.Path, out.NewHash)
	if len(out.Changelog) > 0 {
		note += ": " + strings.Join(out.Changelog, "; ")
	}
	note = mutation.Sanitize(note)
	if _, err := p.Ledger.AppendDecision(ctx, threadID, p.actor(), DecisionApplied, note); err != nil {
		return err
	}
	p.post(ctx, threadID, note)
	return nil
}

// CheckChanges lists the paths changed between two revisions and rejects the
// set when any of them falls outside the authorized scope. A nil lister uses the
// pipeline's repository.
func (p *Pipeline) CheckChanges(ctx context.Context, threadID string, lister ChangeLister, from, to string) ([]string, error) {
	if lister == nil {
		l, ok := p.Source.(ChangeLister)
		if !ok {
			return nil, gitctx.ErrNotRepository
		}
		lister = l
	}
	paths, err := lister.ChangedPaths(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if err := p.scopeCheck(ctx, threadID, paths); err != nil {
		return paths, p.fail(ctx, threadID, err)
	}
	return paths, nil
}

func (p *Pipeline) artifact(name string, err error) {
	if err != nil {
		logger.Debug("artifact not saved", logger.String("artifact", name), logger.Err(err))
	}
}

// stamp writes the run metadata: thread, operation and the build that ran it.
func (p *Pipeline) stamp(threadID, operation string) {
	meta := buildinfo.Read().Metadata()
	meta["thread"] = threadID
	meta["operation"] = operation
	meta["actor"] = p.actor()
	meta["dry_run"] = p.Config.Pipeline.DryRun
	if err := p.Recorder.SaveMetadata(meta); err != nil {
		logger.Debug("run metadata not saved", logger.Err(err))
	}
}
