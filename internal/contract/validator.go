package contract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/fulmenhq/reface/internal/formatting"
	"github.com/fulmenhq/reface/internal/gitctx"
	"github.com/fulmenhq/reface/internal/keepblock"
	"github.com/fulmenhq/reface/internal/mutation"
	"github.com/fulmenhq/reface/pkg/config"
	"github.com/fulmenhq/reface/pkg/format/finalizer"
	"github.com/fulmenhq/reface/pkg/logger"
	"github.com/fulmenhq/reface/pkg/safeio"
)

// Gate names, in execution order.
const (
	GateConfidence = "confidence"
	GatePath       = "path"
	GateSize       = "size"
	GateBase       = "base"
	GateKeepPre    = "keepblocks_pre"
	GateSyntax     = "syntax"
	GateFormat     = "format"
	GateKeepPost   = "keepblocks_post"
	GateWrite      = "write"
	GateSmoke      = "smoke"
	GateCommit     = "commit"
)

// SyntaxChecker is satisfied by *syntax.Checker.
type SyntaxChecker interface {
	Check(ctx context.Context, path string, content []byte) error
}

// ContentFormatter is satisfied by *formatting.Formatter.
type ContentFormatter interface {
	Format(ctx context.Context, path string, content []byte) formatting.Result
}

// Committer is satisfied by *gitctx.Repo.
type Committer interface {
	Commit(ctx context.Context, path, message string, author gitctx.Signature) (string, error)
}

// Options are the gate settings for one validator.
type Options struct {
	Root             string
	MinConfidence    float64
	MaxContentSize   int
	KeepBlocks       bool
	SyntaxValidation bool
	AutoFormat       bool
	GitCommit        bool
	DryRun           bool
	MessageTemplate  string
	Author           gitctx.Signature
}

// OptionsFromConfig maps the pipeline configuration onto validator options for root.
func OptionsFromConfig(root string, cfg *config.Config) Options {
	return Options{
		Root:             root,
		MinConfidence:    cfg.Pipeline.MinConfidence,
		MaxContentSize:   cfg.Pipeline.MaxContentSize,
		KeepBlocks:       cfg.Pipeline.KeepBlocks,
		SyntaxValidation: cfg.Pipeline.SyntaxValidation,
		AutoFormat:       cfg.Pipeline.AutoFormat,
		GitCommit:        cfg.Pipeline.GitCommit,
		DryRun:           cfg.Pipeline.DryRun,
		MessageTemplate:  cfg.Commit.MessageTemplate,
		Author:           gitctx.Signature{Name: cfg.Commit.AuthorName, Email: cfg.Commit.AuthorEmail},
	}
}

// GateTiming records how long one gate took.
type GateTiming struct {
	Gate     string        `json:"gate"`
	Duration time.Duration `json:"duration_ns"`
}

// Outcome describes an accepted contract.
type Outcome struct {
	Path         string       `json:"path"`
	PreviousHash string       `json:"previous_hash"`
	NewHash      string       `json:"new_hash"`
	Formatted    bool         `json:"formatted"`
	Written      bool         `json:"written"`
	DryRun       bool         `json:"dry_run,omitempty"`
	CommitSHA    string       `json:"commit_sha,omitempty"`
	Changelog    []string     `json:"changelog"`
	Gates        []GateTiming `json:"gates"`
}

// Validator runs the rewrite gates and, when they all pass, writes and commits.
type Validator struct {
	Options
	Syntax    SyntaxChecker
	Formatter ContentFormatter
	// Committer defaults to the repository enclosing Root.
	Committer Committer
}

// NewValidator returns a validator. Nil collaborators disable their gate.
func NewValidator(opts Options, syn SyntaxChecker, fmtr ContentFormatter) *Validator {
	return &Validator{Options: opts, Syntax: syn, Formatter: fmtr}
}

// Apply validates c against the file expectedPath and commits the rewrite. Each
// gate failure returns a *mutation.Error and leaves the file untouched.
func (v *Validator) Apply(ctx context.Context, c *Contract, expectedPath string) (*Outcome, error) {
	out := &Outcome{Changelog: c.Changelog, DryRun: v.DryRun}
	timed := func(gate string, fn func() error) error {
		start := time.Now()
		err := fn()
		out.Gates = append(out.Gates, GateTiming{Gate: gate, Duration: time.Since(start)})
		if err != nil {
			logger.Info("contract gate rejected", logger.String("gate", gate), logger.String("path", c.FilePath), logger.Err(err))
		} else {
			logger.Debug("contract gate passed", logger.String("gate", gate), logger.Duration("elapsed", time.Since(start)))
		}
		return err
	}

	if err := timed(GateConfidence, func() error {
		if c.Confidence < v.MinConfidence {
			return mutation.NewLowConfidence(c.Confidence, v.MinConfidence)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var rel, abs string
	if err := timed(GatePath, func() error {
		var err error
		rel, abs, err = v.resolve(c.FilePath, expectedPath)
		return err
	}); err != nil {
		return nil, err
	}
	out.Path = rel

	if err := timed(GateSize, func() error {
		if n := len(c.NewContent); v.MaxContentSize > 0 && n > v.MaxContentSize {
			return mutation.NewOversizeContent(rel, n, v.MaxContentSize)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var current []byte
	if err := timed(GateBase, func() error {
		var err error
		current, err = os.ReadFile(abs) // #nosec G304 -- abs is contained in Root
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		out.PreviousHash = ContentHash(current)
		if out.PreviousHash != c.PreHash {
			return mutation.NewBaseChanged(rel, c.PreHash, out.PreviousHash)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	candidate := c.NewContent
	if v.KeepBlocks {
		if err := timed(GateKeepPre, func() error {
			return keepblock.Verify(rel, string(current), candidate)
		}); err != nil {
			return nil, err
		}
	}

	if v.SyntaxValidation && v.Syntax != nil {
		if err := timed(GateSyntax, func() error {
			return v.Syntax.Check(ctx, rel, []byte(candidate))
		}); err != nil {
			return nil, err
		}
	}

	if v.AutoFormat && v.Formatter != nil {
		_ = timed(GateFormat, func() error {
			formatted, ok := v.format(ctx, rel, candidate)
			if ok {
				candidate = formatted
				out.Formatted = true
			}
			return nil
		})
	}

	if v.KeepBlocks {
		if err := timed(GateKeepPost, func() error {
			return keepblock.Verify(rel, string(current), candidate)
		}); err != nil {
			return nil, err
		}
	}

	data, _ := finalizer.EnsureSingleTrailingNewline([]byte(candidate))
	out.NewHash = ContentHash(data)
	if v.DryRun {
		logger.Info("dry run: contract accepted, nothing written", logger.String("path", rel), logger.String("new_hash", out.NewHash))
		return out, nil
	}

	if err := timed(GateWrite, func() error {
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("create parent of %s: %w", rel, err)
		}
		return safeio.WriteFileAtomic(abs, data, 0o644)
	}); err != nil {
		return nil, err
	}
	out.Written = true

	if v.Syntax != nil {
		_ = timed(GateSmoke, func() error {
			written, err := os.ReadFile(abs) // #nosec G304 -- abs is contained in Root
			if err == nil {
				err = v.Syntax.Check(ctx, rel, written)
			}
			if err != nil {
				logger.Warn("post-write smoke check failed", logger.String("path", rel), logger.Err(err))
			}
			return nil
		})
	}

	if v.GitCommit {
		if err := timed(GateCommit, func() error {
			sha, err := v.commit(ctx, abs, rel, c.Changelog)
			out.CommitSHA = sha
			return err
		}); err != nil {
			return out, err
		}
	}
	return out, nil
}

// resolve runs the path identity gate and returns the cleaned relative path and
// its absolute location under Root.
func (v *Validator) resolve(declared, expected string) (string, string, error) {
	rel := cleanRel(declared)
	if want := cleanRel(expected); rel != want {
		return "", "", mutation.NewPathMismatch(declared, expected)
	}
	if err := safeio.CheckRelPath(rel); err != nil {
		e := mutation.NewUnsafePath(declared, err.Error())
		e.Cause = err
		return "", "", e
	}
	abs, err := safeio.ResolveContained(v.Root, rel)
	if err != nil {
		e := mutation.NewUnsafePath(declared, "outside repository root")
		e.Cause = err
		return "", "", e
	}
	return rel, abs, nil
}

func cleanRel(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean(filepath.ToSlash(p))
}

// format runs the formatter with keep blocks frozen. Any failure keeps content as is.
func (v *Validator) format(ctx context.Context, rel, content string) (string, bool) {
	frozen, table, err := keepblock.Freeze(content)
	if err != nil {
		logger.Warn("cannot freeze keep blocks, skipping formatting", logger.String("path", rel), logger.Err(err))
		return content, false
	}
	res := v.Formatter.Format(ctx, rel, []byte(frozen))
	if !res.Formatted {
		return content, false
	}
	thawed, err := table.Thaw(string(res.Content))
	if err != nil {
		logger.Warn("formatter disturbed keep blocks, using unformatted content", logger.String("path", rel), logger.Err(err))
		return content, false
	}
	logger.Debug("content formatted", logger.String("path", rel), logger.Strings("tools", res.Tools))
	return thawed, true
}

func (v *Validator) commit(ctx context.Context, abs, rel string, changelog []string) (string, error) {
	committer := v.Committer
	if committer == nil {
		repo, err := gitctx.Open(v.Root)
		if errors.Is(err, gitctx.ErrNotRepository) {
			logger.Warn("not a git repository, skipping commit", logger.String("root", v.Root))
			return "", nil
		}
		if err != nil {
			return "", err
		}
		committer = repo
	}
	msg, err := gitctx.CommitMessage(v.MessageTemplate, gitctx.MessageData{
		Name:      filepath.Base(rel),
		Path:      rel,
		Changelog: changelog,
	})
	if err != nil {
		return "", err
	}
	sha, err := committer.Commit(ctx, abs, msg, v.Author)
	if err != nil {
		return "", err
	}
	if sha == "" {
		logger.Info("no staged change, commit skipped", logger.String("path", rel))
	} else {
		logger.Info("committed rewrite", logger.String("path", rel), logger.String("sha", sha))
	}
	return sha, nil
}
