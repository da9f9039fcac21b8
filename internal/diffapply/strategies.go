package diffapply

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/reface/internal/diffextract"
	"github.com/fulmenhq/reface/internal/mutation"
	"github.com/fulmenhq/reface/pkg/safeio"
)

// Strategy names as recorded in attempts and the ledger.
const (
	StrategyStrict    = "strict"
	StrategyThreeWay  = "threeway"
	StrategyPatchFile = "patchfile"
	StrategyManual    = "manual"
)

// ErrModifiesExisting is the definitive manual-strategy failure for diffs that touch existing files.
var ErrModifiesExisting = errors.New("diff modifies existing files; refusing manual application")

func (e *Engine) strict(ctx context.Context, p *Patch) Attempt {
	check := e.run(ctx, StrategyStrict, "git", e.Timeouts.Check, "apply", "--check", "--whitespace=fix", p.Path)
	if !check.OK {
		return check
	}
	a := e.run(ctx, StrategyStrict, "git", e.Timeouts.Apply, "apply", "--whitespace=fix", p.Path)
	a.Duration += check.Duration
	return a
}

func (e *Engine) threeWay(ctx context.Context, p *Patch) Attempt {
	return e.run(ctx, StrategyThreeWay, "git", e.Timeouts.ThreeWay, "apply", "--3way", "--whitespace=fix", p.Path)
}

func (e *Engine) patchFile(ctx context.Context, p *Patch) Attempt {
	if !e.Exec.IsAvailable("patch") {
		return Attempt{Strategy: StrategyPatchFile, Skipped: true}
	}
	// patch writes the hunks that fit even when others fail, so nothing is
	// applied until a dry run passes. No .orig or .rej files are left behind.
	args := []string{"-p1", "--forward", "--batch", "--no-backup-if-mismatch", "-r", "-", "-i", p.Path}
	check := e.run(ctx, StrategyPatchFile, "patch", e.Timeouts.Patch, append([]string{"--dry-run"}, args...)...)
	if !check.OK {
		return check
	}
	a := e.run(ctx, StrategyPatchFile, "patch", e.Timeouts.Patch, args...)
	a.Duration += check.Duration
	return a
}

// manual writes pure file creations directly from the hunks' added lines.
func (e *Engine) manual(_ context.Context, p *Patch) Attempt {
	start := time.Now()
	a := Attempt{Strategy: StrategyManual}
	if len(p.Files) == 0 {
		a.Err = errors.New("diff could not be parsed into file sections")
		return a
	}
	for _, f := range p.Files {
		if f.State != diffextract.New {
			a.Err = ErrModifiesExisting
			return a
		}
	}

	type creation struct {
		abs     string
		content []byte
	}
	var plan []creation
	for _, f := range p.Files {
		rel := f.Path()
		if err := safeio.CheckRelPath(rel); err != nil {
			a.Err = mutation.NewUnsafePath(rel, err.Error())
			return a
		}
		abs, err := safeio.ResolveContained(p.WorkDir, rel)
		if err != nil {
			a.Err = mutation.NewUnsafePath(rel, err.Error())
			return a
		}
		if _, err := os.Stat(abs); err == nil {
			a.Err = fmt.Errorf("%w: %s already exists", ErrModifiesExisting, rel)
			return a
		}
		lines := f.AddedLines()
		if len(lines) == 0 {
			continue
		}
		content := strings.Join(lines, "\n")
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		plan = append(plan, creation{abs: abs, content: []byte(content)})
	}
	if len(plan) == 0 {
		a.Err = errors.New("diff adds no content")
		return a
	}

	for _, c := range plan {
		if err := os.MkdirAll(filepath.Dir(c.abs), 0o755); err != nil {
			a.Err = fmt.Errorf("create parent directory: %w", err)
			return a
		}
		if err := safeio.WriteFileAtomic(c.abs, c.content, 0o644); err != nil {
			a.Err = fmt.Errorf("write %s: %w", c.abs, err)
			return a
		}
	}
	a.OK = true
	a.Duration = time.Since(start)
	return a
}
