// Package diffapply applies a unified diff to a working tree through an ordered
// chain of strategies, stopping at the first that succeeds.
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
	"github.com/fulmenhq/reface/pkg/format/finalizer"
	"github.com/fulmenhq/reface/pkg/logger"
	"github.com/fulmenhq/reface/pkg/tools"
)

// maxStderr bounds the stderr excerpt kept per attempt.
const maxStderr = 200

// Timeouts bound each external command the strategies run.
type Timeouts struct {
	Check    time.Duration
	Apply    time.Duration
	ThreeWay time.Duration
	Patch    time.Duration
}

// DefaultTimeouts match the timeouts.git.* configuration defaults.
var DefaultTimeouts = Timeouts{
	Check:    60 * time.Second,
	Apply:    120 * time.Second,
	ThreeWay: 180 * time.Second,
	Patch:    180 * time.Second,
}

func (t Timeouts) withDefaults() Timeouts {
	pick := func(v, d time.Duration) time.Duration {
		if v <= 0 {
			return d
		}
		return v
	}
	return Timeouts{
		Check:    pick(t.Check, DefaultTimeouts.Check),
		Apply:    pick(t.Apply, DefaultTimeouts.Apply),
		ThreeWay: pick(t.ThreeWay, DefaultTimeouts.ThreeWay),
		Patch:    pick(t.Patch, DefaultTimeouts.Patch),
	}
}

// Patch is a prepared diff handed to each strategy.
type Patch struct {
	Text    string
	Path    string // artifact file holding Text
	Files   []diffextract.File
	WorkDir string
}

// Attempt records one strategy run.
type Attempt struct {
	Strategy string
	OK       bool
	Skipped  bool
	ExitCode int
	Stderr   string
	Duration time.Duration
	Err      error
}

// Strategy tries to apply a patch. It must not leave partial state behind on failure.
type Strategy func(ctx context.Context, p *Patch) Attempt

// Result describes a successful application.
type Result struct {
	Applied   bool
	Strategy  string
	PatchPath string
	Attempts  []Attempt
	Files     []string
}

// Engine folds over Strategies in order.
type Engine struct {
	Exec        tools.ToolExecutor
	WorkDir     string
	ArtifactDir string
	Timeouts    Timeouts
	Strategies  []Strategy
}

// NewEngine returns an engine with the strict, threeway, patchfile and manual strategies.
// Zero timeouts take their DefaultTimeouts value.
func NewEngine(exec tools.ToolExecutor, workDir string, timeouts Timeouts) *Engine {
	e := &Engine{Exec: exec, WorkDir: workDir, Timeouts: timeouts.withDefaults()}
	e.Strategies = []Strategy{e.strict, e.threeWay, e.patchFile, e.manual}
	return e
}

// Apply normalizes text, writes it to an artifact file kept for audit, and runs the
// strategies until one succeeds. When all fail the error is ApplicationFailed.
func (e *Engine) Apply(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, mutation.NewApplicationFailed(nil, errors.New("empty diff"))
	}
	normalized := string(finalizer.PreparePatch([]byte(text)))

	files, err := diffextract.ParseFiles(normalized)
	if err != nil {
		logger.Debug("diff not parseable, manual strategy unavailable", logger.Err(err))
	}

	path, err := e.writeArtifact(normalized)
	if err != nil {
		return nil, mutation.NewApplicationFailed(nil, err)
	}

	p := &Patch{Text: normalized, Path: path, Files: files, WorkDir: e.WorkDir}
	res := &Result{PatchPath: path}
	for _, f := range files {
		res.Files = append(res.Files, f.Path())
	}

	var names []string
	var lastErr error
	for _, strategy := range e.Strategies {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		a := strategy(ctx, p)
		res.Attempts = append(res.Attempts, a)
		logAttempt(a)
		if a.Skipped {
			continue
		}
		names = append(names, a.Strategy)
		if a.OK {
			res.Applied = true
			res.Strategy = a.Strategy
			logger.Info("diff applied", logger.String("strategy", a.Strategy), logger.String("patch", path))
			return res, nil
		}
		if a.Err != nil {
			lastErr = a.Err
		} else if a.Stderr != "" {
			lastErr = errors.New(a.Stderr)
		}
	}
	return res, mutation.NewApplicationFailed(names, lastErr)
}

func (e *Engine) writeArtifact(text string) (string, error) {
	dir := e.ArtifactDir
	if dir == "" {
		dir = os.TempDir()
	} else if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "reface-patch-*.diff")
	if err != nil {
		return "", fmt.Errorf("create patch artifact: %w", err)
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write patch artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close patch artifact: %w", err)
	}
	abs, err := filepath.Abs(f.Name())
	if err != nil {
		return f.Name(), nil
	}
	return abs, nil
}

// run executes a tool and converts the outcome into an attempt.
func (e *Engine) run(ctx context.Context, name, tool string, timeout time.Duration, args ...string) Attempt {
	res, err := e.Exec.Execute(ctx, tools.ExecuteOptions{
		Tool:    tool,
		Args:    args,
		WorkDir: e.WorkDir,
		Timeout: timeout,
	})
	a := Attempt{Strategy: name, Err: err}
	if res != nil {
		a.ExitCode = res.ExitCode
		a.Stderr = truncate(strings.TrimSpace(string(res.Stderr)), maxStderr)
		a.Duration = res.Duration
	}
	a.OK = err == nil && res.Success()
	return a
}

func logAttempt(a Attempt) {
	fields := []logger.Field{
		logger.String("strategy", a.Strategy),
		logger.Int("exit_code", a.ExitCode),
		logger.Duration("duration", a.Duration),
	}
	switch {
	case a.Skipped:
		logger.Debug("strategy skipped", fields...)
	case a.OK:
		logger.Debug("strategy succeeded", fields...)
	default:
		if a.Stderr != "" {
			fields = append(fields, logger.String("stderr", a.Stderr))
		}
		if a.Err != nil {
			fields = append(fields, logger.Err(a.Err))
		}
		logger.Warn("strategy failed", fields...)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
