// Package formatting pipes content through the external formatter chain of its
// language. Formatting is best effort: any failure keeps the previous content.
package formatting

import (
	"bytes"
	"context"
	"path/filepath"
	"time"

	"github.com/fulmenhq/reface/internal/syntax"
	"github.com/fulmenhq/reface/pkg/logger"
	"github.com/fulmenhq/reface/pkg/tools"
)

// Step is one formatter invocation reading stdin and writing stdout.
type Step struct {
	Tool string
	Args func(path string) []string
}

// Chains lists formatter steps per language, applied in order.
var Chains = map[string][]Step{
	"python": {
		{Tool: "ruff", Args: func(p string) []string { return []string{"format", "--stdin-filename", p, "-"} }},
		{Tool: "black", Args: func(string) []string { return []string{"-q", "-"} }},
	},
	"javascript": {
		{Tool: "prettier", Args: stdinFilepath},
	},
	"typescript": {
		{Tool: "prettier", Args: stdinFilepath},
	},
	"tsx": {
		{Tool: "prettier", Args: stdinFilepath},
	},
	"go": {
		{Tool: "gofmt", Args: func(string) []string { return nil }},
	},
	"rust": {
		{Tool: "rustfmt", Args: func(string) []string { return []string{"--emit", "stdout", "--quiet"} }},
	},
}

func stdinFilepath(p string) []string {
	return []string{"--stdin-filepath", filepath.Base(p)}
}

// Result reports what the formatter chain did.
type Result struct {
	Content   []byte
	Formatted bool
	Tools     []string
}

// Formatter runs chains through a tool executor.
type Formatter struct {
	Exec tools.ToolExecutor
	// Timeout returns the budget for a language; nil means 30s.
	Timeout func(language string) time.Duration
}

// New returns a formatter.
func New(exec tools.ToolExecutor, timeout func(string) time.Duration) *Formatter {
	return &Formatter{Exec: exec, Timeout: timeout}
}

// Format runs the chain for path's language. Content is returned unchanged when no
// chain exists, no tool is installed, or every step fails.
func (f *Formatter) Format(ctx context.Context, path string, content []byte) Result {
	language := syntax.Language(path)
	res := Result{Content: content}
	chain := Chains[language]
	if len(chain) == 0 {
		return res
	}
	timeout := 30 * time.Second
	if f.Timeout != nil {
		if d := f.Timeout(language); d > 0 {
			timeout = d
		}
	}

	current := content
	for _, step := range chain {
		if !f.Exec.IsAvailable(step.Tool) {
			logger.Debug("formatter not installed", logger.String("tool", step.Tool))
			continue
		}
		out, err := f.Exec.Execute(ctx, tools.ExecuteOptions{
			Tool:    step.Tool,
			Args:    step.Args(path),
			Stdin:   bytes.NewReader(current),
			Timeout: timeout,
		})
		if err != nil || !out.Success() || len(bytes.TrimSpace(out.Stdout)) == 0 {
			fields := []logger.Field{logger.String("tool", step.Tool), logger.String("path", path)}
			if err != nil {
				fields = append(fields, logger.Err(err))
			} else if out != nil {
				fields = append(fields, logger.Int("exit_code", out.ExitCode))
			}
			logger.Warn("formatter failed, keeping previous content", fields...)
			continue
		}
		current = out.Stdout
		res.Tools = append(res.Tools, step.Tool)
	}
	res.Content = current
	res.Formatted = len(res.Tools) > 0
	return res
}
