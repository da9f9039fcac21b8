// Package syntax validates source text with tree-sitter grammars chosen by file extension.
package syntax

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/reface/internal/mutation"
	"github.com/fulmenhq/reface/pkg/logger"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// DefaultTimeout matches the timeouts.syntax default.
const DefaultTimeout = 10 * time.Second

// Language returns the language name for path, or "" when no grammar applies.
func Language(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py", ".pyi":
		return "python"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".mts", ".cts":
		return "typescript"
	case ".tsx":
		return "tsx"
	case ".rs":
		return "rust"
	case ".sh", ".bash":
		return "bash"
	default:
		return ""
	}
}

func grammar(language string) *sitter.Language {
	switch language {
	case "go":
		return golang.GetLanguage()
	case "python":
		return python.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		return typescript.GetLanguage()
	case "tsx":
		return tsx.GetLanguage()
	case "rust":
		return rust.GetLanguage()
	case "bash":
		return bash.GetLanguage()
	default:
		return nil
	}
}

// Diagnostic locates the first syntax error in a tree. Line and Column are 1-based.
type Diagnostic struct {
	Line   int
	Column int
	Node   string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%d:%d: %s", d.Line, d.Column, d.Node)
}

// Checker parses content with a bounded time budget.
type Checker struct {
	Timeout time.Duration
}

// NewChecker returns a checker; a non-positive timeout uses DefaultTimeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{Timeout: timeout}
}

// Check returns a SyntaxInvalid error when content does not parse for path's
// language. Unknown languages pass. Running out of time is a failure.
func (c *Checker) Check(ctx context.Context, path string, content []byte) error {
	language := Language(path)
	lang := grammar(language)
	if lang == nil {
		logger.Debug("no grammar for file, syntax check skipped", logger.String("path", path))
		return nil
	}

	diag, err := c.parse(ctx, lang, content)
	if err != nil {
		return mutation.NewSyntaxInvalid(path, language, 0, 0, err.Error())
	}
	if diag != nil {
		return mutation.NewSyntaxInvalid(path, language, diag.Line, diag.Column, diag.Node)
	}
	return nil
}

func (c *Checker) parse(ctx context.Context, lang *sitter.Language, content []byte) (*Diagnostic, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse not started: %w", err)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("parse timed out after %s", timeout)
		}
		return nil, fmt.Errorf("parse failed: %w", err)
	}
	defer tree.Close()

	node := firstError(tree.RootNode())
	if node == nil {
		return nil, nil
	}
	p := node.StartPoint()
	d := &Diagnostic{Line: int(p.Row) + 1, Column: int(p.Column) + 1}
	if node.IsMissing() {
		d.Node = fmt.Sprintf("missing %q", node.Type())
	} else {
		d.Node = fmt.Sprintf("unexpected %s", snippet(node.Content(content)))
	}
	return d, nil
}

func firstError(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if n := firstError(node.Child(i)); n != nil {
			return n
		}
	}
	return nil
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	if s == "" {
		return "token"
	}
	return fmt.Sprintf("%q", s)
}
