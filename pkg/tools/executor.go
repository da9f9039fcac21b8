/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package tools

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"
)

// ErrTimeout is returned (wrapped) when a tool exceeds its ExecuteOptions.Timeout.
var ErrTimeout = errors.New("tool execution timed out")

// ErrToolNotFound is returned (wrapped) when the requested tool cannot be located.
var ErrToolNotFound = errors.New("tool not found")

// ExecuteOptions configures tool execution
type ExecuteOptions struct {
	// Tool name (e.g., "git", "prettier", "ruff")
	Tool string

	// Args to pass to the tool
	Args []string

	// WorkDir is the working directory (defaults to current directory)
	WorkDir string

	// Stdin to pipe to the tool (optional)
	Stdin io.Reader

	// Env contains additional environment variables
	Env map[string]string

	// Timeout bounds the run; zero means only the caller's context applies.
	Timeout time.Duration
}

// ExecuteResult contains the output of tool execution
type ExecuteResult struct {
	// ExitCode from the tool
	ExitCode int

	// Stdout contains standard output
	Stdout []byte

	// Stderr contains standard error
	Stderr []byte

	// Duration is the wall time of the run
	Duration time.Duration

	// Executor indicates which executor was used
	Executor string
}

// Success reports a zero exit code.
func (r *ExecuteResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// ToolExecutor executes external tools
type ToolExecutor interface {
	// Execute runs a tool with the given options. A non-zero exit is reported
	// through ExecuteResult.ExitCode, not as an error.
	Execute(ctx context.Context, opts ExecuteOptions) (*ExecuteResult, error)

	// IsAvailable checks if this executor can run the specified tool
	IsAvailable(tool string) bool

	// Name returns the executor name for logging
	Name() string
}

// NewExecutor returns the executor used by the pipeline. Extra search
// directories may be supplied through REFACE_TOOL_PATH (os.PathListSeparator separated).
func NewExecutor() ToolExecutor {
	return NewLocalExecutor(extraDirsFromEnv()...)
}

func extraDirsFromEnv() []string {
	raw := strings.TrimSpace(os.Getenv("REFACE_TOOL_PATH"))
	if raw == "" {
		return nil
	}
	var dirs []string
	for _, d := range strings.Split(raw, string(os.PathListSeparator)) {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}
