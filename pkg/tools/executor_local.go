/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/reface/pkg/logger"
)

// LocalExecutor runs tools installed on the local system
type LocalExecutor struct {
	shimDirs []string
}

// NewLocalExecutor creates a new LocalExecutor. extraDirs are searched after PATH
// and before the well-known shim directories.
func NewLocalExecutor(extraDirs ...string) *LocalExecutor {
	return &LocalExecutor{
		shimDirs: append(extraDirs, getShimDirectories()...),
	}
}

// Name returns the executor name
func (e *LocalExecutor) Name() string {
	return "local"
}

// IsAvailable checks if the tool is available locally
func (e *LocalExecutor) IsAvailable(tool string) bool {
	return e.FindToolPath(tool) != ""
}

// Execute runs the tool locally
func (e *LocalExecutor) Execute(ctx context.Context, opts ExecuteOptions) (*ExecuteResult, error) {
	toolPath := e.FindToolPath(opts.Tool)
	if toolPath == "" {
		return nil, fmt.Errorf("%w: %s not found in PATH or shim directories", ErrToolNotFound, opts.Tool)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// #nosec G204 - toolPath is validated via FindToolPath
	cmd := exec.CommandContext(ctx, toolPath, opts.Args...)

	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}

	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}

	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &ExecuteResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
		Executor: "local",
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return result, fmt.Errorf("%w: %s after %s", ErrTimeout, opts.Tool, result.Duration.Round(time.Millisecond))
		}
		return result, fmt.Errorf("%s cancelled: %w", opts.Tool, ctxErr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			// The caller checks ExitCode to determine success/failure
			return result, nil
		}
		return nil, fmt.Errorf("failed to execute %s: %w", opts.Tool, err)
	}

	return result, nil
}

// FindToolPath finds a tool by name, checking PATH first then known shim directories.
// This handles formatters installed via bun, go-install or mise that may not be on PATH.
func (e *LocalExecutor) FindToolPath(toolName string) string {
	if path, err := exec.LookPath(toolName); err == nil {
		return path
	}

	for _, shimDir := range e.shimDirs {
		if shimDir == "" {
			continue
		}
		candidate := filepath.Join(shimDir, toolName)
		if runtime.GOOS == "windows" && !strings.HasSuffix(candidate, ".exe") {
			candidate += ".exe"
		}
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			logger.Debug(fmt.Sprintf("found %s in shim dir: %s", toolName, candidate))
			return candidate
		}
	}

	return ""
}

// getShimDirectories returns known shim directories for various package managers
func getShimDirectories() []string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	candidates := []string{
		filepath.Join(homeDir, ".bun", "bin"),
		filepath.Join(homeDir, ".local", "bin"),
		filepath.Join(homeDir, ".cargo", "bin"),
		filepath.Join(homeDir, ".local", "share", "mise", "shims"),
	}

	goDir := os.Getenv("GOBIN")
	if goDir == "" {
		goDir = filepath.Join(homeDir, "go", "bin")
	}
	candidates = append(candidates, goDir)

	if runtime.GOOS == "windows" {
		candidates = append(candidates, filepath.Join(homeDir, "scoop", "shims"))
	}

	var dirs []string
	for _, dir := range candidates {
		if _, err := os.Stat(dir); err == nil {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}
