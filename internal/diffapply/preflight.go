package diffapply

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/reface/pkg/format/finalizer"
)

// PreflightResult is the outcome of a dry "git apply --check".
type PreflightResult struct {
	OK     bool   `json:"ok"`
	Stderr string `json:"stderr"`
}

// Preflight checks whether text applies cleanly without touching the working tree.
func (e *Engine) Preflight(ctx context.Context, text string) (PreflightResult, error) {
	normalized := string(finalizer.PreparePatch([]byte(text)))
	path, err := e.writeArtifact(normalized)
	if err != nil {
		return PreflightResult{}, err
	}
	defer func() { _ = os.Remove(path) }()

	a := e.run(ctx, "preflight", "git", e.Timeouts.Check, "apply", "--check", path)
	if a.Err != nil && a.ExitCode == 0 {
		return PreflightResult{}, fmt.Errorf("preflight: %w", a.Err)
	}
	return PreflightResult{OK: a.OK, Stderr: strings.TrimSpace(a.Stderr)}, nil
}
