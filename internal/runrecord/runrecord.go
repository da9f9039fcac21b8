// Package runrecord keeps per-run artifacts (raw model output, the patch sent
// to git, preflight output, metadata) for diagnosis and audit.
package runrecord

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/reface/pkg/safeio"
	"github.com/google/uuid"
)

// Artifact file names.
const (
	MetadataFile    = "metadata.json"
	ModelRawFile    = "model_raw.txt"
	PromptFile      = "prompt.txt"
	PayloadFile     = "payload_to_git.patch"
	PreflightStdout = "preflight_stdout.txt"
	PreflightStderr = "preflight_stderr.txt"
	AttemptsFile    = "attempts.json"
	ContractFile    = "contract.json"
	OutcomeFile     = "outcome.json"
)

// NewID returns a sortable run id: local timestamp plus a short random suffix.
func NewID(now time.Time) string {
	return now.Format("20060102_150405") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Recorder writes artifacts for one run. A nil *Recorder records nothing.
type Recorder struct {
	RunID string
	Dir   string
}

// New creates the run directory under root. runID may be empty.
func New(root, runID string) (*Recorder, error) {
	if runID == "" {
		runID = NewID(time.Now())
	}
	if err := safeio.CheckRelPath(runID); err != nil || strings.Contains(runID, "/") {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	return &Recorder{RunID: runID, Dir: dir}, nil
}

// SaveText writes one named artifact.
func (r *Recorder) SaveText(name, text string) error {
	if r == nil {
		return nil
	}
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return safeio.WriteFileAtomic(filepath.Join(r.Dir, name), []byte(text), 0o644)
}

// SaveJSON writes v as indented JSON.
func (r *Recorder) SaveJSON(name string, v interface{}) error {
	if r == nil {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return r.SaveText(name, string(data)+"\n")
}

// SaveMetadata writes metadata.json with the run id and timestamp merged in.
func (r *Recorder) SaveMetadata(meta map[string]interface{}) error {
	if r == nil {
		return nil
	}
	out := make(map[string]interface{}, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	out["run_id"] = r.RunID
	out["ts_iso"] = time.Now().Format(time.RFC3339)
	return r.SaveJSON(MetadataFile, out)
}

func (r *Recorder) RecordModelRaw(text string) error { return r.SaveText(ModelRawFile, text) }
func (r *Recorder) RecordPrompt(text string) error { return r.SaveText(PromptFile, text) }
func (r *Recorder) RecordPayload(patch string) error { return r.SaveText(PayloadFile, patch) }

// RecordPreflight writes both preflight streams.
func (r *Recorder) RecordPreflight(stdout, stderr string) error {
	if err := r.SaveText(PreflightStdout, stdout); err != nil {
		return err
	}
	return r.SaveText(PreflightStderr, stderr)
}
