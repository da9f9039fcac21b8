package pipeline

import (
	"context"

	"github.com/fulmenhq/reface/internal/ledger"
	"github.com/fulmenhq/reface/pkg/logger"
)

// ContentSource returns file content at a revision. *gitctx.Repo implements it.
type ContentSource interface {
	FileAt(ctx context.Context, rev, path string) ([]byte, error)
}

// ChangeLister lists paths changed between two revisions. *gitctx.Repo implements it.
type ChangeLister interface {
	ChangedPaths(ctx context.Context, from, to string) ([]string, error)
}

// AuditPoster publishes a one-line failure or success summary for a thread.
type AuditPoster interface {
	Post(ctx context.Context, threadID, summary string) error
}

// ContractGenerator produces raw rewrite-contract output for a file.
type ContractGenerator interface {
	Generate(ctx context.Context, gc GenerationContext) (Generation, error)
}

// Generation is one generator response plus the usage it reported. Zero usage
// fields are recorded as zero.
type Generation struct {
	Output           string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
}

// GenerationContext is what a generator needs to produce a contract against the
// file as it is now.
type GenerationContext struct {
	ThreadID    string `json:"thread_id"`
	Path        string `json:"path"`
	Content     string `json:"content"`
	PreHash     string `json:"pre_hash"`
	Base        string `json:"base,omitempty"` // content at the thread's base_sha, when known
	ProjectRoot string `json:"project_root,omitempty"`
	Attempt     int    `json:"attempt"`
	LastError   string `json:"last_error,omitempty"`

	// Related holds truncated content of the thread's other must-edit files.
	Related []ledger.PromptSnapshot `json:"related,omitempty"`
}

// LogPoster writes audit summaries to the logger.
type LogPoster struct{}

func (LogPoster) Post(_ context.Context, threadID, summary string) error {
	logger.Info("audit", logger.String("thread", threadID), logger.String("summary", summary))
	return nil
}
