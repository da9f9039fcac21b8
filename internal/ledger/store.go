package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fulmenhq/reface/internal/contract"
	"github.com/fulmenhq/reface/internal/schema"
	"github.com/fulmenhq/reface/pkg/config"
	"github.com/fulmenhq/reface/pkg/format/finalizer"
	"github.com/fulmenhq/reface/pkg/logger"
	"github.com/fulmenhq/reface/pkg/safeio"
	"github.com/google/uuid"
)

// SchemaName is the embedded schema every saved document satisfies.
const SchemaName = "ledger-v1"

var (
	// ErrInvalidThreadID is returned for ids that cannot name a ledger file.
	ErrInvalidThreadID = errors.New("invalid thread id")
	// ErrInvalidDocument is returned when a document fails schema validation before save.
	ErrInvalidDocument = errors.New("ledger document failed validation")
)

var threadIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Store keeps one JSON document per thread under Root.
type Store struct {
	Root string
	Lock LockOptions
	now  func() time.Time
}

// NewStore returns a store rooted at root with default lock settings.
func NewStore(root string) *Store {
	return &Store{Root: root, Lock: DefaultLockOptions, now: time.Now}
}

// StoreFromConfig builds a store from the ledger configuration.
func StoreFromConfig(cfg *config.Config) *Store {
	s := NewStore(cfg.Ledger.Root)
	s.Lock = LockOptions{
		Timeout:    cfg.Ledger.LockTimeout,
		Poll:       cfg.Ledger.PollInterval,
		StaleAfter: cfg.Ledger.StaleAfter,
	}
	return s
}

func (s *Store) timestamp() string {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return now().UTC().Format(time.RFC3339)
}

// Path is the document file for id.
func (s *Store) Path(id string) (string, error) {
	if !threadIDPattern.MatchString(id) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidThreadID, id)
	}
	return filepath.Join(s.Root, id+".json"), nil
}

// Load reads the document for id. A missing document is created in memory only.
func (s *Store) Load(id string) (*Document, error) {
	path, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	return s.read(id, path)
}

func (s *Store) read(id, path string) (*Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path built from a validated thread id
	if errors.Is(err, fs.ErrNotExist) {
		return newDocument(id, s.timestamp()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", id, err)
	}
	data, _, _ = finalizer.RemoveUTF8BOM(data)
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", id, err)
	}
	if doc.ThreadID == "" {
		doc.ThreadID = id
	}
	doc.normalize()
	return &doc, nil
}

// Update runs fn on the current document under the thread lock and saves the result.
// Nothing is written when fn fails.
func (s *Store) Update(ctx context.Context, id string, fn func(*Document) error) (*Document, error) {
	path, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	var doc *Document
	err = WithLock(ctx, lockPath(path), s.Lock, func() error {
		d, err := s.read(id, path)
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
		d.normalize()
		d.UpdatedAt = s.timestamp()
		if err := s.save(path, d); err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func lockPath(docPath string) string {
	return docPath[:len(docPath)-len(filepath.Ext(docPath))] + ".lock"
}

func (s *Store) save(path string, d *Document) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger %s: %w", d.ThreadID, err)
	}
	res, err := schema.ValidateJSON(data, SchemaName)
	if err != nil {
		return fmt.Errorf("validate ledger %s: %w", d.ThreadID, err)
	}
	if !res.Valid {
		return fmt.Errorf("%w: %s", ErrInvalidDocument, res.Summary())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	if err := safeio.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write ledger %s: %w", d.ThreadID, err)
	}
	logger.Trace("ledger saved", logger.String("thread", d.ThreadID), logger.Int("decisions", len(d.Decisions)))
	return nil
}

// SetScope replaces the thread's edit scope.
func (s *Store) SetScope(ctx context.Context, id string, mustEdit, mustNotEdit []string) (*Document, error) {
	return s.Update(ctx, id, func(d *Document) error {
		d.Scope = Scope{MustEdit: append([]string(nil), mustEdit...), MustNotEdit: append([]string(nil), mustNotEdit...)}
		return nil
	})
}

// SetStatus sets the thread status.
func (s *Store) SetStatus(ctx context.Context, id, status string) (*Document, error) {
	if status == "" {
		return nil, fmt.Errorf("status must not be empty")
	}
	return s.Update(ctx, id, func(d *Document) error {
		d.Status = status
		return nil
	})
}

// SetProject records the project root and the structure detected under workdir/root.
func (s *Store) SetProject(ctx context.Context, id, workdir, root string) (*Document, error) {
	ps, err := DetectProject(filepath.Join(workdir, filepath.FromSlash(root)))
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, id, func(d *Document) error {
		d.ProjectRoot = root
		d.ProjectStructure = ps
		return nil
	})
}

// SetBase records the commit and branch the thread works from.
func (s *Store) SetBase(ctx context.Context, id, sha, branch string) (*Document, error) {
	return s.Update(ctx, id, func(d *Document) error {
		d.BaseSHA = sha
		d.Branch = branch
		return nil
	})
}

// RecordTelemetry adds one generation's token counts, latency and cost to the totals.
func (s *Store) RecordTelemetry(ctx context.Context, id string, prompt, completion int, latency time.Duration, cost float64) (*Document, error) {
	if prompt < 0 || completion < 0 || latency < 0 || cost < 0 {
		return nil, fmt.Errorf("telemetry values must not be negative")
	}
	return s.Update(ctx, id, func(d *Document) error {
		d.Telemetry.Tokens.Prompt += prompt
		d.Telemetry.Tokens.Completion += completion
		d.Telemetry.LatencyMS += latency.Milliseconds()
		d.Telemetry.CostEstimate += cost
		return nil
	})
}

// AppendDecision appends an audit entry.
func (s *Store) AppendDecision(ctx context.Context, id, actor, kind, note string) (*Document, error) {
	if actor == "" {
		return nil, fmt.Errorf("decision actor must not be empty")
	}
	return s.Update(ctx, id, func(d *Document) error {
		d.Decisions = append(d.Decisions, Decision{
			ID:    uuid.NewString(),
			TS:    s.timestamp(),
			Actor: actor,
			Kind:  kind,
			Note:  note,
		})
		return nil
	})
}

// RecordSnapshot stores the hash and size of content as the thread's view of path.
func (s *Store) RecordSnapshot(ctx context.Context, id, path string, snap Snapshot) (*Document, error) {
	return s.Update(ctx, id, func(d *Document) error {
		d.Snapshots[path] = snap
		return nil
	})
}

// RecordPreflight stores the outcome of a patch dry run.
func (s *Store) RecordPreflight(ctx context.Context, id string, ok bool, stderr string) (*Document, error) {
	return s.Update(ctx, id, func(d *Document) error {
		d.DevFix.Preflight = &Preflight{OK: ok, Stderr: stderr}
		return nil
	})
}

// RecordGeneration stores what produced the latest patch.
func (s *Store) RecordGeneration(ctx context.Context, id, model, promptHash, patch string) (*Document, error) {
	return s.Update(ctx, id, func(d *Document) error {
		d.DevFix.Model = model
		d.DevFix.LastPromptHash = promptHash
		d.DevFix.LastGeneratedPatch = patch
		return nil
	})
}

// RecordApplied stores the commit an accepted mutation produced.
func (s *Store) RecordApplied(ctx context.Context, id, commit, patch string) (*Document, error) {
	return s.Update(ctx, id, func(d *Document) error {
		d.DevFix.AppliedCommit = commit
		if patch != "" {
			d.DevFix.LastGeneratedPatch = patch
		}
		return nil
	})
}

// SnapshotOf describes content as a ledger snapshot.
func SnapshotOf(content []byte, ref string) Snapshot {
	return Snapshot{Hash: contract.ContentHash(content), Size: len(content), ContentRef: ref}
}
