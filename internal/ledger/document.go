package ledger

// DefaultStatus is the status of a freshly created thread.
const DefaultStatus = "triage"

// Document is the durable record of one thread.
type Document struct {
	ThreadID         string                 `json:"thread_id" yaml:"thread_id"`
	Repo             string                 `json:"repo,omitempty" yaml:"repo,omitempty"`
	Status           string                 `json:"status" yaml:"status"`
	ProjectRoot      string                 `json:"project_root,omitempty" yaml:"project_root,omitempty"`
	ProjectStructure *ProjectStructure      `json:"project_structure,omitempty" yaml:"project_structure,omitempty"`
	BaseSHA          string                 `json:"base_sha,omitempty" yaml:"base_sha,omitempty"`
	Branch           string                 `json:"branch,omitempty" yaml:"branch,omitempty"`
	Scope            Scope                  `json:"scope" yaml:"scope"`
	Reviewer         map[string]interface{} `json:"reviewer,omitempty" yaml:"reviewer,omitempty"`
	DevFix           DevFix                 `json:"dev_fix" yaml:"dev_fix"`
	CI               map[string]interface{} `json:"ci,omitempty" yaml:"ci,omitempty"`
	Snapshots        map[string]Snapshot    `json:"snapshots" yaml:"snapshots"`
	Decisions        []Decision             `json:"decisions" yaml:"decisions"`
	Policy           map[string]interface{} `json:"policy,omitempty" yaml:"policy,omitempty"`
	Telemetry        Telemetry              `json:"telemetry" yaml:"telemetry"`
	CreatedAt        string                 `json:"created_at" yaml:"created_at"`
	UpdatedAt        string                 `json:"updated_at" yaml:"updated_at"`
}

type Scope struct {
	MustEdit    []string `json:"must_edit" yaml:"must_edit"`
	MustNotEdit []string `json:"must_not_edit" yaml:"must_not_edit"`
}

// ProjectStructure is what SetProject detected under the project root.
type ProjectStructure struct {
	Name      string   `json:"name,omitempty" yaml:"name,omitempty"`
	Manifests []string `json:"manifests" yaml:"manifests"`
	Languages []string `json:"languages" yaml:"languages"`
	Files     []string `json:"files,omitempty" yaml:"files,omitempty"`
}

type DevFix struct {
	Model              string                 `json:"model,omitempty" yaml:"model,omitempty"`
	Params             map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	LastPromptHash     string                 `json:"last_prompt_hash,omitempty" yaml:"last_prompt_hash,omitempty"`
	LastGeneratedPatch string                 `json:"last_generated_patch,omitempty" yaml:"last_generated_patch,omitempty"`
	Preflight          *Preflight             `json:"preflight,omitempty" yaml:"preflight,omitempty"`
	AppliedCommit      string                 `json:"applied_commit,omitempty" yaml:"applied_commit,omitempty"`
}

type Preflight struct {
	OK     bool   `json:"ok" yaml:"ok"`
	Stderr string `json:"stderr" yaml:"stderr"`
}

// Snapshot is the metadata of a file as last seen by the pipeline.
type Snapshot struct {
	Hash       string `json:"hash" yaml:"hash"`
	Size       int    `json:"size" yaml:"size"`
	ContentRef string `json:"content_ref,omitempty" yaml:"content_ref,omitempty"`
}

// Decision is one append-only audit entry.
type Decision struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	TS    string `json:"ts" yaml:"ts"`
	Actor string `json:"actor" yaml:"actor"`
	Kind  string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Note  string `json:"note" yaml:"note"`
}

type Telemetry struct {
	Tokens       Tokens  `json:"tokens" yaml:"tokens"`
	LatencyMS    int64   `json:"latency_ms" yaml:"latency_ms"`
	CostEstimate float64 `json:"cost_estimate" yaml:"cost_estimate"`
}

type Tokens struct {
	Prompt     int `json:"prompt" yaml:"prompt"`
	Completion int `json:"completion" yaml:"completion"`
}

func newDocument(id, now string) *Document {
	d := &Document{ThreadID: id, Status: DefaultStatus, CreatedAt: now, UpdatedAt: now}
	d.normalize()
	return d
}

// normalize replaces nil collections so the document always serializes with arrays and objects.
func (d *Document) normalize() {
	if d.Status == "" {
		d.Status = DefaultStatus
	}
	if d.Scope.MustEdit == nil {
		d.Scope.MustEdit = []string{}
	}
	if d.Scope.MustNotEdit == nil {
		d.Scope.MustNotEdit = []string{}
	}
	if d.Snapshots == nil {
		d.Snapshots = map[string]Snapshot{}
	}
	if d.Decisions == nil {
		d.Decisions = []Decision{}
	}
	if ps := d.ProjectStructure; ps != nil {
		if ps.Manifests == nil {
			ps.Manifests = []string{}
		}
		if ps.Languages == nil {
			ps.Languages = []string{}
		}
	}
}
