package types

import (
	"time"
)

// SelectorVariant distinguishes primary selectors from fallbacks
type SelectorVariant string

const (
	SelectorPrimary  SelectorVariant = "primary"
	SelectorFallback SelectorVariant = "fallback"
)

// Selector is one CSS selector candidate for a container
type Selector struct {
	CSS     string          `json:"css"`
	Variant SelectorVariant `json:"variant,omitempty"`
}

// DeclaredOperation lists an operation a container permits, with the
// default config merged under caller config at enqueue time
type DeclaredOperation struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// ContainerDefinition is the durable description of a page region,
// loaded from container.json files in the library tree.
//
// Dot-path ids encode nesting: every child id begins with its parent id
// plus ".". Only roots carry RootPattern.
type ContainerDefinition struct {
	ID           string              `json:"id"`
	Site         string              `json:"site"`
	RootPattern  string              `json:"root_pattern,omitempty"`
	Selectors    []Selector          `json:"selectors"`
	Capabilities []string            `json:"capabilities,omitempty"`
	Operations   []DeclaredOperation `json:"operations,omitempty"`
	Children     []string            `json:"children,omitempty"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
}

// IsRoot reports whether the definition is a tree root
func (d *ContainerDefinition) IsRoot() bool {
	return d.RootPattern != ""
}

// ParentID returns the id of the declared parent, or "" for roots
func (d *ContainerDefinition) ParentID() string {
	for i := len(d.ID) - 1; i >= 0; i-- {
		if d.ID[i] == '.' {
			return d.ID[:i]
		}
	}
	return ""
}

// HasCapability reports whether the container declares the capability
func (d *ContainerDefinition) HasCapability(cap string) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// DeclaredConfig returns the default config declared for an operation,
// or nil when the operation is not declared
func (d *ContainerDefinition) DeclaredConfig(opID string) map[string]any {
	for _, op := range d.Operations {
		if op.Type == opID {
			return op.Config
		}
	}
	return nil
}

// ContainerInstance is a live binding of a definition to a DOM node
// produced by one matcher pass. Instances are never mutated across
// matches; a fresh pass produces fresh instances.
type ContainerInstance struct {
	InstanceID       string   `json:"instance_id"`
	DefinitionID     string   `json:"definition_id"`
	NodeRef          string   `json:"node_ref,omitempty"` // "root/div[2]/span[0]" style DOM path
	URL              string   `json:"url"`
	Selector         string   `json:"selector,omitempty"` // the css that won
	MatchCount       int      `json:"match_count"`
	NodeRefs         []string `json:"node_refs,omitempty"` // one path per matched node
	ParentInstanceID string   `json:"parent_instance_id,omitempty"`
	Children         []string `json:"children,omitempty"` // child instance ids
}

// DOMSignals are the minimal page-level observations the matcher
// exposes alongside the container tree. Checkpoint detection combines
// them with container matches because neither URL nor DOM alone can be
// trusted on anti-bot sites.
type DOMSignals struct {
	HasDetailMask  bool   `json:"has_detail_mask"`
	HasSearchInput bool   `json:"has_search_input"`
	ReadyState     string `json:"ready_state"`
	Title          string `json:"title"`
}

// Snapshot is the immutable value object returned by a matcher pass
type Snapshot struct {
	URL        string             `json:"url"`
	Profile    string             `json:"profile"`
	RootMatch  *ContainerInstance `json:"root_match,omitempty"`
	Tree       []*SnapshotNode    `json:"container_tree"`
	MatchedIDs []string           `json:"matched_ids"`
	Signals    DOMSignals         `json:"signals"`
	TakenAt    time.Time          `json:"taken_at"`
}

// SnapshotNode pairs a definition id with its instance. Instance is nil
// when the region did not match; zero-match nodes are retained so
// callers can reason about expected-but-absent regions.
type SnapshotNode struct {
	DefinitionID string             `json:"definition_id"`
	Instance     *ContainerInstance `json:"instance,omitempty"`
	MatchCount   int                `json:"match_count"`
	Children     []*SnapshotNode    `json:"children,omitempty"`
}

// Matched reports whether an id matched at least one DOM node
func (s *Snapshot) Matched(id string) bool {
	for _, m := range s.MatchedIDs {
		if m == id {
			return true
		}
	}
	return false
}

// Instance returns the instance bound to a definition id, or nil
func (s *Snapshot) Instance(id string) *ContainerInstance {
	var find func(nodes []*SnapshotNode) *ContainerInstance
	find = func(nodes []*SnapshotNode) *ContainerInstance {
		for _, n := range nodes {
			if n.DefinitionID == id {
				return n.Instance
			}
			if inst := find(n.Children); inst != nil {
				return inst
			}
		}
		return nil
	}
	return find(s.Tree)
}

// TaskStatus represents the lifecycle state of a queued operation
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is final
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// OperationTask is a queue record. It is owned exclusively by its
// queue until it reaches a terminal status.
type OperationTask struct {
	ID          string         `json:"id"`
	ContainerID string         `json:"container_id"`
	OperationID string         `json:"operation_id"`
	Priority    int            `json:"priority"`
	Config      map[string]any `json:"config,omitempty"`
	Status      TaskStatus     `json:"status"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	FinishedAt  time.Time      `json:"finished_at,omitzero"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Event       string         `json:"event,omitempty"` // originating bus event, if dispatched
}

// WorkflowStep is one entry in a workflow definition. Input values that
// are whole-string "$name" references resolve against the shared
// workflow context at dispatch time.
type WorkflowStep struct {
	Block string         `json:"block"`
	Input map[string]any `json:"input,omitempty"`
}

// WorkflowDefinition names an ordered list of steps
type WorkflowDefinition struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Steps []WorkflowStep `json:"steps"`
}

// CheckpointID names a page state that gates workflow progress
type CheckpointID string

const (
	CheckpointHomeReady     CheckpointID = "home_ready"
	CheckpointSearchReady   CheckpointID = "search_ready"
	CheckpointDetailReady   CheckpointID = "detail_ready"
	CheckpointCommentsReady CheckpointID = "comments_ready"
	CheckpointLoginGuard    CheckpointID = "login_guard"
	CheckpointRiskControl   CheckpointID = "risk_control"
	CheckpointOffsite       CheckpointID = "offsite"
	CheckpointUnknown       CheckpointID = "unknown"
)

// Terminal reports whether automated recovery from the checkpoint is
// forbidden and the operator must intervene
func (c CheckpointID) Terminal() bool {
	return c == CheckpointRiskControl || c == CheckpointOffsite
}

// ProgressEvent is one record of the append-only progress log.
// Seq is opaque to consumers beyond lexicographic ordering.
type ProgressEvent struct {
	TS        time.Time      `json:"ts"`
	Seq       string         `json:"seq"`
	Source    string         `json:"source"`
	Mode      string         `json:"mode,omitempty"`
	ProfileID string         `json:"profile_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// RateLimitPermit authorises one platform search call for a keyword.
// The core consumes permits; an external service mints them.
type RateLimitPermit struct {
	Keyword   string    `json:"keyword"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	TTLMs     int64     `json:"ttl_ms"`
}

// Expired reports whether the permit's TTL has elapsed
func (p *RateLimitPermit) Expired(now time.Time) bool {
	return now.After(p.IssuedAt.Add(time.Duration(p.TTLMs) * time.Millisecond))
}

// Session identifies one live browser profile on the bridge
type Session struct {
	ID        string    `json:"id"`
	Profile   string    `json:"profile"`
	Site      string    `json:"site,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen,omitzero"`
}

// RunRecord journals one workflow run for cross-process observability
type RunRecord struct {
	ID         string       `json:"id"`
	WorkflowID string       `json:"workflow_id"`
	ProfileID  string       `json:"profile_id,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at,omitzero"`
	Success    bool         `json:"success"`
	FailedAt   int          `json:"failed_at"` // step index, -1 when none
	Error      string       `json:"error,omitempty"`
	Checkpoint CheckpointID `json:"checkpoint,omitempty"` // last known
}

// LogConfig holds the logging section of Config
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
	JSON  bool   `yaml:"json,omitempty"`
}

// Config is the single configuration struct the core accepts
type Config struct {
	LibraryRoot         string    `yaml:"library_root"`
	BridgeURL           string    `yaml:"bridge_url"`
	PermitURL           string    `yaml:"permit_url,omitempty"`
	ProgressFile        string    `yaml:"progress_file,omitempty"`
	EventReplayMaxBytes int64     `yaml:"event_replay_max_bytes,omitempty"`
	DataDir             string    `yaml:"data_dir,omitempty"`
	DownloadDir         string    `yaml:"download_dir,omitempty"`
	Log                 LogConfig `yaml:"log,omitempty"`
}
