package engine

import (
	"time"
)

// Blueprint is a structured decomposition of a software project.
// The engine consumes blueprints; it never mutates them.
type Blueprint struct {
	// ID is the unique identifier of the blueprint.
	ID string `json:"id" yaml:"id"`

	// Name is the project name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description is a free-text project summary.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Provenance is the default provenance tag for every module.
	Provenance Provenance `json:"provenance,omitempty" yaml:"provenance,omitempty" validate:"omitempty,oneof=requirement codebase"`

	// Modules lists the project modules in declaration order.
	Modules []Module `json:"modules" yaml:"modules" validate:"dive"`
}

// Module is a blueprint-level grouping of responsibilities and interfaces.
type Module struct {
	// ID is the module identifier referenced by other modules' dependencies.
	ID string `json:"id" yaml:"id" validate:"required"`

	// Name is the human-readable module name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description is a free-text module summary.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Type drives the module task priority.
	Type ModuleType `json:"type" yaml:"type" validate:"required,oneof=infrastructure database backend service frontend other"`

	// Responsibilities become one leaf task each.
	Responsibilities []string `json:"responsibilities,omitempty" yaml:"responsibilities,omitempty"`

	// Interfaces become one task each.
	Interfaces []Interface `json:"interfaces,omitempty" yaml:"interfaces,omitempty" validate:"dive"`

	// Dependencies lists module IDs this module depends on.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// Provenance overrides the blueprint provenance for this module.
	Provenance Provenance `json:"provenance,omitempty" yaml:"provenance,omitempty" validate:"omitempty,oneof=requirement codebase"`
}

// Interface is a typed interface a module exposes.
type Interface struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// FindModule returns the module with the given ID, or nil.
func (b *Blueprint) FindModule(id string) *Module {
	for i := range b.Modules {
		if b.Modules[i].ID == id {
			return &b.Modules[i]
		}
	}
	return nil
}

// TaskNode is a unit of work. A node owns its children exclusively;
// dependencies are weak references resolved by ID.
//
// Slices and maps are serialized without omitempty so that nil and empty
// values survive a codec round trip unchanged.
type TaskNode struct {
	ID          string     `json:"id"`
	ParentID    string     `json:"parent_id"`
	Depth       int        `json:"depth"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        TaskType   `json:"type"`
	ModuleID    string     `json:"module_id"`
	Priority    int        `json:"priority"`
	Status      TaskStatus `json:"status"`
	Provenance  Provenance `json:"provenance"`

	// Children are owned by this node.
	Children []*TaskNode `json:"children"`

	// Dependencies are task IDs that must be passed or approved before this
	// task can start. They may point anywhere in the same tree.
	Dependencies []string `json:"dependencies"`

	RetryCount     int `json:"retry_count"`
	MaxRetries     int `json:"max_retries"`
	TestRetryCount int `json:"test_retry_count"`
	MaxTestRetries int `json:"max_test_retries"`

	AcceptanceTests  []AcceptanceTest `json:"acceptance_tests"`
	LatestTestResult *TestResult      `json:"latest_test_result"`
	Artifacts        []Artifact       `json:"artifacts"`
	Checkpoints      []Checkpoint     `json:"checkpoints"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	Metadata map[string]string `json:"metadata"`
}

// IsLeaf returns true if the node has no children.
func (n *TaskNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// TaskTree is the root node plus tree-level bookkeeping.
type TaskTree struct {
	ID          string    `json:"id"`
	BlueprintID string    `json:"blueprint_id"`
	Root        *TaskNode `json:"root"`

	// Blueprint is the copy the tree was built from. Documents written
	// before it was recorded decode with nil.
	Blueprint *Blueprint `json:"blueprint"`

	Stats             Stats              `json:"stats"`
	Status            TreeStatus         `json:"status"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	GlobalCheckpoints []GlobalCheckpoint `json:"global_checkpoints"`

	index *Index
}

// Stats are aggregate counts over a whole tree.
// The status-category counts partition TotalTasks.
type Stats struct {
	TotalTasks        int     `json:"total_tasks"`
	Leaves            int     `json:"leaves"`
	Pending           int     `json:"pending"`
	Blocked           int     `json:"blocked"`
	InProgress        int     `json:"in_progress"`
	Failed            int     `json:"failed"`
	Passed            int     `json:"passed"`
	Approved          int     `json:"approved"`
	Cancelled         int     `json:"cancelled"`
	CompletionPercent float64 `json:"completion_percent"`
}

// TestResult is the outcome of running a task's tests.
type TestResult struct {
	Passed     bool          `json:"passed"`
	Total      int           `json:"total"`
	Failures   int           `json:"failures"`
	Output     string        `json:"output"`
	Duration   time.Duration `json:"duration"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// AcceptanceTest is a generated test attached to a task. The engine stores
// the source verbatim and never interprets it.
type AcceptanceTest struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Source    string    `json:"source"`
	Runs      []TestRun `json:"runs"`
	CreatedAt time.Time `json:"created_at"`
}

// TestRun records one execution of an acceptance test.
type TestRun struct {
	Passed bool      `json:"passed"`
	Output string    `json:"output"`
	RanAt  time.Time `json:"ran_at"`
}

// Artifact is a file produced while working on a task.
type Artifact struct {
	ID      string       `json:"id"`
	Type    ArtifactType `json:"type"`
	Path    string       `json:"path"`
	Content string       `json:"content"`

	// CheckpointID is set when the artifact was re-appended by a checkpoint restore.
	CheckpointID string    `json:"checkpoint_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Checkpoint is an immutable per-task snapshot.
type Checkpoint struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      TaskStatus     `json:"status"`
	TestResult  *TestResult    `json:"test_result"`
	Files       []FileSnapshot `json:"files"`
	CreatedAt   time.Time      `json:"created_at"`
}

// FileSnapshot captures one artifact at checkpoint time.
type FileSnapshot struct {
	Path    string       `json:"path"`
	Type    ArtifactType `json:"type"`
	Content string       `json:"content"`
	Hash    string       `json:"hash"`
}

// GlobalCheckpoint is an immutable whole-tree snapshot.
type GlobalCheckpoint struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Root        *TaskNode    `json:"root"`
	FileChanges []FileChange `json:"file_changes"`
	CreatedAt   time.Time    `json:"created_at"`
}

// FileChange is one entry of the flattened file list derived from every
// artifact in a global checkpoint. Callers apply these to their working copy.
type FileChange struct {
	TaskID  string     `json:"task_id"`
	Path    string     `json:"path"`
	Content string     `json:"content"`
	Hash    string     `json:"hash"`
	Action  FileAction `json:"action"`
}

// now returns the engine clock reading: UTC with the monotonic reading
// stripped so timestamps survive serialization unchanged.
func now() time.Time {
	return time.Now().UTC().Round(0)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
