package engine

import "fmt"

// TaskStatus is the development stage of a task node.
type TaskStatus string

const (
	// StatusPending indicates the task has not been started.
	StatusPending TaskStatus = "pending"

	// StatusBlocked indicates the task is waiting on something outside the tree.
	StatusBlocked TaskStatus = "blocked"

	// StatusTestWriting indicates acceptance tests are being written.
	StatusTestWriting TaskStatus = "test_writing"

	// StatusCoding indicates the implementation is being written.
	StatusCoding TaskStatus = "coding"

	// StatusTesting indicates tests are running against the implementation.
	StatusTesting TaskStatus = "testing"

	// StatusTestFailed indicates the last test run failed.
	StatusTestFailed TaskStatus = "test_failed"

	// StatusPassed indicates all tests passed.
	StatusPassed TaskStatus = "passed"

	// StatusRejected indicates a reviewer rejected the result.
	StatusRejected TaskStatus = "rejected"

	// StatusApproved indicates a reviewer accepted the result. Terminal.
	StatusApproved TaskStatus = "approved"

	// StatusCancelled indicates the task was abandoned. Terminal.
	StatusCancelled TaskStatus = "cancelled"
)

// AllStatuses lists every task status in lifecycle order.
var AllStatuses = []TaskStatus{
	StatusPending, StatusBlocked, StatusTestWriting, StatusCoding, StatusTesting,
	StatusTestFailed, StatusPassed, StatusRejected, StatusApproved, StatusCancelled,
}

// IsTerminal returns true if no further transition is accepted from this status.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusCancelled
}

// IsActive returns true if work on the task is in progress.
func (s TaskStatus) IsActive() bool {
	return s == StatusTestWriting || s == StatusCoding || s == StatusTesting
}

// IsDone returns true if the task satisfies dependents.
func (s TaskStatus) IsDone() bool {
	return s == StatusPassed || s == StatusApproved
}

// IsFailed returns true if the task needs rework.
func (s TaskStatus) IsFailed() bool {
	return s == StatusTestFailed || s == StatusRejected
}

// IsStartable returns true if the task may be assigned once its dependencies are met.
func (s TaskStatus) IsStartable() bool {
	return s == StatusPending || s == StatusBlocked
}

// Validate checks if the task status is valid.
func (s TaskStatus) Validate() error {
	for _, known := range AllStatuses {
		if s == known {
			return nil
		}
	}
	return fmt.Errorf("invalid task status: %s", s)
}

// illegalTransitions lists source/target pairs the status machine refuses.
// Terminal sources are handled separately and refuse every target.
var illegalTransitions = map[TaskStatus]map[TaskStatus]bool{
	// A regression from passed must go through an explicit reset to pending,
	// so a late failure report cannot overwrite a superseded result.
	StatusPassed: {
		StatusTestFailed: true,
		StatusRejected:   true,
	},
}

// CanTransition reports whether moving from one status to another is legal.
// A same-state update is always legal; it is treated as a metadata merge.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	return !illegalTransitions[from][to]
}

// TreeStatus is the overall status of a task tree.
type TreeStatus string

const (
	TreeStatusPending    TreeStatus = "pending"
	TreeStatusInProgress TreeStatus = "in_progress"
	TreeStatusFailed     TreeStatus = "failed"
	TreeStatusCompleted  TreeStatus = "completed"
)

// ModuleType classifies a blueprint module.
type ModuleType string

const (
	ModuleInfrastructure ModuleType = "infrastructure"
	ModuleDatabase       ModuleType = "database"
	ModuleBackend        ModuleType = "backend"
	ModuleService        ModuleType = "service"
	ModuleFrontend       ModuleType = "frontend"
	ModuleOther          ModuleType = "other"
)

// TaskType tags the role of a task node.
type TaskType string

const (
	TaskTypeGeneric     TaskType = "generic"
	TaskTypeProjectInit TaskType = "project_init"
	TaskTypeFeature     TaskType = "feature"
)

// Provenance marks where a task's requirement came from.
type Provenance string

const (
	// ProvenanceRequirement tasks come from new requirements and need
	// test-first generation.
	ProvenanceRequirement Provenance = "requirement"

	// ProvenanceCodebase tasks were reverse-engineered from existing code
	// and are exempt from acceptance-test generation.
	ProvenanceCodebase Provenance = "codebase"
)

// ArtifactType classifies a produced artifact.
type ArtifactType string

const (
	ArtifactTest ArtifactType = "test"
	ArtifactCode ArtifactType = "code"
	ArtifactDoc  ArtifactType = "doc"
)

// FileAction describes what a file change does to the working tree.
type FileAction string

const (
	FileActionWrite FileAction = "write"
)
