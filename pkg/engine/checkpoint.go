package engine

import (
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
)

// GenerateID returns a new identifier for checkpoints and artifacts.
var GenerateID = func() string { return uuid.New().String() }

// ContentHash returns the FNV-1a 32-bit hash of content as 8 hex digits.
// It detects changes between snapshots; it is not an integrity check.
func ContentHash(content string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(content))
	return fmt.Sprintf("%08x", h.Sum32())
}

// NewArtifact creates an artifact record stamped with the engine clock.
func NewArtifact(typ ArtifactType, path, content string) Artifact {
	return Artifact{
		ID:        GenerateID(),
		Type:      typ,
		Path:      path,
		Content:   content,
		CreatedAt: now(),
	}
}

// CreateCheckpoint snapshots a task's status, latest test result and every
// artifact, and appends the checkpoint to the task.
func CreateCheckpoint(n *TaskNode, name, description string) Checkpoint {
	cp := Checkpoint{
		ID:          GenerateID(),
		Name:        name,
		Description: description,
		Status:      n.Status,
		TestResult:  copyTestResult(n.LatestTestResult),
		Files:       make([]FileSnapshot, 0, len(n.Artifacts)),
		CreatedAt:   now(),
	}
	for _, a := range n.Artifacts {
		cp.Files = append(cp.Files, FileSnapshot{
			Path:    a.Path,
			Type:    a.Type,
			Content: a.Content,
			Hash:    ContentHash(a.Content),
		})
	}
	n.Checkpoints = append(n.Checkpoints, cp)
	return cp
}

// RestoreCheckpoint rolls a task back to a checkpoint. Status and latest
// test result take their captured values; the snapshotted files are
// re-appended as new artifacts tagged with the checkpoint ID, leaving the
// intermediate artifacts in place; checkpoints after the restored one are
// dropped. It returns the restored checkpoint and the status before restore.
// A task in a terminal status cannot be rolled back.
func RestoreCheckpoint(n *TaskNode, checkpointID string) (Checkpoint, TaskStatus, error) {
	idx := -1
	for i := range n.Checkpoints {
		if n.Checkpoints[i].ID == checkpointID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Checkpoint{}, n.Status, NewNotFoundError("checkpoint", checkpointID).WithTask(n.ID)
	}

	if n.Status.IsTerminal() {
		return Checkpoint{}, n.Status, NewConflictError(
			fmt.Sprintf("cannot restore checkpoint of %s task", n.Status), nil,
		).WithCode(ErrCodeIllegalTransition).WithTask(n.ID).WithDetail("checkpoint_id", checkpointID)
	}

	cp := n.Checkpoints[idx]
	previous := n.Status
	if n.Status != cp.Status {
		setStatus(n, cp.Status)
	}
	n.LatestTestResult = copyTestResult(cp.TestResult)

	restoredAt := now()
	for _, f := range cp.Files {
		n.Artifacts = append(n.Artifacts, Artifact{
			ID:           GenerateID(),
			Type:         f.Type,
			Path:         f.Path,
			Content:      f.Content,
			CheckpointID: cp.ID,
			CreatedAt:    restoredAt,
		})
	}

	n.Checkpoints = n.Checkpoints[:idx+1]
	return cp, previous, nil
}

// CreateGlobalCheckpoint snapshots the whole root subtree together with a
// flat list of every artifact as a file change, and appends it to the tree.
func CreateGlobalCheckpoint(tree *TaskTree, name, description string) (GlobalCheckpoint, error) {
	root, err := CloneNode(tree.Root)
	if err != nil {
		return GlobalCheckpoint{}, err
	}

	gc := GlobalCheckpoint{
		ID:          GenerateID(),
		Name:        name,
		Description: description,
		Root:        root,
		FileChanges: CollectFileChanges(root),
		CreatedAt:   now(),
	}
	tree.GlobalCheckpoints = append(tree.GlobalCheckpoints, gc)
	return gc, nil
}

// RestoreGlobalCheckpoint replaces the tree's root with a fresh copy of the
// checkpointed one, rebuilds the index and drops later global checkpoints.
// Working files are not touched: the caller applies the returned changes.
func RestoreGlobalCheckpoint(tree *TaskTree, checkpointID string) (GlobalCheckpoint, error) {
	idx := -1
	for i := range tree.GlobalCheckpoints {
		if tree.GlobalCheckpoints[i].ID == checkpointID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return GlobalCheckpoint{}, NewNotFoundError("global checkpoint", checkpointID).WithTree(tree.ID)
	}

	gc := tree.GlobalCheckpoints[idx]
	root, err := CloneNode(gc.Root)
	if err != nil {
		return GlobalCheckpoint{}, err
	}

	previous := tree.Root
	tree.Root = root
	if err := tree.ValidateStructure(); err != nil {
		tree.Root = previous
		tree.Reindex()
		return GlobalCheckpoint{}, err
	}

	tree.GlobalCheckpoints = tree.GlobalCheckpoints[:idx+1]
	return gc, nil
}

// CollectFileChanges flattens every artifact under root into write actions,
// in tree pre-order and artifact order.
func CollectFileChanges(root *TaskNode) []FileChange {
	changes := []FileChange{}
	Walk(root, func(n *TaskNode) bool {
		for _, a := range n.Artifacts {
			changes = append(changes, FileChange{
				TaskID:  n.ID,
				Path:    a.Path,
				Content: a.Content,
				Hash:    ContentHash(a.Content),
				Action:  FileActionWrite,
			})
		}
		return true
	})
	return changes
}

func copyTestResult(r *TestResult) *TestResult {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
