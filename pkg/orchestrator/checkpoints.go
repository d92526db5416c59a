package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/tasktree/pkg/engine"
)

// GlobalCheckpointInfo is the listing view of a global checkpoint; the
// snapshotted subtree itself stays inside the tree.
type GlobalCheckpointInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Files       int       `json:"files"`
	CreatedAt   time.Time `json:"created_at"`
}

func globalInfo(gc engine.GlobalCheckpoint) GlobalCheckpointInfo {
	return GlobalCheckpointInfo{
		ID:          gc.ID,
		Name:        gc.Name,
		Description: gc.Description,
		Files:       len(gc.FileChanges),
		CreatedAt:   gc.CreatedAt,
	}
}

// CreateCheckpoint snapshots one task.
func (o *Orchestrator) CreateCheckpoint(ctx context.Context, treeID, taskID, name, description string) (engine.Checkpoint, error) {
	var cp engine.Checkpoint
	err := o.mutate(ctx, "create_checkpoint", treeID, taskID, func(tx *txn) error {
		n, err := tx.tree.MustFind(taskID)
		if err != nil {
			return err
		}
		cp = engine.CreateCheckpoint(n, name, description)
		tx.metrics.RecordCheckpoint("task")

		id := cp.ID
		tx.emit(func() error {
			return tx.pub.PublishCheckpointCreated(treeID, taskID, id, name)
		})
		return nil
	})
	return cp, err
}

// RestoreCheckpoint rolls one task back to a checkpoint and drops every
// later checkpoint of that task.
func (o *Orchestrator) RestoreCheckpoint(ctx context.Context, treeID, taskID, checkpointID string) (engine.Checkpoint, error) {
	var cp engine.Checkpoint
	err := o.mutate(ctx, "restore_checkpoint", treeID, taskID, func(tx *txn) error {
		n, err := tx.tree.MustFind(taskID)
		if err != nil {
			return err
		}
		var previous engine.TaskStatus
		cp, previous, err = engine.RestoreCheckpoint(n, checkpointID)
		if err != nil {
			var ee *engine.EngineError
			if errors.As(err, &ee) {
				return ee.WithTree(treeID)
			}
			return err
		}
		tx.metrics.RecordRollback("task")

		tx.transitioned(engine.TransitionResult{
			TaskID:    taskID,
			Requested: cp.Status,
			Previous:  previous,
			Current:   n.Status,
			Applied:   true,
		})
		current := n.Status
		tx.emit(func() error {
			return tx.pub.PublishCheckpointRestored(treeID, taskID, checkpointID, string(previous), string(current))
		})
		return nil
	})
	return cp, err
}

// ListCheckpoints returns a task's checkpoints, oldest first.
func (o *Orchestrator) ListCheckpoints(ctx context.Context, treeID, taskID string) ([]engine.Checkpoint, error) {
	var out []engine.Checkpoint
	err := o.view(ctx, "list_checkpoints", treeID, taskID, func(tree *engine.TaskTree) error {
		n, err := tree.MustFind(taskID)
		if err != nil {
			return err
		}
		out = append([]engine.Checkpoint{}, n.Checkpoints...)
		return nil
	})
	return out, err
}

// CreateGlobalCheckpoint snapshots the whole tree.
func (o *Orchestrator) CreateGlobalCheckpoint(ctx context.Context, treeID, name, description string) (GlobalCheckpointInfo, error) {
	var info GlobalCheckpointInfo
	err := o.mutate(ctx, "create_global_checkpoint", treeID, "", func(tx *txn) error {
		gc, err := engine.CreateGlobalCheckpoint(tx.tree, name, description)
		if err != nil {
			return err
		}
		tx.metrics.RecordCheckpoint("global")
		info = globalInfo(gc)

		id, files := gc.ID, len(gc.FileChanges)
		tx.emit(func() error {
			return tx.pub.PublishGlobalCheckpointCreated(treeID, id, name, files)
		})
		return nil
	})
	return info, err
}

// RestoreGlobalCheckpoint replaces the tree with a global snapshot and
// returns the file changes the caller should apply to its working copy.
func (o *Orchestrator) RestoreGlobalCheckpoint(ctx context.Context, treeID, checkpointID string) ([]engine.FileChange, error) {
	var changes []engine.FileChange
	err := o.mutate(ctx, "restore_global_checkpoint", treeID, "", func(tx *txn) error {
		gc, err := engine.RestoreGlobalCheckpoint(tx.tree, checkpointID)
		if err != nil {
			return err
		}
		tx.metrics.RecordRollback("global")
		changes = append([]engine.FileChange{}, gc.FileChanges...)

		files := len(changes)
		tx.emit(func() error {
			return tx.pub.PublishGlobalCheckpointRestored(treeID, checkpointID, files)
		})
		return nil
	})
	return changes, err
}

// ListGlobalCheckpoints returns a tree's global checkpoints, oldest first.
func (o *Orchestrator) ListGlobalCheckpoints(ctx context.Context, treeID string) ([]GlobalCheckpointInfo, error) {
	var out []GlobalCheckpointInfo
	err := o.view(ctx, "list_global_checkpoints", treeID, "", func(tree *engine.TaskTree) error {
		out = make([]GlobalCheckpointInfo, 0, len(tree.GlobalCheckpoints))
		for _, gc := range tree.GlobalCheckpoints {
			out = append(out, globalInfo(gc))
		}
		return nil
	})
	return out, err
}
