package orchestrator

import (
	"context"
	"sort"

	"github.com/openfroyo/tasktree/pkg/engine"
	"github.com/openfroyo/tasktree/pkg/stores"
)

// CreateTree admits a blueprint, builds and resolves its tree, registers and
// persists it, and then requests acceptance tests for every eligible leaf.
// Generation never blocks or fails construction.
func (o *Orchestrator) CreateTree(ctx context.Context, bp *engine.Blueprint) (tree *engine.TaskTree, err error) {
	operation := o.tel.StartOperation(ctx, "create_tree")
	defer func() {
		if err != nil {
			o.recordError(err)
		}
		operation.End(err)
	}()
	ctx = operation.Ctx

	if err := engine.ValidateBlueprint(bp); err != nil {
		return nil, err
	}
	if o.policy != nil {
		result, err := o.policy.Admit(ctx, bp, o.failOn)
		if err != nil {
			return nil, err
		}
		for _, v := range result.Violations {
			operation.Logger.WithFields(map[string]interface{}{
				"policy":   v.Policy,
				"module":   v.ModuleID,
				"severity": string(v.Severity),
			}).Warn(v.Message)
		}
	}

	built, err := o.builder.Build(bp)
	if err != nil {
		return nil, err
	}
	if err := engine.ResolveDependencies(built, bp); err != nil {
		return nil, err
	}
	built.RefreshStats()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, errClosed()
	}
	entry := &treeEntry{tree: built, blueprint: built.Blueprint}
	o.trees[built.ID] = entry
	o.tel.Metrics.SetActiveTrees(len(o.trees))
	o.save(ctx, "create_tree", built)
	o.tel.Metrics.SetExecutableTasks(built.ID, len(engine.ExecutableTasks(built)))

	var jobs []generationJob
	for _, leaf := range built.Leaves() {
		if job, ok := o.generationJobFor(entry, leaf); ok {
			jobs = append(jobs, job)
		}
	}
	snapshot, err := cloneTree(built)
	if err == nil {
		o.genWG.Add(len(jobs))
	}
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}

	o.tel.Metrics.RecordTreeCreated(bp.Name)
	o.logger.WithTreeID(built.ID).WithFields(map[string]interface{}{
		"blueprint":   bp.Name,
		"total_tasks": built.Stats.TotalTasks,
		"generation":  len(jobs),
	}).Info("Task tree created")

	if err := o.tel.Events.PublishTreeCreated(built.ID, bp.Name, built.Stats.TotalTasks); err != nil {
		o.logger.WithError(err).Warn("Failed to publish event")
	}
	o.dispatch(jobs)

	return snapshot, nil
}

// GetTree returns an independent copy of a tree.
func (o *Orchestrator) GetTree(ctx context.Context, treeID string) (*engine.TaskTree, error) {
	var out *engine.TaskTree
	err := o.view(ctx, "get_tree", treeID, "", func(tree *engine.TaskTree) error {
		var err error
		out, err = cloneTree(tree)
		return err
	})
	return out, err
}

// ListTrees lists every persisted tree plus live trees whose last save
// failed. Live state wins over the stored summary.
func (o *Orchestrator) ListTrees(ctx context.Context) ([]stores.TreeSummary, error) {
	stored, err := o.store.ListTrees(ctx)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	live := make(map[string]stores.TreeSummary, len(o.trees))
	for id, entry := range o.trees {
		live[id] = stores.Summarize(entry.tree)
	}
	o.mu.Unlock()

	out := make([]stores.TreeSummary, 0, len(stored)+len(live))
	for _, s := range stored {
		if l, ok := live[s.ID]; ok {
			s = l
			delete(live, s.ID)
		}
		out = append(out, s)
	}
	for _, l := range live {
		out = append(out, l)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteTree removes a tree from the registry and the store. Generation
// still in flight for it completes into nothing.
func (o *Orchestrator) DeleteTree(ctx context.Context, treeID string) (err error) {
	operation := o.tel.StartTreeOperation(ctx, "delete_tree", treeID, "")
	defer func() { operation.End(err) }()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errClosed()
	}
	_, live := o.trees[treeID]
	delete(o.trees, treeID)
	o.tel.Metrics.SetActiveTrees(len(o.trees))
	o.tel.Metrics.ForgetTree(treeID)
	err = o.store.DeleteTree(operation.Ctx, treeID)
	o.mu.Unlock()

	switch {
	case err == nil:
	case engine.IsNotFound(err) && live:
		// Only ever held in memory after failed saves.
		err = nil
	default:
		o.recordError(err)
		return err
	}

	o.logger.WithTreeID(treeID).Info("Task tree deleted")
	if perr := o.tel.Events.PublishTreeDeleted(treeID); perr != nil {
		o.logger.WithError(perr).Warn("Failed to publish event")
	}
	return nil
}

// GetStats returns a tree's aggregate stats and derived status.
func (o *Orchestrator) GetStats(ctx context.Context, treeID string) (engine.Stats, engine.TreeStatus, error) {
	var (
		stats  engine.Stats
		status engine.TreeStatus
	)
	err := o.view(ctx, "get_stats", treeID, "", func(tree *engine.TaskTree) error {
		stats, status = tree.Stats, tree.Status
		return nil
	})
	return stats, status, err
}

// CanStart reports whether a task may be assigned and, if not, why.
func (o *Orchestrator) CanStart(ctx context.Context, treeID, taskID string) (bool, []string, error) {
	var (
		ok      bool
		reasons []string
	)
	err := o.view(ctx, "can_start", treeID, taskID, func(tree *engine.TaskTree) error {
		var err error
		ok, reasons, err = engine.CanStart(tree, taskID)
		return err
	})
	return ok, reasons, err
}

// ExecutableTasks returns copies of every assignable leaf, highest
// priority first.
func (o *Orchestrator) ExecutableTasks(ctx context.Context, treeID string) ([]*engine.TaskNode, error) {
	var out []*engine.TaskNode
	err := o.view(ctx, "executable_tasks", treeID, "", func(tree *engine.TaskTree) error {
		ready := engine.ExecutableTasks(tree)
		out = make([]*engine.TaskNode, 0, len(ready))
		for _, n := range ready {
			c, err := engine.CloneNode(n)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

// GetTask returns a copy of one task and its subtree.
func (o *Orchestrator) GetTask(ctx context.Context, treeID, taskID string) (*engine.TaskNode, error) {
	var out *engine.TaskNode
	err := o.view(ctx, "get_task", treeID, taskID, func(tree *engine.TaskTree) error {
		n, err := tree.MustFind(taskID)
		if err != nil {
			return err
		}
		out, err = engine.CloneNode(n)
		return err
	})
	return out, err
}

// Graph returns the dependency graph of a tree as execution levels and a
// DOT rendering.
func (o *Orchestrator) Graph(ctx context.Context, treeID string) ([][]string, string, error) {
	var (
		levels [][]string
		dot    string
	)
	err := o.view(ctx, "graph", treeID, "", func(tree *engine.TaskTree) error {
		b := engine.NewDAGBuilder()
		if _, err := b.BuildGraph(tree); err != nil {
			return err
		}
		levels, dot = b.GetLevels(), b.ToDOT()
		return nil
	})
	return levels, dot, err
}

// cloneTree copies a tree through the codec so callers never share nodes
// with the registry.
func cloneTree(tree *engine.TaskTree) (*engine.TaskTree, error) {
	data, err := engine.DefaultCodec.Encode(tree)
	if err != nil {
		return nil, err
	}
	return engine.DefaultCodec.Decode(data)
}
