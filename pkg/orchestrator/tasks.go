package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/tasktree/pkg/engine"
)

// TaskSpec describes a task added by dynamic refinement.
type TaskSpec struct {
	Name        string
	Description string
	Priority    int

	// Provenance defaults to the parent's.
	Provenance engine.Provenance

	// Dependencies are task IDs anywhere in the tree.
	Dependencies []string

	Metadata map[string]string
}

// UpdateTaskStatus requests a status change. Illegal requests are absorbed:
// the result reports Applied=false with a reason, nothing is saved and no
// event fires. Use TransitionResult.Err for strict handling. An unknown tree
// or task is a NOT_FOUND error.
func (o *Orchestrator) UpdateTaskStatus(ctx context.Context, treeID, taskID string, status engine.TaskStatus, metadata map[string]string) (engine.TransitionResult, error) {
	var res engine.TransitionResult
	err := o.mutate(ctx, "update_task_status", treeID, taskID, func(tx *txn) error {
		n, err := tx.tree.MustFind(taskID)
		if err != nil {
			return err
		}
		res = engine.Transition(n, status, metadata)
		tx.transitioned(res)
		if !res.Applied {
			tx.logger.WithTaskID(taskID).WithField("reason", res.Reason).Debug("Status update absorbed")
			tx.noop = true
		}
		return nil
	})
	return res, err
}

// RecordTestResult stores the latest test run of a task. A failed run
// counts against the task's test retries. A task in testing moves to passed
// or test_failed.
func (o *Orchestrator) RecordTestResult(ctx context.Context, treeID, taskID string, result engine.TestResult) error {
	return o.mutate(ctx, "record_test_result", treeID, taskID, func(tx *txn) error {
		n, err := tx.tree.MustFind(taskID)
		if err != nil {
			return err
		}
		if result.RecordedAt.IsZero() {
			result.RecordedAt = time.Now()
		}
		result.RecordedAt = result.RecordedAt.UTC().Round(0)
		n.LatestTestResult = &result
		if !result.Passed {
			n.TestRetryCount++
		}

		if n.Status == engine.StatusTesting {
			to := engine.StatusPassed
			if !result.Passed {
				to = engine.StatusTestFailed
			}
			tx.transitioned(engine.Transition(n, to, nil))
		}

		passed := result.Passed
		tx.emit(func() error {
			return tx.pub.PublishTaskTestResult(treeID, taskID, passed, "")
		})
		return nil
	})
}

// RecordAcceptanceTestResult appends a run to one of a task's acceptance
// tests.
func (o *Orchestrator) RecordAcceptanceTestResult(ctx context.Context, treeID, taskID, testID string, passed bool, output string) error {
	return o.mutate(ctx, "record_acceptance_test_result", treeID, taskID, func(tx *txn) error {
		n, err := tx.tree.MustFind(taskID)
		if err != nil {
			return err
		}
		for i := range n.AcceptanceTests {
			at := &n.AcceptanceTests[i]
			if at.ID != testID {
				continue
			}
			at.Runs = append(at.Runs, engine.TestRun{
				Passed: passed,
				Output: output,
				RanAt:  time.Now().UTC().Round(0),
			})
			tx.emit(func() error {
				return tx.pub.PublishTaskTestResult(treeID, taskID, passed, testID)
			})
			return nil
		}
		return engine.NewNotFoundError("acceptance test", testID).WithTree(treeID).WithTask(taskID)
	})
}

// AppendArtifact records a file produced for a task.
func (o *Orchestrator) AppendArtifact(ctx context.Context, treeID, taskID string, typ engine.ArtifactType, path, content string) (engine.Artifact, error) {
	var artifact engine.Artifact
	err := o.mutate(ctx, "append_artifact", treeID, taskID, func(tx *txn) error {
		switch typ {
		case engine.ArtifactTest, engine.ArtifactCode, engine.ArtifactDoc:
		default:
			return engine.NewPermanentError(fmt.Sprintf("unknown artifact type: %q", typ), nil).
				WithCode(engine.ErrCodeValidation).WithTree(treeID).WithTask(taskID)
		}
		if path == "" {
			return engine.NewPermanentError("artifact path is required", nil).
				WithCode(engine.ErrCodeValidation).WithTree(treeID).WithTask(taskID)
		}

		n, err := tx.tree.MustFind(taskID)
		if err != nil {
			return err
		}
		artifact = engine.NewArtifact(typ, path, content)
		n.Artifacts = append(n.Artifacts, artifact)

		id := artifact.ID
		tx.emit(func() error {
			return tx.pub.PublishArtifactAdded(treeID, taskID, id, path)
		})
		return nil
	})
	return artifact, err
}

// SetAcceptanceTests replaces a task's acceptance tests.
func (o *Orchestrator) SetAcceptanceTests(ctx context.Context, treeID, taskID string, tests []TestSpec) error {
	return o.mutate(ctx, "set_acceptance_tests", treeID, taskID, func(tx *txn) error {
		n, err := tx.tree.MustFind(taskID)
		if err != nil {
			return err
		}
		setAcceptanceTests(tx, n, tests)
		return nil
	})
}

func setAcceptanceTests(tx *txn, n *engine.TaskNode, tests []TestSpec) {
	created := time.Now().UTC().Round(0)
	out := make([]engine.AcceptanceTest, 0, len(tests))
	for _, t := range tests {
		out = append(out, engine.AcceptanceTest{
			ID:        engine.GenerateID(),
			Name:      t.Name,
			Path:      t.Path,
			Source:    t.Source,
			Runs:      []engine.TestRun{},
			CreatedAt: created,
		})
	}
	n.AcceptanceTests = out

	treeID, taskID, count := tx.tree.ID, n.ID, len(out)
	tx.emit(func() error {
		return tx.pub.PublishAcceptanceTestsSet(treeID, taskID, count)
	})
}

// AddTask refines a task by attaching a new pending child under parentID.
// The child inherits the parent's module and, unless given, its
// provenance. Acceptance tests are requested for it like for any new leaf.
func (o *Orchestrator) AddTask(ctx context.Context, treeID, parentID string, spec TaskSpec) (*engine.TaskNode, error) {
	var added *engine.TaskNode
	err := o.mutate(ctx, "add_task", treeID, parentID, func(tx *txn) error {
		if spec.Name == "" {
			return engine.NewPermanentError("task name is required", nil).
				WithCode(engine.ErrCodeValidation).WithTree(treeID)
		}
		parent, err := tx.tree.MustFind(parentID)
		if err != nil {
			return err
		}
		if parent.Status.IsTerminal() {
			return engine.NewPermanentError(fmt.Sprintf("cannot refine a %s task", parent.Status), nil).
				WithCode(engine.ErrCodeValidation).WithTree(treeID).WithTask(parentID)
		}
		ancestors := map[string]bool{}
		for id := parentID; id != ""; {
			ancestors[id] = true
			p, ok := tx.tree.Parent(id)
			if !ok {
				break
			}
			id = p.ID
		}
		for _, dep := range spec.Dependencies {
			if _, ok := tx.tree.Find(dep); !ok {
				return engine.NewPermanentError(fmt.Sprintf("dependency %s does not exist", dep), nil).
					WithCode(engine.ErrCodeValidation).WithTree(treeID).WithTask(parentID)
			}
			// An ancestor only passes once this task has.
			if ancestors[dep] {
				return engine.NewPermanentError(fmt.Sprintf("task cannot depend on its ancestor %s", dep), nil).
					WithCode(engine.ErrCodeValidation).WithTree(treeID).WithTask(parentID)
			}
		}

		provenance := spec.Provenance
		if provenance == "" {
			provenance = parent.Provenance
		}
		child := o.builder.NewTask(spec.Name, spec.Description, spec.Priority, provenance)
		child.ModuleID = parent.ModuleID
		// Refined work waits for the same modules as the rest of its module.
		for _, dep := range append(engine.ModuleGate(tx.tree, parentID), spec.Dependencies...) {
			if !containsID(child.Dependencies, dep) {
				child.Dependencies = append(child.Dependencies, dep)
			}
		}
		for k, v := range spec.Metadata {
			child.Metadata[k] = v
		}
		if _, ok := child.Metadata["kind"]; !ok {
			child.Metadata["kind"] = "refinement"
		}

		if err := tx.tree.AddChild(parentID, child); err != nil {
			return err
		}
		if err := engine.CheckAcyclic(tx.tree); err != nil {
			parent.Children = parent.Children[:len(parent.Children)-1]
			tx.tree.Reindex()
			return err
		}

		added, err = engine.CloneNode(child)
		if err != nil {
			return err
		}
		if job, ok := o.generationJobFor(tx.entry, child); ok {
			tx.jobs = append(tx.jobs, job)
		}

		childID, name := child.ID, child.Name
		tx.emit(func() error {
			return tx.pub.PublishTaskCreated(treeID, childID, parentID, name)
		})
		return nil
	})
	return added, err
}

func containsID(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

// IncrementRetry counts one more attempt at a task and reports whether its
// retry ceiling has been reached.
func (o *Orchestrator) IncrementRetry(ctx context.Context, treeID, taskID string) (int, bool, error) {
	var (
		count     int
		exhausted bool
	)
	err := o.mutate(ctx, "increment_retry", treeID, taskID, func(tx *txn) error {
		n, err := tx.tree.MustFind(taskID)
		if err != nil {
			return err
		}
		n.RetryCount++
		count = n.RetryCount
		exhausted = n.MaxRetries > 0 && n.RetryCount >= n.MaxRetries
		if exhausted {
			tx.logger.WithTaskID(taskID).WithField("retries", count).Warn("Task retry ceiling reached")
		}
		return nil
	})
	return count, exhausted, err
}

// ResetFailedTasks returns every test_failed or rejected task to pending,
// optionally zeroing its retry counters. It returns the reset task IDs.
func (o *Orchestrator) ResetFailedTasks(ctx context.Context, treeID string, resetRetries bool) ([]string, error) {
	var ids []string
	err := o.mutate(ctx, "reset_failed_tasks", treeID, "", func(tx *txn) error {
		ids = resetWhere(tx, func(n *engine.TaskNode) bool { return n.Status.IsFailed() }, func(n *engine.TaskNode) {
			if resetRetries {
				n.RetryCount = 0
				n.TestRetryCount = 0
			}
		})
		if len(ids) == 0 {
			tx.noop = true
			return nil
		}
		reset := append([]string(nil), ids...)
		tx.emit(func() error {
			return tx.pub.PublishTasksReset(treeID, reset, resetRetries)
		})
		return nil
	})
	return ids, err
}

// ResetInterruptedTasks returns every task left in test_writing, coding or
// testing, typically by a crashed worker, to pending. It returns the reset
// task IDs.
func (o *Orchestrator) ResetInterruptedTasks(ctx context.Context, treeID string) ([]string, error) {
	var ids []string
	err := o.mutate(ctx, "reset_interrupted_tasks", treeID, "", func(tx *txn) error {
		ids = resetWhere(tx, func(n *engine.TaskNode) bool { return n.Status.IsActive() }, nil)
		if len(ids) == 0 {
			tx.noop = true
			return nil
		}
		reset := append([]string(nil), ids...)
		tx.emit(func() error {
			return tx.pub.PublishTasksInterruptedReset(treeID, reset)
		})
		return nil
	})
	return ids, err
}

// resetWhere forces every matching node back to pending in pre-order and
// applies also to each reset node.
func resetWhere(tx *txn, match func(*engine.TaskNode) bool, also func(*engine.TaskNode)) []string {
	ids := []string{}
	engine.Walk(tx.tree.Root, func(n *engine.TaskNode) bool {
		if !match(n) {
			return true
		}
		res := engine.ResetStatus(n)
		if !res.Applied {
			return true
		}
		tx.transitioned(res)
		if also != nil {
			also(n)
		}
		ids = append(ids, n.ID)
		return true
	})
	return ids
}
