package engine

import "fmt"

// ResolveDependencies maps blueprint-level module dependencies onto task
// dependencies. Each module task gets the task IDs of the modules it
// depends on, and so do its direct children: a responsibility or interface
// task is gated by its module's dependencies, never by finer-grained edges.
//
// The init dependency added by the builder stays on the module task only.
// Module tasks are containers and are never assigned directly, so the init
// task and the first module's leaves are ready together.
//
// Resolution is idempotent and rejects trees whose edges form a cycle.
func ResolveDependencies(tree *TaskTree, bp *Blueprint) error {
	if tree == nil || tree.Root == nil {
		return NewPermanentError("cannot resolve dependencies of empty tree", nil).
			WithCode(ErrCodeValidation)
	}

	moduleTasks := make(map[string]*TaskNode)
	for _, child := range tree.Root.Children {
		if child.ModuleID != "" && child.Metadata["kind"] == "module" {
			moduleTasks[child.ModuleID] = child
		}
	}

	for i := range bp.Modules {
		m := &bp.Modules[i]
		task, ok := moduleTasks[m.ID]
		if !ok {
			return NewPermanentError(fmt.Sprintf("no task for module %s", m.ID), nil).
				WithCode(ErrCodeValidation).WithTree(tree.ID)
		}

		for _, depModule := range m.Dependencies {
			depTask, ok := moduleTasks[depModule]
			if !ok {
				return NewPermanentError(
					fmt.Sprintf("module %s depends on unknown module %s", m.ID, depModule), nil,
				).WithCode(ErrCodeValidation).WithTree(tree.ID).WithTask(task.ID)
			}
			task.Dependencies = appendUnique(task.Dependencies, depTask.ID)
			for _, child := range task.Children {
				child.Dependencies = appendUnique(child.Dependencies, depTask.ID)
			}
		}
	}

	if err := CheckAcyclic(tree); err != nil {
		return err
	}
	tree.Reindex()
	return nil
}

// ModuleGate returns the cross-module dependencies that gate work placed
// under the task id: those of its enclosing module task, without the init
// edge. Tasks outside any module have no gate.
func ModuleGate(tree *TaskTree, id string) []string {
	for n, ok := tree.Find(id); ok; n, ok = tree.Parent(n.ID) {
		if n.Metadata["kind"] != "module" {
			continue
		}
		var gate []string
		for _, dep := range n.Dependencies {
			if d, ok := tree.Find(dep); ok && d.Metadata["kind"] == "init" {
				continue
			}
			gate = appendUnique(gate, dep)
		}
		return gate
	}
	return nil
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}
