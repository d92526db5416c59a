package engine

import (
	"fmt"
	"sort"
)

// CanStart reports whether a task may be assigned: its own status is
// pending or blocked and every dependency, wherever it sits in the tree, is
// passed or approved. When it cannot start, the reasons list every unmet
// condition. An unknown task ID is a NOT_FOUND error.
func CanStart(tree *TaskTree, taskID string) (bool, []string, error) {
	n, err := tree.MustFind(taskID)
	if err != nil {
		return false, nil, err
	}
	reasons := unmetConditions(tree, n)
	return len(reasons) == 0, reasons, nil
}

func unmetConditions(tree *TaskTree, n *TaskNode) []string {
	var reasons []string
	if !n.Status.IsStartable() {
		reasons = append(reasons, fmt.Sprintf("task status is %s", n.Status))
	}
	for _, depID := range n.Dependencies {
		dep, ok := tree.Find(depID)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("dependency %s not found", depID))
			continue
		}
		if !dep.Status.IsDone() {
			reasons = append(reasons,
				fmt.Sprintf("dependency %s (%s) is %s", dep.ID, dep.Name, dep.Status))
		}
	}
	return reasons
}

// ExecutableTasks returns every leaf that can start, highest priority first.
// Internal nodes are containers and are never returned. Ties are broken by
// ID so the order is stable.
func ExecutableTasks(tree *TaskTree) []*TaskNode {
	var ready []*TaskNode
	Walk(tree.Root, func(n *TaskNode) bool {
		if n.IsLeaf() && len(unmetConditions(tree, n)) == 0 {
			ready = append(ready, n)
		}
		return true
	})

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}
