package engine

import (
	"fmt"
	"testing"
)

// seqIDs returns a deterministic ID generator.
func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newTestBuilder() *TreeBuilder {
	b := NewTreeBuilder()
	b.NewID = seqIDs("t")
	return b
}

// shopBlueprint has module a (no deps) and module b (depends on a), one
// responsibility each.
func shopBlueprint() *Blueprint {
	return &Blueprint{
		ID:   "bp-shop",
		Name: "shop",
		Modules: []Module{
			{
				ID:               "a",
				Name:             "Catalog",
				Type:             ModuleBackend,
				Responsibilities: []string{"List products"},
			},
			{
				ID:               "b",
				Name:             "Storefront",
				Type:             ModuleFrontend,
				Responsibilities: []string{"Render catalog"},
				Dependencies:     []string{"a"},
			},
		},
	}
}

// buildResolved builds and resolves a tree, failing the test on error.
func buildResolved(t *testing.T, bp *Blueprint) *TaskTree {
	t.Helper()
	tree, err := newTestBuilder().Build(bp)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := ResolveDependencies(tree, bp); err != nil {
		t.Fatalf("ResolveDependencies failed: %v", err)
	}
	return tree
}

func findByName(t *testing.T, tree *TaskTree, name string) *TaskNode {
	t.Helper()
	var found *TaskNode
	Walk(tree.Root, func(n *TaskNode) bool {
		if found == nil && n.Name == name {
			found = n
		}
		return found == nil
	})
	if found == nil {
		t.Fatalf("no task named %q", name)
	}
	return found
}

func initTask(t *testing.T, tree *TaskTree) *TaskNode {
	t.Helper()
	for _, c := range tree.Root.Children {
		if c.Type == TaskTypeProjectInit {
			return c
		}
	}
	t.Fatal("tree has no init task")
	return nil
}

func checkDepthLaw(t *testing.T, tree *TaskTree) {
	t.Helper()
	if tree.Root.Depth != 0 || tree.Root.ParentID != "" {
		t.Fatalf("root depth=%d parent=%q, want 0 and empty", tree.Root.Depth, tree.Root.ParentID)
	}
	Walk(tree.Root, func(n *TaskNode) bool {
		for _, c := range n.Children {
			if c.Depth != n.Depth+1 {
				t.Errorf("task %s depth=%d, parent depth=%d", c.ID, c.Depth, n.Depth)
			}
			if c.ParentID != n.ID {
				t.Errorf("task %s parent=%q, want %q", c.ID, c.ParentID, n.ID)
			}
		}
		return true
	})
}

func checkStatsPartition(t *testing.T, s Stats) {
	t.Helper()
	sum := s.Pending + s.Blocked + s.InProgress + s.Failed + s.Passed + s.Approved + s.Cancelled
	if sum != s.TotalTasks {
		t.Errorf("status categories sum to %d, total is %d", sum, s.TotalTasks)
	}
}

func ids(nodes []*TaskNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}
