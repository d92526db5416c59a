package engine

import (
	"fmt"
)

// Index is an arena view over a tree: every node addressable by ID, with
// parent links kept as IDs. Children stay owned by their parent's child
// list; the index only borrows pointers for lookup.
type Index struct {
	nodes   map[string]*TaskNode
	parents map[string]string
	order   []string
}

// NewIndex builds an index with a single pre-order walk from root.
func NewIndex(root *TaskNode) *Index {
	idx := &Index{
		nodes:   make(map[string]*TaskNode),
		parents: make(map[string]string),
	}
	if root == nil {
		return idx
	}
	Walk(root, func(n *TaskNode) bool {
		idx.nodes[n.ID] = n
		idx.order = append(idx.order, n.ID)
		for _, c := range n.Children {
			idx.parents[c.ID] = n.ID
		}
		return true
	})
	return idx
}

// Get returns the node with the given ID.
func (idx *Index) Get(id string) (*TaskNode, bool) {
	n, ok := idx.nodes[id]
	return n, ok
}

// ParentID returns the ID of the node's parent, or "" for the root.
func (idx *Index) ParentID(id string) string {
	return idx.parents[id]
}

// Len returns the number of indexed nodes.
func (idx *Index) Len() int {
	return len(idx.nodes)
}

// IDs returns node IDs in pre-order.
func (idx *Index) IDs() []string {
	out := make([]string, len(idx.order))
	copy(out, idx.order)
	return out
}

// Walk visits nodes in pre-order. Returning false from fn skips the node's
// children.
func Walk(n *TaskNode, fn func(*TaskNode) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		Walk(c, fn)
	}
}

// WalkPostOrder visits children before their parent.
func WalkPostOrder(n *TaskNode, fn func(*TaskNode)) {
	if n == nil {
		return
	}
	for _, c := range n.Children {
		WalkPostOrder(c, fn)
	}
	fn(n)
}

// Reindex rebuilds the tree's arena index. Call it after any structural change.
func (t *TaskTree) Reindex() {
	t.index = NewIndex(t.Root)
}

// Index returns the tree's arena index, building it on first use.
func (t *TaskTree) Index() *Index {
	if t.index == nil {
		t.Reindex()
	}
	return t.index
}

// Find returns the node with the given ID anywhere in the tree.
func (t *TaskTree) Find(id string) (*TaskNode, bool) {
	if n, ok := t.Index().Get(id); ok {
		return n, true
	}
	// The index may predate a structural change made by a caller.
	t.Reindex()
	return t.index.Get(id)
}

// MustFind is Find returning a NOT_FOUND engine error.
func (t *TaskTree) MustFind(id string) (*TaskNode, error) {
	n, ok := t.Find(id)
	if !ok {
		return nil, NewNotFoundError("task", id).WithTree(t.ID).WithTask(id)
	}
	return n, nil
}

// Parent returns the parent of the node with the given ID.
func (t *TaskTree) Parent(id string) (*TaskNode, bool) {
	if _, ok := t.Find(id); !ok {
		return nil, false
	}
	pid := t.index.ParentID(id)
	if pid == "" {
		return nil, false
	}
	return t.index.Get(pid)
}

// Leaves returns every node without children, in pre-order.
func (t *TaskTree) Leaves() []*TaskNode {
	var leaves []*TaskNode
	Walk(t.Root, func(n *TaskNode) bool {
		if n.IsLeaf() {
			leaves = append(leaves, n)
		}
		return true
	})
	return leaves
}

// AddChild attaches child under the node parentID, fixing its parent link
// and depth, and reindexes the tree.
func (t *TaskTree) AddChild(parentID string, child *TaskNode) error {
	parent, err := t.MustFind(parentID)
	if err != nil {
		return err
	}
	if _, exists := t.Find(child.ID); exists {
		return NewPermanentError(fmt.Sprintf("duplicate task ID: %s", child.ID), nil).
			WithCode(ErrCodeAlreadyExists).WithTree(t.ID).WithTask(child.ID)
	}
	child.ParentID = parent.ID
	child.Depth = parent.Depth + 1
	parent.Children = append(parent.Children, child)
	t.Reindex()
	return nil
}

// ValidateStructure checks the structural invariants: a single root at
// depth 0, depth = parent depth + 1, unique IDs, parent links matching
// ownership, and dependencies that resolve inside the tree.
func (t *TaskTree) ValidateStructure() error {
	if t.Root == nil {
		return NewPermanentError("tree has no root", nil).
			WithCode(ErrCodeValidation).WithTree(t.ID)
	}
	if t.Root.ParentID != "" || t.Root.Depth != 0 {
		return NewPermanentError("root must have no parent and depth 0", nil).
			WithCode(ErrCodeValidation).WithTree(t.ID).WithTask(t.Root.ID)
	}

	seen := make(map[string]bool)
	var walkErr error
	var check func(n *TaskNode) bool
	check = func(n *TaskNode) bool {
		if seen[n.ID] {
			walkErr = NewPermanentError(fmt.Sprintf("duplicate task ID: %s", n.ID), nil).
				WithCode(ErrCodeValidation).WithTree(t.ID).WithTask(n.ID)
			return false
		}
		seen[n.ID] = true
		for _, c := range n.Children {
			if c.ParentID != n.ID || c.Depth != n.Depth+1 {
				walkErr = NewPermanentError(
					fmt.Sprintf("task %s has parent=%q depth=%d, want parent=%q depth=%d",
						c.ID, c.ParentID, c.Depth, n.ID, n.Depth+1),
					nil,
				).WithCode(ErrCodeValidation).WithTree(t.ID).WithTask(c.ID)
				return false
			}
			if !check(c) {
				return false
			}
		}
		return true
	}
	check(t.Root)
	if walkErr != nil {
		return walkErr
	}

	t.Reindex()
	for _, id := range t.index.order {
		n, _ := t.index.Get(id)
		for _, dep := range n.Dependencies {
			if _, ok := t.index.Get(dep); !ok {
				return NewPermanentError(
					fmt.Sprintf("task %s depends on unknown task %s", n.ID, dep), nil,
				).WithCode(ErrCodeValidation).WithTree(t.ID).WithTask(n.ID)
			}
		}
	}
	return nil
}
