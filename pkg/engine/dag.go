package engine

import (
	"fmt"
	"sort"
	"strings"
)

// TaskGraph is the dependency graph over every task in a tree.
// An edge From -> To means From must be passed or approved before To can start.
type TaskGraph struct {
	Nodes map[string]*GraphNode `json:"nodes"`
	Edges []GraphEdge           `json:"edges"`
	Roots []string              `json:"roots"`
	Depth int                   `json:"depth"`
}

// GraphNode is one task in the dependency graph.
type GraphNode struct {
	ID           string   `json:"id"`
	Level        int      `json:"level"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
}

// GraphEdge is a dependency edge.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DAGBuilder builds a directed acyclic graph from task dependency edges.
// It detects cycles and assigns execution levels; tasks on the same level
// have no dependency path between them.
type DAGBuilder struct {
	// tasks maps task IDs to their nodes
	tasks map[string]*TaskNode

	// adjacencyList maps task IDs to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps task IDs to their dependencies
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of incoming edges for each node
	inDegree map[string]int

	// levels maps execution level to task IDs at that level
	levels [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		tasks:                make(map[string]*TaskNode),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
		levels:               make([][]string, 0),
	}
}

// BuildGraph constructs the dependency graph of a tree.
// It validates dependencies, detects cycles, and computes execution levels.
func (b *DAGBuilder) BuildGraph(tree *TaskTree) (*TaskGraph, error) {
	if tree == nil || tree.Root == nil {
		return &TaskGraph{
			Nodes: make(map[string]*GraphNode),
			Edges: make([]GraphEdge, 0),
			Roots: make([]string, 0),
		}, nil
	}

	if err := b.initialize(tree); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err.WithTree(tree.ID)
	}

	if err := b.computeLevels(); err != nil {
		return nil, err.WithTree(tree.ID)
	}

	return b.buildTaskGraph(), nil
}

// initialize indexes every task and builds the adjacency lists.
func (b *DAGBuilder) initialize(tree *TaskTree) error {
	var initErr error
	Walk(tree.Root, func(n *TaskNode) bool {
		if initErr != nil {
			return false
		}
		if _, exists := b.tasks[n.ID]; exists {
			initErr = NewPermanentError(fmt.Sprintf("duplicate task ID: %s", n.ID), nil).
				WithCode(ErrCodeValidation).WithTree(tree.ID).WithTask(n.ID)
			return false
		}
		b.tasks[n.ID] = n
		b.adjacencyList[n.ID] = make([]string, 0)
		b.reverseAdjacencyList[n.ID] = make([]string, 0)
		b.inDegree[n.ID] = 0
		return true
	})
	if initErr != nil {
		return initErr
	}

	for _, id := range b.sortedIDs() {
		task := b.tasks[id]
		for _, dep := range task.Dependencies {
			if _, exists := b.tasks[dep]; !exists {
				return NewPermanentError(
					fmt.Sprintf("task %s depends on non-existent task %s", id, dep),
					nil,
				).WithCode(ErrCodeValidation).WithTree(tree.ID).WithTask(id)
			}

			// Edge from dependency to task: the dependency completes first.
			b.adjacencyList[dep] = append(b.adjacencyList[dep], id)
			b.reverseAdjacencyList[id] = append(b.reverseAdjacencyList[id], dep)
			b.inDegree[id]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *DAGBuilder) detectCycles() *EngineError {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range b.sortedIDs() {
		if !visited[id] {
			if cycle := b.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
				return NewPermanentError(
					fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)),
					nil,
				).WithCode(ErrCodeValidation).WithDetail("cycle", cycle)
			}
		}
	}

	return nil
}

// detectCyclesUtil returns the cycle path reachable from nodeID, if any.
func (b *DAGBuilder) detectCyclesUtil(
	nodeID string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range b.adjacencyList[nodeID] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					cycle := make([]string, 0, len(path)-i+1)
					cycle = append(cycle, path[i:]...)
					return append(cycle, dependent)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// computeLevels assigns execution levels with Kahn's algorithm.
func (b *DAGBuilder) computeLevels() *EngineError {
	inDegreeCopy := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegreeCopy[id] = degree
	}

	currentLevel := make([]string, 0)
	for _, id := range b.sortedIDs() {
		if inDegreeCopy[id] == 0 {
			currentLevel = append(currentLevel, id)
		}
	}

	processedCount := 0
	for len(currentLevel) > 0 {
		b.levels = append(b.levels, currentLevel)
		processedCount += len(currentLevel)

		nextLevel := make([]string, 0)
		for _, nodeID := range currentLevel {
			for _, dependent := range b.adjacencyList[nodeID] {
				inDegreeCopy[dependent]--
				if inDegreeCopy[dependent] == 0 {
					nextLevel = append(nextLevel, dependent)
				}
			}
		}
		sort.Strings(nextLevel)
		currentLevel = nextLevel
	}

	if processedCount != len(b.tasks) {
		return NewPermanentError("failed to process all tasks - possible cycle", nil).
			WithCode(ErrCodeInternal)
	}

	return nil
}

func (b *DAGBuilder) buildTaskGraph() *TaskGraph {
	graph := &TaskGraph{
		Nodes: make(map[string]*GraphNode, len(b.tasks)),
		Edges: make([]GraphEdge, 0),
		Roots: make([]string, 0),
		Depth: len(b.levels),
	}

	for level, ids := range b.levels {
		for _, id := range ids {
			graph.Nodes[id] = &GraphNode{
				ID:           id,
				Level:        level,
				Dependencies: b.reverseAdjacencyList[id],
				Dependents:   b.adjacencyList[id],
			}
			if level == 0 {
				graph.Roots = append(graph.Roots, id)
			}
		}
	}

	for _, id := range b.sortedIDs() {
		for _, dep := range b.reverseAdjacencyList[id] {
			graph.Edges = append(graph.Edges, GraphEdge{From: dep, To: id})
		}
	}

	return graph
}

// GetLevels returns the computed execution levels.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ToDOT generates a DOT representation of the dependency graph, clustered
// by level and colored by status. Render it with Graphviz.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph TaskGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range b.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, id := range ids {
			task := b.tasks[id]
			label := fmt.Sprintf("%s\\n%s", escapeDOT(task.Name), task.Status)
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				id, label, statusColor(task.Status)))
		}

		sb.WriteString("  }\n\n")
	}

	for _, id := range b.sortedIDs() {
		for _, dep := range b.reverseAdjacencyList[id] {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", dep, id))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func (b *DAGBuilder) sortedIDs() []string {
	ids := make([]string, 0, len(b.tasks))
	for id := range b.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// statusColor returns a fill color for visualizing task status.
func statusColor(s TaskStatus) string {
	switch {
	case s.IsDone():
		return "lightgreen"
	case s.IsActive():
		return "lightblue"
	case s.IsFailed():
		return "lightcoral"
	case s == StatusCancelled:
		return "lightgray"
	default:
		return "white"
	}
}

// CheckAcyclic reports a VALIDATION_ERROR if the tree's dependency edges
// contain a cycle or a dangling reference.
func CheckAcyclic(tree *TaskTree) error {
	_, err := NewDAGBuilder().BuildGraph(tree)
	return err
}
