package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task priorities. Higher runs first.
const (
	PriorityProjectInit = 1000

	// DependencyPenalty is subtracted from a module task's priority per
	// declared module dependency, so foundations sort ahead of dependents.
	DependencyPenalty = 5

	// InterfacePriorityOffset places interface tasks below every
	// responsibility of the same module.
	InterfacePriorityOffset = 50
)

// modulePriorities is the base priority of a module task by module type.
var modulePriorities = map[ModuleType]int{
	ModuleInfrastructure: 900,
	ModuleDatabase:       850,
	ModuleBackend:        700,
	ModuleService:        650,
	ModuleFrontend:       500,
	ModuleOther:          400,
}

// Default retry ceilings for new tasks.
const (
	DefaultMaxRetries     = 3
	DefaultMaxTestRetries = 3
)

// ModulePriority returns the priority of a module task.
func ModulePriority(m *Module) int {
	base, ok := modulePriorities[m.Type]
	if !ok {
		base = modulePriorities[ModuleOther]
	}
	return base - DependencyPenalty*len(m.Dependencies)
}

// TreeBuilder expands a blueprint into the initial task hierarchy:
//
//	root
//	├── project init          (priority 1000, every module task depends on it)
//	├── module task           (priority by module type minus dependency penalty)
//	│   ├── responsibility    (one leaf each, priority decreasing by order)
//	│   └── interface         (one each, fixed lower priority)
//	└── ...
//
// Responsibilities are single leaves: design, test, implementation and
// integration of one responsibility form one test-first cycle and stay on
// one node.
type TreeBuilder struct {
	// NewID generates node and tree identifiers.
	NewID func() string

	// MaxRetries and MaxTestRetries seed each node's retry ceilings.
	MaxRetries     int
	MaxTestRetries int
}

// NewTreeBuilder creates a builder that assigns UUIDs.
func NewTreeBuilder() *TreeBuilder {
	return &TreeBuilder{
		NewID:          func() string { return uuid.New().String() },
		MaxRetries:     DefaultMaxRetries,
		MaxTestRetries: DefaultMaxTestRetries,
	}
}

// Build constructs a tree with every node pending. Cross-module
// dependencies are left to ResolveDependencies.
func (b *TreeBuilder) Build(bp *Blueprint) (*TaskTree, error) {
	if err := ValidateBlueprint(bp); err != nil {
		return nil, err
	}

	source, err := CloneBlueprint(bp)
	if err != nil {
		return nil, err
	}

	created := now()
	bpProvenance := bp.Provenance
	if bpProvenance == "" {
		bpProvenance = ProvenanceRequirement
	}

	root := b.newNode(bp.Name, bp.Description, TaskTypeGeneric, 0, bpProvenance, created)
	root.Metadata["kind"] = "project"

	initTask := b.newNode(
		"Project initialization",
		fmt.Sprintf("Shared setup for %s: repository layout, build tooling, common configuration", bp.Name),
		TaskTypeProjectInit, PriorityProjectInit, bpProvenance, created,
	)
	initTask.Metadata["kind"] = "init"
	attach(root, initTask)

	for i := range bp.Modules {
		m := &bp.Modules[i]
		provenance := m.Provenance
		if provenance == "" {
			provenance = bpProvenance
		}

		priority := ModulePriority(m)
		moduleTask := b.newNode(m.Name, m.Description, TaskTypeFeature, priority, provenance, created)
		moduleTask.ModuleID = m.ID
		moduleTask.Metadata["kind"] = "module"
		moduleTask.Metadata["module_type"] = string(m.Type)
		moduleTask.Dependencies = append(moduleTask.Dependencies, initTask.ID)
		attach(root, moduleTask)

		for j, resp := range m.Responsibilities {
			leaf := b.newNode(resp, fmt.Sprintf("%s: %s", m.Name, resp),
				TaskTypeFeature, priority-1-j, provenance, created)
			leaf.ModuleID = m.ID
			leaf.Metadata["kind"] = "responsibility"
			attach(moduleTask, leaf)
		}

		for _, iface := range m.Interfaces {
			desc := iface.Description
			if desc == "" {
				desc = fmt.Sprintf("Implement %s interface %s", m.Name, iface.Name)
			}
			task := b.newNode(fmt.Sprintf("Interface: %s", iface.Name), desc,
				TaskTypeFeature, priority-InterfacePriorityOffset, provenance, created)
			task.ModuleID = m.ID
			task.Metadata["kind"] = "interface"
			if iface.Type != "" {
				task.Metadata["interface_type"] = iface.Type
			}
			attach(moduleTask, task)
		}
	}

	tree := &TaskTree{
		ID:                b.NewID(),
		BlueprintID:       bp.ID,
		Root:              root,
		Blueprint:         source,
		Status:            TreeStatusPending,
		CreatedAt:         created,
		UpdatedAt:         created,
		GlobalCheckpoints: []GlobalCheckpoint{},
	}
	tree.Reindex()
	tree.RefreshStats()
	return tree, nil
}

// NewTask creates a detached pending node for dynamic refinement. The
// caller attaches it with TaskTree.AddChild.
func (b *TreeBuilder) NewTask(name, description string, priority int, provenance Provenance) *TaskNode {
	return b.newNode(name, description, TaskTypeFeature, priority, provenance, now())
}

func (b *TreeBuilder) newNode(name, description string, typ TaskType, priority int, provenance Provenance, created time.Time) *TaskNode {
	return &TaskNode{
		ID:              b.NewID(),
		Name:            name,
		Description:     description,
		Type:            typ,
		Priority:        priority,
		Status:          StatusPending,
		Provenance:      provenance,
		Children:        []*TaskNode{},
		Dependencies:    []string{},
		MaxRetries:      b.MaxRetries,
		MaxTestRetries:  b.MaxTestRetries,
		AcceptanceTests: []AcceptanceTest{},
		Artifacts:       []Artifact{},
		Checkpoints:     []Checkpoint{},
		CreatedAt:       created,
		Metadata:        map[string]string{},
	}
}

// attach links child under parent and fixes its depth.
func attach(parent, child *TaskNode) {
	child.ParentID = parent.ID
	child.Depth = parent.Depth + 1
	parent.Children = append(parent.Children, child)
}

// ValidateBlueprint checks what the builder and resolver rely on: a name,
// unique non-empty module IDs, and dependencies that name other known modules.
func ValidateBlueprint(bp *Blueprint) error {
	if bp == nil {
		return NewPermanentError("blueprint is nil", nil).WithCode(ErrCodeValidation)
	}
	if bp.Name == "" {
		return NewPermanentError("blueprint has no name", nil).WithCode(ErrCodeValidation)
	}

	ids := make(map[string]bool, len(bp.Modules))
	for _, m := range bp.Modules {
		if m.ID == "" {
			return NewPermanentError(fmt.Sprintf("module %q has empty ID", m.Name), nil).
				WithCode(ErrCodeValidation)
		}
		if ids[m.ID] {
			return NewPermanentError(fmt.Sprintf("duplicate module ID: %s", m.ID), nil).
				WithCode(ErrCodeValidation)
		}
		ids[m.ID] = true
	}

	for _, m := range bp.Modules {
		for _, dep := range m.Dependencies {
			if dep == m.ID {
				return NewPermanentError(fmt.Sprintf("module %s depends on itself", m.ID), nil).
					WithCode(ErrCodeValidation)
			}
			if !ids[dep] {
				return NewPermanentError(
					fmt.Sprintf("module %s depends on unknown module %s", m.ID, dep), nil,
				).WithCode(ErrCodeValidation)
			}
		}
	}
	return nil
}
