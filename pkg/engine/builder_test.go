package engine

import (
	"testing"
)

func TestTreeBuilder_Build_Structure(t *testing.T) {
	tree, err := newTestBuilder().Build(shopBlueprint())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// root + init + 2 modules + 2 responsibilities
	if tree.Stats.TotalTasks != 6 {
		t.Errorf("Expected 6 tasks, got %d", tree.Stats.TotalTasks)
	}
	if tree.Stats.Leaves != 3 {
		t.Errorf("Expected 3 leaves, got %d", tree.Stats.Leaves)
	}
	if tree.Stats.Pending != 6 {
		t.Errorf("Expected every task pending, got %d pending", tree.Stats.Pending)
	}
	if tree.BlueprintID != "bp-shop" {
		t.Errorf("Expected blueprint ID bp-shop, got %s", tree.BlueprintID)
	}
	if tree.Status != TreeStatusPending {
		t.Errorf("Expected tree status pending, got %s", tree.Status)
	}
	if len(tree.Root.Children) != 3 {
		t.Fatalf("Expected init + 2 module tasks under root, got %d", len(tree.Root.Children))
	}

	checkDepthLaw(t, tree)
	checkStatsPartition(t, tree.Stats)

	initNode := initTask(t, tree)
	for _, c := range tree.Root.Children[1:] {
		if !containsString(c.Dependencies, initNode.ID) {
			t.Errorf("Module task %s does not depend on init task", c.Name)
		}
	}
}

func TestTreeBuilder_Build_Priorities(t *testing.T) {
	bp := &Blueprint{
		Name: "prio",
		Modules: []Module{
			{ID: "infra", Name: "Infra", Type: ModuleInfrastructure,
				Responsibilities: []string{"first", "second"},
				Interfaces:       []Interface{{Name: "Health", Type: "http"}}},
			{ID: "db", Name: "DB", Type: ModuleDatabase, Dependencies: []string{"infra"}},
			{ID: "api", Name: "API", Type: ModuleBackend, Dependencies: []string{"infra", "db"}},
			{ID: "svc", Name: "Svc", Type: ModuleService},
			{ID: "ui", Name: "UI", Type: ModuleFrontend},
			{ID: "misc", Name: "Misc", Type: ModuleOther},
		},
	}
	tree, err := newTestBuilder().Build(bp)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	tests := []struct {
		name     string
		priority int
	}{
		{"Project initialization", 1000},
		{"Infra", 900},
		{"first", 899},
		{"second", 898},
		{"Interface: Health", 850},
		{"DB", 845},
		{"API", 690},
		{"Svc", 650},
		{"UI", 500},
		{"Misc", 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := findByName(t, tree, tt.name)
			if n.Priority != tt.priority {
				t.Errorf("Expected priority %d, got %d", tt.priority, n.Priority)
			}
		})
	}

	iface := findByName(t, tree, "Interface: Health")
	if iface.Metadata["interface_type"] != "http" {
		t.Errorf("Expected interface_type http, got %q", iface.Metadata["interface_type"])
	}
}

func TestTreeBuilder_Build_Provenance(t *testing.T) {
	bp := &Blueprint{
		Name:       "mixed",
		Provenance: ProvenanceCodebase,
		Modules: []Module{
			{ID: "old", Name: "Legacy", Type: ModuleBackend, Responsibilities: []string{"keep"}},
			{ID: "new", Name: "Fresh", Type: ModuleBackend, Responsibilities: []string{"add"},
				Provenance: ProvenanceRequirement},
		},
	}
	tree, err := newTestBuilder().Build(bp)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if p := findByName(t, tree, "keep").Provenance; p != ProvenanceCodebase {
		t.Errorf("Expected inherited codebase provenance, got %s", p)
	}
	if p := findByName(t, tree, "add").Provenance; p != ProvenanceRequirement {
		t.Errorf("Expected module override requirement, got %s", p)
	}

	plain, err := newTestBuilder().Build(&Blueprint{Name: "plain"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if plain.Root.Provenance != ProvenanceRequirement {
		t.Errorf("Expected default provenance requirement, got %s", plain.Root.Provenance)
	}
}

func TestTreeBuilder_Build_UniqueUUIDs(t *testing.T) {
	tree, err := NewTreeBuilder().Build(shopBlueprint())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := tree.ValidateStructure(); err != nil {
		t.Fatalf("Expected valid structure, got: %v", err)
	}
	if tree.Index().Len() != tree.Stats.TotalTasks {
		t.Errorf("Expected %d indexed tasks, got %d", tree.Stats.TotalTasks, tree.Index().Len())
	}
}

func TestValidateBlueprint(t *testing.T) {
	tests := []struct {
		name    string
		bp      *Blueprint
		wantErr bool
	}{
		{"nil", nil, true},
		{"no name", &Blueprint{}, true},
		{"empty module ID", &Blueprint{Name: "x", Modules: []Module{{Name: "m"}}}, true},
		{"duplicate module", &Blueprint{Name: "x", Modules: []Module{
			{ID: "m", Name: "m1"}, {ID: "m", Name: "m2"},
		}}, true},
		{"self dependency", &Blueprint{Name: "x", Modules: []Module{
			{ID: "m", Name: "m", Dependencies: []string{"m"}},
		}}, true},
		{"unknown dependency", &Blueprint{Name: "x", Modules: []Module{
			{ID: "m", Name: "m", Dependencies: []string{"ghost"}},
		}}, true},
		{"valid", shopBlueprint(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBlueprint(tt.bp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateBlueprint() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !HasCode(err, ErrCodeValidation) {
				t.Errorf("Expected VALIDATION_ERROR code, got: %v", err)
			}
		})
	}
}

func TestResolveDependencies_ModuleGranularity(t *testing.T) {
	tree := buildResolved(t, shopBlueprint())

	catalog := findByName(t, tree, "Catalog")
	storefront := findByName(t, tree, "Storefront")
	listProducts := findByName(t, tree, "List products")
	render := findByName(t, tree, "Render catalog")

	if !containsString(storefront.Dependencies, catalog.ID) {
		t.Errorf("Expected Storefront to depend on Catalog, got %v", storefront.Dependencies)
	}
	if !containsString(render.Dependencies, catalog.ID) {
		t.Errorf("Expected Render catalog to be gated by Catalog, got %v", render.Dependencies)
	}
	if len(listProducts.Dependencies) != 0 {
		t.Errorf("Expected List products to have no dependencies, got %v", listProducts.Dependencies)
	}

	// Resolving again must not duplicate edges.
	before := len(storefront.Dependencies)
	if err := ResolveDependencies(tree, shopBlueprint()); err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	if len(storefront.Dependencies) != before {
		t.Errorf("Expected %d dependencies after re-resolve, got %d", before, len(storefront.Dependencies))
	}
}

func TestModuleGate(t *testing.T) {
	tree := buildResolved(t, shopBlueprint())
	catalog := findByName(t, tree, "Catalog")

	tests := []struct {
		name string
		id   string
		want []string
	}{
		{"module task", findByName(t, tree, "Storefront").ID, []string{catalog.ID}},
		{"responsibility under module", findByName(t, tree, "Render catalog").ID, []string{catalog.ID}},
		{"module without dependencies", catalog.ID, nil},
		{"init task", initTask(t, tree).ID, nil},
		{"root", tree.Root.ID, nil},
		{"unknown", "missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ModuleGate(tree, tt.id)
			if len(got) != len(tt.want) {
				t.Fatalf("ModuleGate() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ModuleGate() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestResolveDependencies_RejectsCycle(t *testing.T) {
	bp := &Blueprint{
		Name: "loop",
		Modules: []Module{
			{ID: "a", Name: "A", Type: ModuleBackend, Dependencies: []string{"b"}},
			{ID: "b", Name: "B", Type: ModuleBackend, Dependencies: []string{"a"}},
		},
	}
	tree, err := newTestBuilder().Build(bp)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	err = ResolveDependencies(tree, bp)
	if err == nil {
		t.Fatal("Expected error for circular module dependency")
	}
	if !HasCode(err, ErrCodeValidation) {
		t.Errorf("Expected VALIDATION_ERROR, got: %v", err)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestTreeBuilder_Build_KeepsBlueprintCopy(t *testing.T) {
	bp := shopBlueprint()
	tree, err := newTestBuilder().Build(bp)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if tree.Blueprint == nil || tree.Blueprint == bp {
		t.Fatalf("Expected an independent blueprint copy, got %p (source %p)", tree.Blueprint, bp)
	}

	bp.Modules[0].Name = "Renamed"
	if m := tree.Blueprint.FindModule("a"); m == nil || m.Name == "Renamed" {
		t.Errorf("Blueprint copy follows caller mutation: %+v", m)
	}

	data, err := DefaultCodec.Encode(tree)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := DefaultCodec.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Blueprint == nil || decoded.Blueprint.FindModule("b") == nil {
		t.Errorf("Blueprint lost in the document: %+v", decoded.Blueprint)
	}
}
