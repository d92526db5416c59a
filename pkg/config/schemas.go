package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE definitions that blueprint documents are
// unified with before decoding.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a schema registry with the built-in blueprint
// schema registered under "blueprint".
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema("blueprint", "#Blueprint", builtinBlueprintSchema); err != nil {
		panic(fmt.Sprintf("built-in blueprint schema: %v", err))
	}
	return sr
}

// RegisterSchema compiles source and registers the definition it declares
// (for example "#Blueprint") under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not declare %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Apply unifies a value with the named schema and checks the result is
// concrete. The unified value is returned so callers decode with defaults
// filled in.
func (sr *SchemaRegistry) Apply(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return unified, err
	}
	return unified, nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinBlueprintSchema = `
#Provenance: "requirement" | "codebase"

#Interface: {
	name:         string & !=""
	type?:        string
	description?: string
}

#Module: {
	id:                string & =~"^[A-Za-z0-9_.-]+$"
	name:              string & !=""
	description?:      string
	type:              "infrastructure" | "database" | "backend" | "service" | "frontend" | "other"
	responsibilities?: [...string]
	interfaces?:       [...#Interface]
	dependencies?:     [...string]
	provenance?:       #Provenance
}

#Blueprint: {
	id?:          string
	name:         string & !=""
	description?: string
	provenance?:  #Provenance
	modules:      [...#Module]
}
`
