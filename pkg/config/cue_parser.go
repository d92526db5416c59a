package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/tasktree/pkg/engine"
)

// blueprintField is the top-level field a document may nest its blueprint
// under. Documents without it are read as a blueprint at the root.
const blueprintField = "blueprint"

// CUEParser parses and validates blueprint documents through CUE. JSON is
// valid CUE, so the same path serves .cue and .json sources.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:            ctx,
		schemaRegistry: newSchemaRegistry(ctx),
		validator:      validator.New(),
	}
}

// Parse parses blueprint sources (files or CUE package directories),
// unifying them into one blueprint.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedBlueprint, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	merge := func(val cue.Value) {
		if !val.Exists() {
			return
		}
		if cueValue.Exists() {
			cueValue = cueValue.Unify(val)
		} else {
			cueValue = val
		}
	}

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			val, files, errs := cp.loadDirectory(source)
			parseErrors = append(parseErrors, errs...)
			merge(val)
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs := cp.loadFile(source)
			parseErrors = append(parseErrors, errs...)
			merge(val)
			sourceFiles = append(sourceFiles, source)
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedBlueprint{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now().UTC(),
			Errors:      parseErrors,
		}, nil
	}

	return cp.extractBlueprint(cueValue, sourceFiles), nil
}

// ParseInline parses inline CUE (or JSON) content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedBlueprint, error) {
	return cp.ParseBytes(ctx, "inline", []byte(content))
}

// ParseBytes parses a CUE or JSON document held in memory. name is used in
// error locations.
func (cp *CUEParser) ParseBytes(ctx context.Context, name string, content []byte) (*ParsedBlueprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	val := cp.ctx.CompileBytes(content, cue.Filename(name))
	if err := val.Err(); err != nil {
		return &ParsedBlueprint{
			SourceFiles: []string{name},
			ParsedAt:    time.Now().UTC(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractBlueprint(val, []string{name}), nil
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE or JSON file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// extractBlueprint applies the blueprint schema, decodes the result and
// runs struct-tag validation. Problems are reported, not returned.
func (cp *CUEParser) extractBlueprint(val cue.Value, sourceFiles []string) *ParsedBlueprint {
	parsed := &ParsedBlueprint{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now().UTC(),
	}

	if nested := val.LookupPath(cue.ParsePath(blueprintField)); nested.Exists() {
		val = nested
	}

	unified, err := cp.schemaRegistry.Apply("blueprint", val)
	if err != nil {
		parsed.Errors = append(parsed.Errors, cp.convertCUEErrors(err)...)
		return parsed
	}

	var bp engine.Blueprint
	if err := unified.Decode(&bp); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     blueprintField,
			Message:  fmt.Sprintf("failed to decode blueprint: %v", err),
			Severity: "error",
		})
		return parsed
	}

	if errs := cp.validateStruct(&bp); len(errs) > 0 {
		parsed.Errors = append(parsed.Errors, errs...)
		return parsed
	}

	parsed.Blueprint = &bp
	return parsed
}

// validateStruct runs validator tags on a decoded blueprint.
func (cp *CUEParser) validateStruct(bp *engine.Blueprint) []ValidationError {
	err := cp.validator.Struct(bp)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Message: err.Error(), Severity: "error"}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Path:     fe.Namespace(),
			Message:  fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
			Severity: "error",
		})
	}
	return out
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     formatPath(e.Path()),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// ExportJSON renders a blueprint as indented JSON, checked against the
// blueprint schema so the output always loads again.
func (cp *CUEParser) ExportJSON(bp *engine.Blueprint) ([]byte, error) {
	data, err := json.Marshal(bp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode blueprint: %w", err)
	}

	val := cp.ctx.CompileBytes(data, cue.Filename("export.json"))
	if _, err := cp.schemaRegistry.Apply("blueprint", val); err != nil {
		return nil, fmt.Errorf("blueprint does not satisfy schema: %w", err)
	}

	return json.MarshalIndent(bp, "", "  ")
}

func formatPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}

func formatLocation(file string, line, column int) string {
	loc := file + ":" + strconv.Itoa(line)
	if column > 0 {
		loc += ":" + strconv.Itoa(column)
	}
	return loc
}
