package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openfroyo/tasktree/pkg/engine"
	"gopkg.in/yaml.v3"
)

// BlueprintLoader reads blueprints from .cue, .json, .yaml and .yml files
// or CUE package directories. Every format goes through the same schema
// and struct-tag validation.
type BlueprintLoader struct {
	mu     sync.Mutex
	parser *CUEParser
}

// NewBlueprintLoader creates a loader.
func NewBlueprintLoader() *BlueprintLoader {
	return &BlueprintLoader{parser: NewCUEParser()}
}

// Parse reads a blueprint and reports validation problems in the result
// rather than as an error. Errors are reserved for unreadable input.
func (l *BlueprintLoader) Parse(ctx context.Context, path string) (*ParsedBlueprint, error) {
	// cue.Context is not safe for concurrent use.
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat blueprint %s: %w", path, err)
	}
	if info.IsDir() {
		return l.parser.Parse(ctx, []string{path})
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue", ".json":
		return l.parser.Parse(ctx, []string{path})
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read blueprint %s: %w", path, err)
		}
		doc, err := yamlToJSON(data)
		if err != nil {
			return &ParsedBlueprint{
				SourceFiles: []string{path},
				Errors: []ValidationError{{
					File:     path,
					Message:  err.Error(),
					Severity: "error",
				}},
			}, nil
		}
		return l.parser.ParseBytes(ctx, path, doc)
	default:
		return nil, fmt.Errorf("unsupported blueprint format %q (want .cue, .json, .yaml or .yml)", ext)
	}
}

// Load reads a blueprint and fails with a VALIDATION_ERROR listing every
// problem found.
func (l *BlueprintLoader) Load(ctx context.Context, path string) (*engine.Blueprint, error) {
	parsed, err := l.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid() {
		return nil, validationFailure(path, parsed.Errors)
	}
	if err := engine.ValidateBlueprint(parsed.Blueprint); err != nil {
		return nil, err
	}
	return parsed.Blueprint, nil
}

// LoadBytes parses an in-memory document. format is the file extension
// the content would have on disk.
func (l *BlueprintLoader) LoadBytes(ctx context.Context, format string, content []byte) (*engine.Blueprint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	format = strings.TrimPrefix(strings.ToLower(format), ".")
	if format == "yaml" || format == "yml" {
		doc, err := yamlToJSON(content)
		if err != nil {
			return nil, engine.NewPermanentError("invalid blueprint YAML", err).
				WithCode(engine.ErrCodeValidation)
		}
		content = doc
	}

	parsed, err := l.parser.ParseBytes(ctx, "inline."+format, content)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid() {
		return nil, validationFailure("inline", parsed.Errors)
	}
	if err := engine.ValidateBlueprint(parsed.Blueprint); err != nil {
		return nil, err
	}
	return parsed.Blueprint, nil
}

// yamlToJSON re-encodes a YAML document as JSON so it can be compiled by CUE.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML to JSON: %w", err)
	}
	return out, nil
}

func validationFailure(source string, errs []ValidationError) error {
	messages := make([]string, len(errs))
	for i, e := range errs {
		messages[i] = e.String()
	}
	return engine.NewPermanentError(
		fmt.Sprintf("blueprint %s is invalid: %s", source, strings.Join(messages, "; ")), nil).
		WithCode(engine.ErrCodeValidation).
		WithDetail("errors", errs)
}
