package config

import (
	"time"

	"github.com/openfroyo/tasktree/pkg/engine"
	"github.com/openfroyo/tasktree/pkg/telemetry"
)

// EngineConfig is the top-level configuration of a tasktree process.
type EngineConfig struct {
	Store      StoreConfig       `yaml:"store" validate:"required"`
	Generation GenerationConfig  `yaml:"generation"`
	Policy     PolicyConfig      `yaml:"policy"`
	Telemetry  *telemetry.Config `yaml:"telemetry"`
}

// StoreConfig selects and locates the persistence backend.
type StoreConfig struct {
	// Backend is one of sqlite, badger, file, memory.
	Backend string `yaml:"backend" validate:"required,oneof=sqlite badger file memory"`

	// Path is the data directory. Ignored by the memory backend.
	Path string `yaml:"path" validate:"required_unless=Backend memory"`
}

// GenerationConfig controls acceptance-test generation requests.
type GenerationConfig struct {
	// Command is the external generator executable. Empty disables generation.
	Command string `yaml:"command"`

	// Args are passed to Command before the request is written to its stdin.
	Args []string `yaml:"args"`

	// MaxConcurrent bounds in-flight generation requests.
	MaxConcurrent int `yaml:"max_concurrent" validate:"min=1"`

	// Timeout bounds a single generation attempt.
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`

	// MaxAttempts is the number of tries for transient failures.
	MaxAttempts int `yaml:"max_attempts" validate:"min=1"`

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" validate:"min=0"`
}

// PolicyConfig configures blueprint admission policies.
type PolicyConfig struct {
	// Enabled turns admission checks on.
	Enabled bool `yaml:"enabled"`

	// Paths lists directories or files of additional .rego policies.
	Paths []string `yaml:"paths"`

	// Watch reloads policies when files under Paths change.
	Watch bool `yaml:"watch"`

	// FailOn is the lowest violation severity that rejects a blueprint.
	FailOn string `yaml:"fail_on" validate:"omitempty,oneof=info warning error critical"`
}

// ParsedBlueprint is a blueprint together with where it came from and
// everything wrong with it.
type ParsedBlueprint struct {
	Blueprint   *engine.Blueprint `json:"blueprint,omitempty"`
	SourceFiles []string          `json:"source_files"`
	ParsedAt    time.Time         `json:"parsed_at"`
	Errors      []ValidationError `json:"errors,omitempty"`
}

// Valid reports whether the blueprint parsed without errors.
func (pb *ParsedBlueprint) Valid() bool {
	return pb.Blueprint != nil && len(pb.Errors) == 0
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path to the error (e.g., "modules.2.type").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (ve ValidationError) String() string {
	loc := ve.File
	if ve.Line > 0 {
		loc = formatLocation(ve.File, ve.Line, ve.Column)
	}
	switch {
	case loc != "" && ve.Path != "":
		return loc + ": " + ve.Path + ": " + ve.Message
	case loc != "":
		return loc + ": " + ve.Message
	case ve.Path != "":
		return ve.Path + ": " + ve.Message
	}
	return ve.Message
}
