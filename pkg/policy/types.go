package policy

import (
	"time"

	"github.com/openfroyo/tasktree/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block tree creation by default.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that always block tree creation.
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityError:    2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is as severe as threshold. Unknown severities
// rank as warnings.
func (s Severity) AtLeast(threshold Severity) bool {
	return rank(s) >= rank(threshold)
}

func rank(s Severity) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return severityRank[SeverityWarning]
}

// ParseSeverity converts a config string into a Severity.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(s)
	_, ok := severityRank[sev]
	return sev, ok
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The package must define a
	// "deny" set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the engine. Reloads from disk
	// never remove them.
	Builtin bool `json:"builtin"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty"`
}

// Violation is a single policy finding against a blueprint.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// ModuleID is the offending module, empty for blueprint-wide findings.
	ModuleID string `json:"module_id,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy against one
// blueprint.
type Result struct {
	// Violations lists every finding in policy name order.
	Violations []Violation `json:"violations"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations at or above failOn.
func (r *Result) Blocking(failOn Severity) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.AtLeast(failOn) {
			out = append(out, v)
		}
	}
	return out
}

// Allowed reports whether no violation reaches failOn.
func (r *Result) Allowed(failOn Severity) bool {
	return len(r.Blocking(failOn)) == 0
}

// Input is the document policies see as "input".
type Input struct {
	// Blueprint is the blueprint being admitted.
	Blueprint *engine.Blueprint `json:"blueprint"`

	// Context describes the evaluation.
	Context *Context `json:"context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Operation is the facade operation asking for admission, e.g. "create-tree".
	Operation string `json:"operation"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}
