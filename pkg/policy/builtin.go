package policy

// GetBuiltinPolicies returns all built-in blueprint policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		moduleNamingPolicy(),
		moduleHasWorkPolicy(),
		dependencyFanoutPolicy(),
		emptyBlueprintPolicy(),
		acceptanceCoveragePolicy(),
	}
}

// moduleNamingPolicy keeps module IDs usable as file and label names.
func moduleNamingPolicy() Policy {
	return Policy{
		Name:        "module-naming",
		Description: "Module IDs should be lowercase alphanumeric with hyphens or underscores, at most 63 characters",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package tasktree.policies.naming

import rego.v1

deny contains violation if {
	some m in input.blueprint.modules
	not regex.match("^[a-z0-9][a-z0-9_-]*$", m.id)
	violation := {
		"message": sprintf("module id '%s' should contain only lowercase letters, digits, hyphens and underscores", [m.id]),
		"module": m.id,
	}
}

deny contains violation if {
	some m in input.blueprint.modules
	count(m.id) > 63
	violation := {
		"message": sprintf("module id '%s' must not exceed 63 characters", [m.id]),
		"module": m.id,
	}
}

deny contains violation if {
	some m in input.blueprint.modules
	trim_space(m.name) == ""
	violation := {
		"message": sprintf("module '%s' has a blank name", [m.id]),
		"module": m.id,
		"severity": "error",
	}
}`,
	}
}

// moduleHasWorkPolicy flags modules that would build a module task with
// no children.
func moduleHasWorkPolicy() Policy {
	return Policy{
		Name:        "module-has-work",
		Description: "Every module should declare at least one responsibility or interface",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"structure"},
		Rego: `package tasktree.policies.work

import rego.v1

deny contains violation if {
	some m in input.blueprint.modules
	count(object.get(m, "responsibilities", [])) == 0
	count(object.get(m, "interfaces", [])) == 0
	violation := {
		"message": sprintf("module '%s' declares no responsibilities or interfaces; its task will be a leaf with no acceptance criteria", [m.id]),
		"module": m.id,
	}
}`,
	}
}

// dependencyFanoutPolicy flags modules that depend on too many others.
func dependencyFanoutPolicy() Policy {
	return Policy{
		Name:        "dependency-fanout",
		Description: "Modules should not depend on more than 8 other modules",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"structure", "dependencies"},
		Rego: `package tasktree.policies.fanout

import rego.v1

max_dependencies := 8

deny contains violation if {
	some m in input.blueprint.modules
	n := count(object.get(m, "dependencies", []))
	n > max_dependencies
	violation := {
		"message": sprintf("module '%s' depends on %d modules (limit %d); consider splitting it", [m.id, n, max_dependencies]),
		"module": m.id,
	}
}`,
	}
}

// emptyBlueprintPolicy flags blueprints whose tree would hold only the
// root and the init task.
func emptyBlueprintPolicy() Policy {
	return Policy{
		Name:        "empty-blueprint",
		Description: "Blueprints should declare at least one module",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"structure"},
		Rego: `package tasktree.policies.empty

import rego.v1

has_modules if {
	some _ in input.blueprint.modules
}

deny contains violation if {
	not has_modules
	violation := {
		"message": sprintf("blueprint '%s' declares no modules", [input.blueprint.name]),
	}
}`,
	}
}

// acceptanceCoveragePolicy notes blueprints for which no acceptance tests
// will ever be generated.
func acceptanceCoveragePolicy() Policy {
	return Policy{
		Name:        "acceptance-coverage",
		Description: "Reports blueprints whose modules are all tagged as existing codebase",
		Severity:    SeverityInfo,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"testing"},
		Rego: `package tasktree.policies.coverage

import rego.v1

module_provenance(m) := p if {
	p := m.provenance
} else := p if {
	p := input.blueprint.provenance
} else := "requirement"

generates_tests if {
	some m in input.blueprint.modules
	module_provenance(m) != "codebase"
}

deny contains violation if {
	some _ in input.blueprint.modules
	not generates_tests
	violation := {
		"message": "every module is tagged codebase; no acceptance tests will be generated",
	}
}`,
	}
}
