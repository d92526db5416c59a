// Package policy admits or denies blueprints using Open Policy Agent.
//
// Before a task tree is built, the orchestrator asks the Engine to evaluate
// the blueprint. Every enabled policy sees the document
//
//	{"blueprint": <engine.Blueprint as JSON>, "context": {"operation": "create-tree", ...}}
//
// as input and reports findings through a "deny" set in its package. A deny
// entry is either a message string or an object:
//
//	deny contains violation if {
//	    some m in input.blueprint.modules
//	    m.type == "other"
//	    violation := {"message": "needs a concrete type", "module": m.id, "severity": "error"}
//	}
//
// The entry's severity overrides the policy default. Admit turns findings at
// or above a threshold (config policy.fail_on) into a POLICY_DENIED error.
//
// # Built-in policies
//
//   - module-naming: module IDs are lowercase, hyphen or underscore separated
//   - module-has-work: modules declare responsibilities or interfaces
//   - dependency-fanout: no module depends on more than 8 others
//   - empty-blueprint: at least one module
//   - acceptance-coverage: not every module is tagged codebase
//
// # User policies
//
// Loader reads .rego files (name from the file name, description and
// "# severity: <level>" from the leading comment block) and .json files
// holding a Policy. Engine.Watch reloads them on change through fsnotify;
// built-in policies survive every reload.
package policy
