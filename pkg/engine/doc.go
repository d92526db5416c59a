// Package engine provides the task-tree model and the pure operations over it.
//
// # Overview
//
// A Blueprint describes a project as ordered modules with responsibilities,
// interfaces and module-level dependencies. The engine turns it into a
// TaskTree and keeps that tree consistent while external workers report
// progress:
//
//  1. Build - TreeBuilder expands the blueprint into root, init, module and leaf tasks
//  2. Resolve - ResolveDependencies maps module dependencies onto task dependencies
//  3. Schedule - ExecutableTasks lists the leaves whose dependencies are satisfied
//  4. Transition - Transition and Propagate move tasks through the status machine
//  5. Checkpoint - CreateCheckpoint and CreateGlobalCheckpoint capture rollback points
//  6. Persist - Codec encodes the tree as a human-readable document
//
// Nothing in this package locks or performs I/O. The orchestrator package
// owns the registry, the mutex and persistence.
//
// # Tree Structure
//
// Each node owns its children. Dependencies are plain task IDs resolved
// through the tree's Index, so a dependency may cross branches without
// creating an ownership cycle:
//
//	tree, _ := engine.NewTreeBuilder().Build(bp)
//	_ = engine.ResolveDependencies(tree, bp)
//	node, ok := tree.Find(taskID)
//
// # Status Machine
//
// Statuses run pending -> test_writing -> coding -> testing -> passed, with
// test_failed, rejected and blocked on the side. Approved and cancelled are
// terminal. A passed task cannot drop straight to test_failed or rejected;
// it has to be reset first. Refused transitions leave the node untouched
// and come back as a TransitionResult with Applied false:
//
//	res := engine.Transition(node, engine.StatusCoding, nil)
//	if !res.Applied {
//	    // duplicate or late report, safe to ignore
//	}
//	changes := engine.Propagate(tree)
//
// # Error Classification
//
// Errors are EngineError values with a class and a code:
//
//   - Transient: may succeed on retry (store busy, generator timeout)
//   - Conflict: refused state change (ILLEGAL_TRANSITION)
//   - Permanent: unknown tree or task, invalid blueprint
//
// Use the helpers to inspect them:
//
//	if engine.IsNotFound(err) {
//	    // report to the caller
//	}
package engine
