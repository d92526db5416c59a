// Package orchestrator is the mutation facade over task trees.
//
// An Orchestrator keeps one authoritative in-memory copy of every live tree,
// loading trees from the store on first use. Every mutating call runs under
// a single mutex and follows the same sequence:
//
//	validate -> mutate -> propagate -> refresh stats -> save -> publish events
//
// A failed save is logged and counted but does not fail the call; memory
// stays authoritative and the next successful save catches the store up.
// Events are published after the mutex is released, so subscribers may call
// back in.
//
// # Acceptance-test generation
//
// New leaves whose provenance is not "codebase" are handed to the configured
// TestGenerator on background goroutines, bounded by a weighted semaphore.
// Transient failures are retried with exponential backoff. Results re-enter
// through the facade by tree and task ID; if either is gone by then, the
// result is dropped. Permanent failures publish generation:failed.
//
// ExecGenerator adapts any external command that speaks genproto: it reads
// a REQUEST frame carrying a GenerationRequest on stdin and answers with
// progress EVENT frames and a DONE frame carrying a GenerationResult.
package orchestrator
