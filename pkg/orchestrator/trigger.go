package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/openfroyo/tasktree/pkg/config"
	"github.com/openfroyo/tasktree/pkg/engine"
)

// TestGenerator produces acceptance tests for a task. Implementations may
// block for a long time; the orchestrator bounds and retries them.
type TestGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// GenerationRequest describes the task tests are wanted for.
type GenerationRequest struct {
	TreeID string `json:"tree_id"`

	// Task is a copy taken at dispatch time.
	Task *engine.TaskNode `json:"task"`

	// Blueprint and Module are nil for trees hydrated from the store.
	Blueprint *engine.Blueprint `json:"blueprint,omitempty"`
	Module    *engine.Module    `json:"module,omitempty"`

	// ReferenceTests are the parent's acceptance tests, if any.
	ReferenceTests []engine.AcceptanceTest `json:"reference_tests"`
}

// GenerationResult is what a generator returns. Success=false with an
// Error message is a permanent failure.
type GenerationResult struct {
	Success bool       `json:"success"`
	Tests   []TestSpec `json:"tests"`
	Error   string     `json:"error,omitempty"`
}

// TestSpec is one acceptance test to attach to a task.
type TestSpec struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Source string `json:"source"`
}

// GenerationOptions bounds and retries generator calls.
type GenerationOptions struct {
	// MaxConcurrent bounds in-flight generator calls.
	MaxConcurrent int64

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// MaxAttempts is the number of tries for retryable failures.
	MaxAttempts int

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration
}

// GenerationOptionsFromConfig converts the generation section of the engine
// configuration.
func GenerationOptionsFromConfig(cfg config.GenerationConfig) GenerationOptions {
	return GenerationOptions{
		MaxConcurrent:  int64(cfg.MaxConcurrent),
		Timeout:        cfg.Timeout,
		MaxAttempts:    cfg.MaxAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
	}
}

func (g GenerationOptions) withDefaults() GenerationOptions {
	if g.MaxConcurrent <= 0 {
		g.MaxConcurrent = 4
	}
	if g.Timeout <= 0 {
		g.Timeout = 5 * time.Minute
	}
	if g.MaxAttempts <= 0 {
		g.MaxAttempts = 3
	}
	if g.RetryBaseDelay <= 0 {
		g.RetryBaseDelay = time.Second
	}
	return g
}

// generationJob is a request captured under the mutex and run after it is
// released.
type generationJob struct {
	treeID string
	taskID string
	req    GenerationRequest
}

const (
	// maxBackoff caps the delay between generation attempts.
	maxBackoff = time.Minute

	// opCompleteGeneration is still accepted while Close drains.
	opCompleteGeneration = "complete_generation"
)

// generationJobFor builds the request for a leaf when it is eligible: a
// leaf that did not come from existing code and has no tests yet. Caller
// holds o.mu.
func (o *Orchestrator) generationJobFor(entry *treeEntry, n *engine.TaskNode) (generationJob, bool) {
	if o.generator == nil || !n.IsLeaf() || len(n.AcceptanceTests) > 0 {
		return generationJob{}, false
	}
	if n.Provenance == engine.ProvenanceCodebase || n.Status.IsTerminal() {
		return generationJob{}, false
	}

	task, err := engine.CloneNode(n)
	if err != nil {
		o.logger.WithTask(entry.tree.ID, n.ID).WithError(err).Warn("Failed to copy task for generation")
		return generationJob{}, false
	}

	req := GenerationRequest{
		TreeID:         entry.tree.ID,
		Task:           task,
		Blueprint:      entry.blueprint,
		ReferenceTests: []engine.AcceptanceTest{},
	}
	if entry.blueprint != nil && n.ModuleID != "" {
		req.Module = entry.blueprint.FindModule(n.ModuleID)
	}
	if parent, ok := entry.tree.Parent(n.ID); ok {
		req.ReferenceTests = append(req.ReferenceTests, parent.AcceptanceTests...)
	}

	return generationJob{treeID: entry.tree.ID, taskID: n.ID, req: req}, true
}

// dispatch starts one goroutine per job. Each waits on the semaphore, so
// at most MaxConcurrent generator calls run at once; none blocks the
// caller. The jobs must have been counted on genWG while o.mu was held.
func (o *Orchestrator) dispatch(jobs []generationJob) {
	for _, job := range jobs {
		go func(job generationJob) {
			defer o.genWG.Done()
			if err := o.genSem.Acquire(o.genCtx, 1); err != nil {
				return
			}
			defer o.genSem.Release(1)
			o.runGeneration(job)
		}(job)
	}
}

// runGeneration calls the generator with retries and hands the outcome
// back to the facade.
func (o *Orchestrator) runGeneration(job generationJob) {
	logger := o.logger.WithTask(job.treeID, job.taskID)
	start := time.Now()

	var (
		result *GenerationResult
		err    error
	)
	for attempt := 1; attempt <= o.genOpts.MaxAttempts; attempt++ {
		result, err = o.attempt(job, attempt)
		if err == nil || !retryable(err) || attempt == o.genOpts.MaxAttempts {
			break
		}

		delay := o.backoff(attempt)
		logger.WithError(err).WithFields(map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("Generation attempt failed, retrying")

		select {
		case <-time.After(delay):
		case <-o.genCtx.Done():
			err = o.genCtx.Err()
			attempt = o.genOpts.MaxAttempts
		}
	}

	if err != nil {
		o.generationFailed(job, err, time.Since(start))
		return
	}

	o.tel.Metrics.RecordGeneration("succeeded", time.Since(start))
	err = o.mutate(context.Background(), opCompleteGeneration, job.treeID, job.taskID, func(tx *txn) error {
		n, ok := tx.tree.Find(job.taskID)
		if !ok || len(n.AcceptanceTests) > 0 {
			// Deleted, replaced or already served: nothing to attach to.
			tx.noop = true
			return nil
		}
		setAcceptanceTests(tx, n, result.Tests)
		return nil
	})
	switch {
	case err == nil:
		logger.WithField("tests", len(result.Tests)).Debug("Acceptance tests generated")
	case engine.IsNotFound(err):
		logger.Debug("Tree gone before generation completed")
	default:
		logger.WithError(err).Warn("Failed to attach generated tests")
	}
}

// attempt makes one bounded generator call.
func (o *Orchestrator) attempt(job generationJob, attempt int) (*GenerationResult, error) {
	ctx, cancel := context.WithTimeout(o.genCtx, o.genOpts.Timeout)
	defer cancel()

	ctx, span := o.tel.Tracer.StartGenerationSpan(ctx, job.treeID, job.taskID, attempt)
	defer span.End()

	result, err := o.generator.Generate(ctx, job.req)
	if err == nil && result == nil {
		err = engine.NewPermanentError("generator returned no result", nil)
	}
	if err == nil && !result.Success {
		err = engine.NewPermanentError(fmt.Sprintf("generator reported failure: %s", result.Error), nil)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !engine.IsTransient(err) {
			err = engine.NewTransientError("generation attempt timed out", err)
		}
		return nil, generationError(err).WithTree(job.treeID).WithTask(job.taskID)
	}
	return result, nil
}

// backoff returns the delay before attempt+1: base*2^(attempt-1), capped,
// plus up to an eighth of jitter.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := o.genOpts.RetryBaseDelay << uint(attempt-1)
	if delay <= 0 || delay > maxBackoff {
		delay = maxBackoff
	}
	if jitter := int64(delay / 8); jitter > 0 {
		delay += time.Duration(rand.Int63n(jitter))
	}
	return delay
}

func (o *Orchestrator) generationFailed(job generationJob, err error, elapsed time.Duration) {
	class, _ := classify(err)
	o.logger.WithTask(job.treeID, job.taskID).WithError(err).Error("Acceptance test generation failed")
	o.tel.Metrics.RecordGeneration("failed", elapsed)
	o.tel.Metrics.RecordGenerationFailure(class)
	if perr := o.tel.Events.PublishGenerationFailed(job.treeID, job.taskID, err.Error()); perr != nil {
		o.logger.WithError(perr).Warn("Failed to publish event")
	}
}

func retryable(err error) bool {
	return engine.IsRetryable(err)
}

// generationError tags err with GENERATION_FAILED, keeping its class.
// Unclassified errors are permanent.
func generationError(err error) *engine.EngineError {
	switch {
	case engine.IsTransient(err):
		return engine.NewTransientError("generation failed", err).WithCode(engine.ErrCodeGeneration)
	case engine.IsConflict(err):
		return engine.NewConflictError("generation failed", err).WithCode(engine.ErrCodeGeneration)
	default:
		return engine.NewPermanentError("generation failed", err).WithCode(engine.ErrCodeGeneration)
	}
}
