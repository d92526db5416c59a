package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/openfroyo/tasktree/pkg/engine"
	"github.com/openfroyo/tasktree/pkg/policy"
	"github.com/openfroyo/tasktree/pkg/stores"
	"github.com/openfroyo/tasktree/pkg/telemetry"
	"golang.org/x/sync/semaphore"
)

// journalTimeout bounds a single journal append.
const journalTimeout = 5 * time.Second

// Options configures an Orchestrator.
type Options struct {
	// Store persists trees. Required. The orchestrator never closes it.
	Store stores.TreeStore

	// Telemetry supplies logging, tracing, metrics and events. Defaults to
	// telemetry.NewNopTelemetry.
	Telemetry *telemetry.Telemetry

	// Generator produces acceptance tests for new leaves. Nil disables
	// generation.
	Generator TestGenerator

	// Generation bounds and retries generator calls.
	Generation GenerationOptions

	// Policy admits blueprints before a tree is built. Nil admits everything.
	Policy *policy.Engine

	// FailOn is the lowest violation severity that denies a blueprint.
	// Defaults to error.
	FailOn policy.Severity

	// Builder constructs trees. Defaults to engine.NewTreeBuilder.
	Builder *engine.TreeBuilder
}

// Orchestrator is the single mutation point for task trees. It owns the
// in-memory registry of live trees, hydrated lazily from the store, and
// serializes every call on one mutex: multi-step mutations (transition,
// propagation, stats, save) are never interleaved.
//
// Events are published after the mutex is released, so subscribers may
// call back into the orchestrator.
type Orchestrator struct {
	mu     sync.Mutex
	trees  map[string]*treeEntry
	closed bool

	store     stores.TreeStore
	tel       *telemetry.Telemetry
	logger    *telemetry.Logger
	builder   *engine.TreeBuilder
	policy    *policy.Engine
	failOn    policy.Severity
	generator TestGenerator
	genOpts   GenerationOptions

	genSem    *semaphore.Weighted
	genWG     sync.WaitGroup
	genCtx    context.Context
	genCancel context.CancelFunc
}

// treeEntry is one live tree. The blueprint comes from the tree document;
// it is nil only for documents saved without one.
type treeEntry struct {
	tree      *engine.TaskTree
	blueprint *engine.Blueprint
}

// New creates an orchestrator. When the store keeps an event journal,
// every published tree event is appended to it.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, engine.NewPermanentError("orchestrator requires a store", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NewNopTelemetry()
	}
	if opts.Builder == nil {
		opts.Builder = engine.NewTreeBuilder()
	}
	if opts.FailOn == "" {
		opts.FailOn = policy.SeverityError
	}
	opts.Generation = opts.Generation.withDefaults()

	genCtx, genCancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		trees:     make(map[string]*treeEntry),
		store:     opts.Store,
		tel:       opts.Telemetry,
		logger:    opts.Telemetry.Logger.NewComponentLogger("orchestrator"),
		builder:   opts.Builder,
		policy:    opts.Policy,
		failOn:    opts.FailOn,
		generator: opts.Generator,
		genOpts:   opts.Generation,
		genSem:    semaphore.NewWeighted(opts.Generation.MaxConcurrent),
		genCtx:    genCtx,
		genCancel: genCancel,
	}

	if journal, ok := opts.Store.(stores.EventJournal); ok {
		o.tel.Events.Subscribe(o.journalSubscriber(journal), func(e telemetry.Event) bool {
			return e.TreeID != ""
		})
	}

	return o, nil
}

// Subscribe registers fn for every tree event, optionally filtered.
func (o *Orchestrator) Subscribe(fn telemetry.EventSubscriber, filter telemetry.EventFilter) {
	o.tel.Events.Subscribe(fn, filter)
}

// Wait blocks until every in-flight generation request has completed or
// ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.genWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further calls, waits for in-flight generation until ctx is
// done and then abandons whatever is left. Generated tests that arrive
// while draining are still attached and saved.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	err := o.Wait(ctx)
	o.genCancel()
	if err != nil {
		o.logger.WithError(err).Warn("Closed with generation requests still in flight")
	}
	return err
}

// txn is one serialized mutation of one tree. Events and generation jobs
// queued on it are released only after the tree has been saved and the
// orchestrator mutex dropped.
type txn struct {
	op     string
	tree   *engine.TaskTree
	entry  *treeEntry
	logger *telemetry.Logger

	events  []func() error
	jobs    []generationJob
	noop    bool
	metrics *telemetry.Metrics
	pub     *telemetry.EventPublisher
}

// emit queues an event publication.
func (tx *txn) emit(fn func() error) {
	tx.events = append(tx.events, fn)
}

// transitioned records the outcome of a status change and queues its event
// when the status actually moved.
func (tx *txn) transitioned(res engine.TransitionResult) {
	if !res.Applied {
		tx.metrics.RecordRejectedTransition(string(res.Previous), string(res.Requested))
		return
	}
	if !res.Changed() {
		return
	}
	tx.metrics.RecordTransition(string(res.Current))
	treeID := tx.tree.ID
	tx.emit(func() error {
		return tx.pub.PublishTaskStatusChanged(treeID, res.TaskID, string(res.Previous), string(res.Current))
	})
}

// mutate runs fn against a live tree under the orchestrator mutex, then
// propagates, refreshes stats, saves, and finally publishes the queued
// events and dispatches queued generation. fn must validate before it
// mutates: an error from fn aborts without saving.
func (o *Orchestrator) mutate(ctx context.Context, op, treeID, taskID string, fn func(tx *txn) error) (err error) {
	operation := o.tel.StartTreeOperation(ctx, op, treeID, taskID)
	defer func() { operation.End(err) }()
	ctx = operation.Ctx

	o.mu.Lock()
	if o.closed && op != opCompleteGeneration {
		o.mu.Unlock()
		return errClosed()
	}
	entry, err := o.acquire(ctx, treeID)
	if err != nil {
		o.mu.Unlock()
		return err
	}

	tx := &txn{
		op:      op,
		tree:    entry.tree,
		entry:   entry,
		logger:  o.logger.WithTreeID(treeID).WithField("operation", op),
		metrics: o.tel.Metrics,
		pub:     o.tel.Events,
	}
	if err := fn(tx); err != nil {
		o.mu.Unlock()
		o.recordError(err)
		return err
	}
	if !tx.noop {
		o.commit(ctx, tx)
	}
	o.genWG.Add(len(tx.jobs))
	o.mu.Unlock()

	o.flush(tx)
	o.dispatch(tx.jobs)
	return nil
}

// view runs fn against a live tree under the orchestrator mutex without
// saving anything.
func (o *Orchestrator) view(ctx context.Context, op, treeID, taskID string, fn func(tree *engine.TaskTree) error) (err error) {
	operation := o.tel.StartTreeOperation(ctx, op, treeID, taskID)
	defer func() { operation.End(err) }()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return errClosed()
	}
	entry, err := o.acquire(operation.Ctx, treeID)
	if err != nil {
		return err
	}
	return fn(entry.tree)
}

// acquire returns the live entry for treeID, loading it from the store on
// first use. Caller holds o.mu.
func (o *Orchestrator) acquire(ctx context.Context, treeID string) (*treeEntry, error) {
	if entry, ok := o.trees[treeID]; ok {
		return entry, nil
	}

	tree, err := o.store.LoadTree(ctx, treeID)
	if err != nil {
		return nil, err
	}
	tree.Reindex()

	entry := &treeEntry{tree: tree, blueprint: tree.Blueprint}
	o.trees[treeID] = entry
	o.tel.Metrics.SetActiveTrees(len(o.trees))

	o.logger.WithTreeID(treeID).Debug("Tree hydrated from store")
	return entry, nil
}

// commit finishes a mutation: propagate child outcomes upward, recompute
// stats and save. Caller holds o.mu.
func (o *Orchestrator) commit(ctx context.Context, tx *txn) {
	for _, res := range engine.Propagate(tx.tree) {
		tx.transitioned(res)
	}
	tx.tree.RefreshStats()
	o.save(ctx, tx.op, tx.tree)
	o.tel.Metrics.SetExecutableTasks(tx.tree.ID, len(engine.ExecutableTasks(tx.tree)))
}

// save persists a tree. A failed save is logged and counted; the in-memory
// tree stays authoritative.
func (o *Orchestrator) save(ctx context.Context, op string, tree *engine.TaskTree) {
	if err := o.store.SaveTree(ctx, tree); err != nil {
		o.logger.WithTreeID(tree.ID).WithError(err).
			WithField("operation", op).
			Error("Failed to persist tree; keeping in-memory state")
		o.tel.Metrics.RecordPersistenceFailure(op)
		o.recordError(err)
	}
}

// flush publishes the events queued on tx, in order.
func (o *Orchestrator) flush(tx *txn) {
	for _, publish := range tx.events {
		if err := publish(); err != nil {
			tx.logger.WithError(err).Warn("Failed to publish event")
		}
	}
}

func errClosed() error {
	return engine.NewPermanentError("orchestrator is closed", nil).WithCode(engine.ErrCodeInternal)
}

func (o *Orchestrator) recordError(err error) {
	class, code := classify(err)
	o.tel.Metrics.RecordError(class, code)
}

// classify returns the class and code of an engine error, treating plain
// errors as permanent internal failures.
func classify(err error) (string, string) {
	if e, ok := asEngineError(err); ok {
		return string(e.Class), e.Code
	}
	return string(engine.ErrorClassPermanent), engine.ErrCodeInternal
}

// journalSubscriber appends tree events to the store's journal.
func (o *Orchestrator) journalSubscriber(journal stores.EventJournal) telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		stored := &stores.StoredEvent{
			TreeID:    e.TreeID,
			Type:      e.Type,
			Timestamp: e.Timestamp,
		}
		if e.TaskID != "" {
			taskID := e.TaskID
			stored.TaskID = &taskID
		}
		if len(e.Data) > 0 {
			if data, err := json.Marshal(e.Data); err == nil {
				payload := string(data)
				stored.Payload = &payload
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := journal.AppendEvent(ctx, stored); err != nil {
			o.logger.WithTreeID(e.TreeID).WithError(err).
				WithField("event_type", e.Type).
				Warn("Failed to journal event")
			o.tel.Metrics.RecordPersistenceFailure("journal")
		}
	}
}

// Events returns a tree's journal, oldest first. Stores without a journal
// return an empty list.
func (o *Orchestrator) Events(ctx context.Context, treeID string, limit, offset int) ([]*stores.StoredEvent, error) {
	journal, ok := o.store.(stores.EventJournal)
	if !ok {
		return []*stores.StoredEvent{}, nil
	}
	return journal.ListEvents(ctx, treeID, limit, offset)
}

func asEngineError(err error) (*engine.EngineError, bool) {
	var e *engine.EngineError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
