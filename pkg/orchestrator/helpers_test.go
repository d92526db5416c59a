package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/tasktree/pkg/engine"
	"github.com/openfroyo/tasktree/pkg/stores"
	"github.com/openfroyo/tasktree/pkg/telemetry"
)

func seqIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// shopBlueprint has module a (no deps) and module b (depends on a), one
// responsibility each.
func shopBlueprint() *engine.Blueprint {
	return &engine.Blueprint{
		ID:   "bp-shop",
		Name: "shop",
		Modules: []engine.Module{
			{
				ID:               "a",
				Name:             "Catalog",
				Type:             engine.ModuleBackend,
				Responsibilities: []string{"List products"},
			},
			{
				ID:               "b",
				Name:             "Storefront",
				Type:             engine.ModuleFrontend,
				Responsibilities: []string{"Render catalog"},
				Dependencies:     []string{"a"},
			},
		},
	}
}

func newTestOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	if opts.Store == nil {
		opts.Store = stores.NewMemoryStore()
	}
	if opts.Builder == nil {
		b := engine.NewTreeBuilder()
		b.NewID = seqIDs("t")
		opts.Builder = b
	}
	if opts.Generation.RetryBaseDelay == 0 {
		opts.Generation.RetryBaseDelay = time.Millisecond
	}
	o, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Close(ctx)
	})
	return o
}

func createShop(t *testing.T, o *Orchestrator) *engine.TaskTree {
	t.Helper()
	tree, err := o.CreateTree(context.Background(), shopBlueprint())
	if err != nil {
		t.Fatalf("CreateTree() error = %v", err)
	}
	return tree
}

func findByName(t *testing.T, tree *engine.TaskTree, name string) *engine.TaskNode {
	t.Helper()
	var found *engine.TaskNode
	engine.Walk(tree.Root, func(n *engine.TaskNode) bool {
		if found == nil && n.Name == name {
			found = n
		}
		return found == nil
	})
	if found == nil {
		t.Fatalf("no task named %q", name)
	}
	return found
}

func taskIDs(nodes []*engine.TaskNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func mustStatus(t *testing.T, o *Orchestrator, treeID, taskID string, status engine.TaskStatus) engine.TransitionResult {
	t.Helper()
	res, err := o.UpdateTaskStatus(context.Background(), treeID, taskID, status, nil)
	if err != nil {
		t.Fatalf("UpdateTaskStatus(%s, %s) error = %v", taskID, status, err)
	}
	return res
}

// eventRecorder collects published events.
type eventRecorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func record(o *Orchestrator) *eventRecorder {
	r := &eventRecorder{}
	o.Subscribe(func(e telemetry.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	}, nil)
	return r
}

func (r *eventRecorder) ofType(typ string) []telemetry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []telemetry.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// countingStore counts saves and can be told to fail them.
type countingStore struct {
	*stores.MemoryStore

	mu       sync.Mutex
	saves    int
	failSave bool
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: stores.NewMemoryStore()}
}

func (s *countingStore) SaveTree(ctx context.Context, tree *engine.TaskTree) error {
	s.mu.Lock()
	s.saves++
	fail := s.failSave
	s.mu.Unlock()
	if fail {
		return engine.NewTransientError("disk unavailable", errors.New("write failed")).
			WithCode(engine.ErrCodePersistence)
	}
	return s.MemoryStore.SaveTree(ctx, tree)
}

func (s *countingStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *countingStore) setFailSave(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = fail
}

// funcGenerator adapts a function to TestGenerator and records requests.
type funcGenerator struct {
	mu    sync.Mutex
	reqs  []GenerationRequest
	calls int
	fn    func(ctx context.Context, req GenerationRequest, call int) (*GenerationResult, error)
}

func (g *funcGenerator) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
	return g.fn(ctx, req, call)
}

func (g *funcGenerator) requests() []GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]GenerationRequest(nil), g.reqs...)
}

func (g *funcGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// oneTestGenerator returns a single test named after the task.
func oneTestGenerator() *funcGenerator {
	return &funcGenerator{fn: func(_ context.Context, req GenerationRequest, _ int) (*GenerationResult, error) {
		slug := strings.ReplaceAll(strings.ToLower(req.Task.Name), " ", "_")
		return &GenerationResult{
			Success: true,
			Tests: []TestSpec{{
				Name:   "Test" + req.Task.ID,
				Path:   "tests/" + slug + "_test.go",
				Source: "package tests\n",
			}},
		}, nil
	}}
}

func waitGeneration(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

// counterTotal sums every series of a counter on the telemetry registry.
func counterTotal(t *testing.T, tel *telemetry.Telemetry, name string) float64 {
	t.Helper()
	families, err := tel.Metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
