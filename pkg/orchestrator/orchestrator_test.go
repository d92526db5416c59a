package orchestrator

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/tasktree/pkg/engine"
	"github.com/openfroyo/tasktree/pkg/policy"
	"github.com/openfroyo/tasktree/pkg/stores"
	"github.com/openfroyo/tasktree/pkg/telemetry"
	"github.com/rs/zerolog"
)

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(Options{}); !engine.HasCode(err, engine.ErrCodeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCreateTree_DependentModuleScenario(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	events := record(o)
	ctx := context.Background()

	tree := createShop(t, o)
	if tree.Status != engine.TreeStatusPending {
		t.Errorf("expected pending tree, got %s", tree.Status)
	}
	if got := len(events.ofType(telemetry.EventTypeTreeCreated)); got != 1 {
		t.Errorf("expected one tree:created event, got %d", got)
	}

	var initID string
	for _, c := range tree.Root.Children {
		if c.Type == engine.TaskTypeProjectInit {
			initID = c.ID
		}
	}
	listProducts := findByName(t, tree, "List products")
	render := findByName(t, tree, "Render catalog")
	catalog := findByName(t, tree, "Catalog")

	ready, err := o.ExecutableTasks(ctx, tree.ID)
	if err != nil {
		t.Fatalf("ExecutableTasks() error = %v", err)
	}
	if got, want := taskIDs(ready), []string{initID, listProducts.ID}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected executable %v, got %v", want, got)
	}

	ok, reasons, err := o.CanStart(ctx, tree.ID, render.ID)
	if err != nil {
		t.Fatalf("CanStart() error = %v", err)
	}
	if ok || len(reasons) != 1 || !strings.Contains(reasons[0], catalog.ID) {
		t.Fatalf("expected Render catalog blocked on %s, got ok=%v reasons=%v", catalog.ID, ok, reasons)
	}

	mustStatus(t, o, tree.ID, listProducts.ID, engine.StatusCoding)
	mustStatus(t, o, tree.ID, listProducts.ID, engine.StatusTesting)
	res := mustStatus(t, o, tree.ID, listProducts.ID, engine.StatusPassed)
	if !res.Changed() || res.Previous != engine.StatusTesting {
		t.Errorf("unexpected transition result: %+v", res)
	}

	got, err := o.GetTree(ctx, tree.ID)
	if err != nil {
		t.Fatalf("GetTree() error = %v", err)
	}
	if s := findByName(t, got, "Catalog").Status; s != engine.StatusPassed {
		t.Errorf("expected Catalog passed by propagation, got %s", s)
	}

	ready, _ = o.ExecutableTasks(ctx, tree.ID)
	if got, want := taskIDs(ready), []string{initID, render.ID}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected executable %v, got %v", want, got)
	}

	var catalogChanged bool
	for _, e := range events.ofType(telemetry.EventTypeTaskStatusChanged) {
		if e.TaskID == catalog.ID && e.Data["new_status"] == string(engine.StatusPassed) {
			catalogChanged = true
		}
	}
	if !catalogChanged {
		t.Error("expected a status-changed event for the propagated module")
	}
}

func TestUpdateTaskStatus_TerminalAbsorbsWithoutEvent(t *testing.T) {
	store := newCountingStore()
	o := newTestOrchestrator(t, Options{Store: store})
	tree := createShop(t, o)
	leaf := findByName(t, tree, "List products")

	mustStatus(t, o, tree.ID, leaf.ID, engine.StatusApproved)

	events := record(o)
	saves := store.saveCount()

	res := mustStatus(t, o, tree.ID, leaf.ID, engine.StatusPending)
	if res.Applied || res.Changed() {
		t.Fatalf("approved -> pending should be absorbed, got %+v", res)
	}
	if res.Current != engine.StatusApproved || res.Reason == "" {
		t.Errorf("unexpected result: %+v", res)
	}
	if !engine.HasCode(res.Err(), engine.ErrCodeIllegalTransition) {
		t.Errorf("expected ILLEGAL_TRANSITION from Err(), got %v", res.Err())
	}
	if events.count() != 0 {
		t.Errorf("expected no events, got %d", events.count())
	}
	if store.saveCount() != saves {
		t.Errorf("absorbed update should not save")
	}

	got, _ := o.GetTask(context.Background(), tree.ID, leaf.ID)
	if got.Status != engine.StatusApproved {
		t.Errorf("expected approved, got %s", got.Status)
	}
}

func TestUpdateTaskStatus_SameStateMergesMetadataQuietly(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	tree := createShop(t, o)
	leaf := findByName(t, tree, "List products")
	events := record(o)

	res, err := o.UpdateTaskStatus(context.Background(), tree.ID, leaf.ID, engine.StatusPending,
		map[string]string{"assignee": "worker-1"})
	if err != nil {
		t.Fatalf("UpdateTaskStatus() error = %v", err)
	}
	if !res.Applied || res.Changed() {
		t.Errorf("expected applied no-change result, got %+v", res)
	}
	if len(events.ofType(telemetry.EventTypeTaskStatusChanged)) != 0 {
		t.Error("same-state update should not publish a status change")
	}

	got, _ := o.GetTask(context.Background(), tree.ID, leaf.ID)
	if got.Metadata["assignee"] != "worker-1" {
		t.Errorf("expected metadata merged, got %v", got.Metadata)
	}
}

func TestUpdateTaskStatus_NotFound(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	tree := createShop(t, o)

	tests := []struct {
		name   string
		treeID string
		taskID string
	}{
		{"unknown tree", "missing", "t-1"},
		{"unknown task", tree.ID, "missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.UpdateTaskStatus(context.Background(), tt.treeID, tt.taskID, engine.StatusCoding, nil)
			if !engine.IsNotFound(err) {
				t.Errorf("expected NOT_FOUND, got %v", err)
			}
		})
	}
}

func TestPropagation_AllLeavesPassedCompletesTree(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	tree := createShop(t, o)

	for _, leaf := range tree.Leaves() {
		mustStatus(t, o, tree.ID, leaf.ID, engine.StatusPassed)
	}

	got, err := o.GetTree(ctx, tree.ID)
	if err != nil {
		t.Fatalf("GetTree() error = %v", err)
	}
	engine.Walk(got.Root, func(n *engine.TaskNode) bool {
		if n.Status != engine.StatusPassed {
			t.Errorf("task %s (%s) is %s, want passed", n.ID, n.Name, n.Status)
		}
		return true
	})

	stats, status, err := o.GetStats(ctx, tree.ID)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if status != engine.TreeStatusCompleted {
		t.Errorf("expected completed tree, got %s", status)
	}
	if stats.CompletionPercent != 100 || stats.Passed != stats.TotalTasks {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestRecordTestResult(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	tree := createShop(t, o)
	leaf := findByName(t, tree, "List products")
	events := record(o)

	mustStatus(t, o, tree.ID, leaf.ID, engine.StatusTesting)
	if err := o.RecordTestResult(ctx, tree.ID, leaf.ID, engine.TestResult{Passed: false, Total: 3, Failures: 1}); err != nil {
		t.Fatalf("RecordTestResult() error = %v", err)
	}

	got, _ := o.GetTask(ctx, tree.ID, leaf.ID)
	if got.Status != engine.StatusTestFailed {
		t.Errorf("expected test_failed, got %s", got.Status)
	}
	if got.TestRetryCount != 1 {
		t.Errorf("expected one test retry, got %d", got.TestRetryCount)
	}
	if got.LatestTestResult == nil || got.LatestTestResult.RecordedAt.IsZero() {
		t.Errorf("expected a stamped test result, got %+v", got.LatestTestResult)
	}
	if len(events.ofType(telemetry.EventTypeTaskTestResult)) != 1 {
		t.Error("expected one test-result event")
	}

	if err := o.RecordTestResult(ctx, tree.ID, leaf.ID, engine.TestResult{Passed: true}); err != nil {
		t.Fatalf("RecordTestResult() error = %v", err)
	}
	got, _ = o.GetTask(ctx, tree.ID, leaf.ID)
	if got.Status != engine.StatusTestFailed {
		t.Errorf("only a task in testing moves on a result, got %s", got.Status)
	}
}

func TestRecordTestResult_StoresUTC(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	tree := createShop(t, o)
	leaf := findByName(t, tree, "List products")

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	if err := o.RecordTestResult(ctx, tree.ID, leaf.ID, engine.TestResult{Passed: true, RecordedAt: at}); err != nil {
		t.Fatalf("RecordTestResult() error = %v", err)
	}

	live, err := o.GetTree(ctx, tree.ID)
	if err != nil {
		t.Fatalf("GetTree() error = %v", err)
	}
	got := findByName(t, live, "List products").LatestTestResult
	if got == nil || got.RecordedAt.Location() != time.UTC || !got.RecordedAt.Equal(at) {
		t.Fatalf("expected the same instant in UTC, got %+v", got)
	}

	data, err := engine.DefaultCodec.Encode(live)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := engine.DefaultCodec.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if again := findByName(t, decoded, "List products").LatestTestResult; !reflect.DeepEqual(again, got) {
		t.Errorf("test result changed across the codec: %+v != %+v", again, got)
	}
}

func TestRecordAcceptanceTestResult(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	tree := createShop(t, o)
	leaf := findByName(t, tree, "List products")

	if err := o.SetAcceptanceTests(ctx, tree.ID, leaf.ID, []TestSpec{{Name: "TestList", Path: "list_test.go"}}); err != nil {
		t.Fatalf("SetAcceptanceTests() error = %v", err)
	}
	got, _ := o.GetTask(ctx, tree.ID, leaf.ID)
	testID := got.AcceptanceTests[0].ID

	if err := o.RecordAcceptanceTestResult(ctx, tree.ID, leaf.ID, testID, true, "ok"); err != nil {
		t.Fatalf("RecordAcceptanceTestResult() error = %v", err)
	}
	got, _ = o.GetTask(ctx, tree.ID, leaf.ID)
	if runs := got.AcceptanceTests[0].Runs; len(runs) != 1 || !runs[0].Passed || runs[0].Output != "ok" {
		t.Errorf("unexpected runs: %+v", runs)
	}

	if err := o.RecordAcceptanceTestResult(ctx, tree.ID, leaf.ID, "nope", true, ""); !engine.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND for unknown test, got %v", err)
	}
}

func TestAppendArtifact(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	tree := createShop(t, o)
	leaf := findByName(t, tree, "List products")
	events := record(o)

	a, err := o.AppendArtifact(ctx, tree.ID, leaf.ID, engine.ArtifactCode, "catalog/list.go", "package catalog")
	if err != nil {
		t.Fatalf("AppendArtifact() error = %v", err)
	}
	if a.ID == "" || a.Path != "catalog/list.go" {
		t.Errorf("unexpected artifact: %+v", a)
	}
	if len(events.ofType(telemetry.EventTypeTaskArtifactAdded)) != 1 {
		t.Error("expected one artifact-added event")
	}

	if _, err := o.AppendArtifact(ctx, tree.ID, leaf.ID, "binary", "x", ""); !engine.HasCode(err, engine.ErrCodeValidation) {
		t.Errorf("expected validation error for unknown type, got %v", err)
	}
	if _, err := o.AppendArtifact(ctx, tree.ID, leaf.ID, engine.ArtifactDoc, "", ""); !engine.HasCode(err, engine.ErrCodeValidation) {
		t.Errorf("expected validation error for empty path, got %v", err)
	}
}

func TestAddTask(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	tree := createShop(t, o)
	leaf := findByName(t, tree, "List products")
	render := findByName(t, tree, "Render catalog")
	events := record(o)

	child, err := o.AddTask(ctx, tree.ID, leaf.ID, TaskSpec{Name: "Paginate", Priority: 10})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if child.ParentID != leaf.ID || child.Depth != leaf.Depth+1 {
		t.Errorf("unexpected placement: parent=%s depth=%d", child.ParentID, child.Depth)
	}
	if child.ModuleID != "a" || child.Provenance != leaf.Provenance || child.Metadata["kind"] != "refinement" {
		t.Errorf("expected inherited module and provenance, got %+v", child)
	}
	if len(events.ofType(telemetry.EventTypeTaskCreated)) != 1 {
		t.Error("expected one task:created event")
	}

	ready, _ := o.ExecutableTasks(ctx, tree.ID)
	for _, id := range taskIDs(ready) {
		if id == leaf.ID {
			t.Error("refined task is no longer a leaf and must not be executable")
		}
	}

	tests := []struct {
		name   string
		parent string
		spec   TaskSpec
		check  func(error) bool
	}{
		{"empty name", leaf.ID, TaskSpec{}, func(err error) bool { return engine.HasCode(err, engine.ErrCodeValidation) }},
		{"unknown parent", "missing", TaskSpec{Name: "x"}, engine.IsNotFound},
		{"unknown dependency", leaf.ID, TaskSpec{Name: "x", Dependencies: []string{"missing"}}, func(err error) bool {
			return engine.HasCode(err, engine.ErrCodeValidation)
		}},
		{"dependency on own parent", render.ID, TaskSpec{Name: "x", Dependencies: []string{render.ID}}, func(err error) bool {
			return engine.HasCode(err, engine.ErrCodeValidation)
		}},
		{"dependency on an ancestor", render.ID, TaskSpec{Name: "x", Dependencies: []string{tree.Root.ID}}, func(err error) bool {
			return engine.HasCode(err, engine.ErrCodeValidation)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := o.AddTask(ctx, tree.ID, tt.parent, tt.spec); !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestAddTask_InheritsModuleGate(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	tree := createShop(t, o)
	catalog := findByName(t, tree, "Catalog")
	storefront := findByName(t, tree, "Storefront")
	render := findByName(t, tree, "Render catalog")

	tests := []struct {
		name   string
		parent string
	}{
		{"under the module", storefront.ID},
		{"under a responsibility", render.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			child, err := o.AddTask(ctx, tree.ID, tt.parent, TaskSpec{Name: "Extra " + tt.name})
			if err != nil {
				t.Fatalf("AddTask() error = %v", err)
			}
			if len(child.Dependencies) != 1 || child.Dependencies[0] != catalog.ID {
				t.Errorf("expected the Catalog gate, got %v", child.Dependencies)
			}
			if ok, _, _ := o.CanStart(ctx, tree.ID, child.ID); ok {
				t.Error("refined task must wait for module a")
			}
			ready, _ := o.ExecutableTasks(ctx, tree.ID)
			for _, id := range taskIDs(ready) {
				if id == child.ID {
					t.Error("refined task is executable while module a is pending")
				}
			}
		})
	}

	// The gate and an explicit dependency on the same task collapse.
	child, err := o.AddTask(ctx, tree.ID, render.ID, TaskSpec{Name: "Deduped", Dependencies: []string{catalog.ID}})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if len(child.Dependencies) != 1 {
		t.Errorf("expected one dependency, got %v", child.Dependencies)
	}

	// Finishing module a releases the refined work.
	mustStatus(t, o, tree.ID, findByName(t, tree, "List products").ID, engine.StatusPassed)
	if ok, reasons, err := o.CanStart(ctx, tree.ID, child.ID); err != nil || !ok {
		t.Errorf("expected refined task ready once module a passed, got %v (%v)", reasons, err)
	}
}

func TestIncrementRetry(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	tree := createShop(t, o)
	leaf := findByName(t, tree, "List products")

	var (
		count     int
		exhausted bool
		err       error
	)
	for i := 0; i < engine.DefaultMaxRetries; i++ {
		count, exhausted, err = o.IncrementRetry(context.Background(), tree.ID, leaf.ID)
		if err != nil {
			t.Fatalf("IncrementRetry() error = %v", err)
		}
	}
	if count != engine.DefaultMaxRetries || !exhausted {
		t.Errorf("expected %d retries exhausted, got %d exhausted=%v", engine.DefaultMaxRetries, count, exhausted)
	}
}

func TestResetFailedTasks(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	tree := createShop(t, o)
	leaf := findByName(t, tree, "List products")
	catalog := findByName(t, tree, "Catalog")

	mustStatus(t, o, tree.ID, leaf.ID, engine.StatusTestFailed)
	if _, _, err := o.IncrementRetry(ctx, tree.ID, leaf.ID); err != nil {
		t.Fatalf("IncrementRetry() error = %v", err)
	}
	got, _ := o.GetTask(ctx, tree.ID, catalog.ID)
	if got.Status != engine.StatusTestFailed {
		t.Fatalf("expected failure to propagate to Catalog, got %s", got.Status)
	}

	events := record(o)
	ids, err := o.ResetFailedTasks(ctx, tree.ID, true)
	if err != nil {
		t.Fatalf("ResetFailedTasks() error = %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("expected root, Catalog and its leaf reset, got %v", ids)
	}

	got, _ = o.GetTask(ctx, tree.ID, leaf.ID)
	if got.Status != engine.StatusPending || got.RetryCount != 0 {
		t.Errorf("expected pending with zeroed retries, got %s retries=%d", got.Status, got.RetryCount)
	}
	if len(events.ofType(telemetry.EventTypeTasksReset)) != 1 {
		t.Error("expected one tasks:reset event")
	}

	ids, err = o.ResetFailedTasks(ctx, tree.ID, false)
	if err != nil || len(ids) != 0 {
		t.Errorf("second reset should find nothing, got %v %v", ids, err)
	}
	if len(events.ofType(telemetry.EventTypeTasksReset)) != 1 {
		t.Error("empty reset should not publish")
	}
}

func TestResetInterruptedTasks(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	tree := createShop(t, o)
	leaf := findByName(t, tree, "List products")
	render := findByName(t, tree, "Render catalog")

	mustStatus(t, o, tree.ID, leaf.ID, engine.StatusCoding)
	mustStatus(t, o, tree.ID, render.ID, engine.StatusApproved)

	ids, err := o.ResetInterruptedTasks(ctx, tree.ID)
	if err != nil {
		t.Fatalf("ResetInterruptedTasks() error = %v", err)
	}
	if len(ids) == 0 {
		t.Fatal("expected interrupted tasks to be reset")
	}

	got, _ := o.GetTree(ctx, tree.ID)
	engine.Walk(got.Root, func(n *engine.TaskNode) bool {
		if n.Status.IsActive() {
			t.Errorf("task %s still %s", n.Name, n.Status)
		}
		return true
	})
	if s := findByName(t, got, "Render catalog").Status; s != engine.StatusApproved {
		t.Errorf("terminal task must not be reset, got %s", s)
	}
}

func TestPersistenceFailure_MemoryStaysAuthoritative(t *testing.T) {
	store := newCountingStore()
	tel := telemetry.NewNopTelemetry()
	o := newTestOrchestrator(t, Options{Store: store, Telemetry: tel})
	ctx := context.Background()
	tree := createShop(t, o)
	leaf := findByName(t, tree, "List products")

	store.setFailSave(true)
	if _, err := o.UpdateTaskStatus(ctx, tree.ID, leaf.ID, engine.StatusCoding, nil); err != nil {
		t.Fatalf("a failed save must not fail the update: %v", err)
	}

	got, _ := o.GetTask(ctx, tree.ID, leaf.ID)
	if got.Status != engine.StatusCoding {
		t.Errorf("expected in-memory status coding, got %s", got.Status)
	}
	stored, _ := store.LoadTree(ctx, tree.ID)
	if s := findByName(t, stored, "List products").Status; s != engine.StatusPending {
		t.Errorf("expected stored status to lag at pending, got %s", s)
	}
	if n := counterTotal(t, tel, "tasktree_persistence_failures_total"); n != 1 {
		t.Errorf("expected one persistence failure counted, got %v", n)
	}

	store.setFailSave(false)
	mustStatus(t, o, tree.ID, leaf.ID, engine.StatusTesting)
	stored, _ = store.LoadTree(ctx, tree.ID)
	if s := findByName(t, stored, "List products").Status; s != engine.StatusTesting {
		t.Errorf("expected next save to catch the store up, got %s", s)
	}
}

func TestHydrateFromStore(t *testing.T) {
	store := stores.NewMemoryStore()
	first := newTestOrchestrator(t, Options{Store: store})
	tree := createShop(t, first)
	leaf := findByName(t, tree, "List products")
	mustStatus(t, first, tree.ID, leaf.ID, engine.StatusCoding)

	second := newTestOrchestrator(t, Options{Store: store})
	got, err := second.GetTask(context.Background(), tree.ID, leaf.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != engine.StatusCoding {
		t.Errorf("expected hydrated status coding, got %s", got.Status)
	}
}

func TestHydrateFromStore_KeepsBlueprintForGeneration(t *testing.T) {
	store := stores.NewMemoryStore()
	first := newTestOrchestrator(t, Options{Store: store})
	tree := createShop(t, first)
	leaf := findByName(t, tree, "List products")

	gen := oneTestGenerator()
	second := newTestOrchestrator(t, Options{Store: store, Generator: gen})
	child, err := second.AddTask(context.Background(), tree.ID, leaf.ID, TaskSpec{Name: "Paginate"})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	waitGeneration(t, second)

	reqs := gen.requests()
	if len(reqs) != 1 || reqs[0].Task.ID != child.ID {
		t.Fatalf("expected one request for the refined task, got %+v", reqs)
	}
	if reqs[0].Blueprint == nil || reqs[0].Blueprint.Name != "shop" {
		t.Errorf("expected the stored blueprint on the request, got %+v", reqs[0].Blueprint)
	}
	if reqs[0].Module == nil || reqs[0].Module.ID != "a" {
		t.Errorf("expected module a on the request, got %+v", reqs[0].Module)
	}
}

func TestListAndDeleteTrees(t *testing.T) {
	store := newCountingStore()
	o := newTestOrchestrator(t, Options{Store: store})
	ctx := context.Background()

	store.setFailSave(true)
	unsaved := createShop(t, o)
	store.setFailSave(false)
	saved := createShop(t, o)

	list, err := o.ListTrees(ctx)
	if err != nil {
		t.Fatalf("ListTrees() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected live unsaved tree listed too, got %d", len(list))
	}

	events := record(o)
	for _, id := range []string{unsaved.ID, saved.ID} {
		if err := o.DeleteTree(ctx, id); err != nil {
			t.Fatalf("DeleteTree(%s) error = %v", id, err)
		}
		if _, err := o.GetTree(ctx, id); !engine.IsNotFound(err) {
			t.Errorf("expected NOT_FOUND after delete, got %v", err)
		}
	}
	if len(events.ofType(telemetry.EventTypeTreeDeleted)) != 2 {
		t.Error("expected two tree:deleted events")
	}
	if err := o.DeleteTree(ctx, saved.ID); !engine.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND deleting twice, got %v", err)
	}

	list, _ = o.ListTrees(ctx)
	if len(list) != 0 {
		t.Errorf("expected empty listing, got %+v", list)
	}
}

func TestCreateTree_PolicyDenied(t *testing.T) {
	pe, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	o := newTestOrchestrator(t, Options{Policy: pe, FailOn: policy.SeverityWarning})
	ctx := context.Background()

	bp := shopBlueprint()
	bp.Modules[0].Responsibilities = nil
	if _, err := o.CreateTree(ctx, bp); !engine.HasCode(err, engine.ErrCodePolicyDenied) {
		t.Fatalf("expected POLICY_DENIED, got %v", err)
	}
	list, _ := o.ListTrees(ctx)
	if len(list) != 0 {
		t.Errorf("denied blueprint must not create a tree, got %+v", list)
	}

	if _, err := o.CreateTree(ctx, shopBlueprint()); err != nil {
		t.Errorf("clean blueprint should be admitted: %v", err)
	}
}

func TestCreateTree_InvalidBlueprint(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	bp := shopBlueprint()
	bp.Modules[1].Dependencies = []string{"ghost"}
	if _, err := o.CreateTree(context.Background(), bp); !engine.HasCode(err, engine.ErrCodeValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestEvents_Journaled(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	tree := createShop(t, o)
	leaf := findByName(t, tree, "List products")
	mustStatus(t, o, tree.ID, leaf.ID, engine.StatusCoding)

	journal, err := o.Events(ctx, tree.ID, 0, 0)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(journal) < 2 {
		t.Fatalf("expected journaled events, got %d", len(journal))
	}
	if journal[0].Type != telemetry.EventTypeTreeCreated {
		t.Errorf("expected tree:created first, got %s", journal[0].Type)
	}
	last := journal[len(journal)-1]
	if last.TaskID == nil || last.Payload == nil || !strings.Contains(*last.Payload, "new_status") {
		t.Errorf("expected a status-changed entry with payload, got %+v", last)
	}

	page, _ := o.Events(ctx, tree.ID, 1, 1)
	if len(page) != 1 || page[0].ID != journal[1].ID {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestSubscriberMayCallBack(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	ctx := context.Background()

	var seen engine.TaskStatus
	o.Subscribe(func(e telemetry.Event) {
		task, err := o.GetTask(ctx, e.TreeID, e.TaskID)
		if err == nil {
			seen = task.Status
		}
	}, telemetry.FilterByType(telemetry.EventTypeTaskStatusChanged))

	tree := createShop(t, o)
	leaf := findByName(t, tree, "List products")
	mustStatus(t, o, tree.ID, leaf.ID, engine.StatusCoding)

	if seen == "" {
		t.Error("subscriber could not read back through the orchestrator")
	}
}

func TestGraph(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	tree := createShop(t, o)

	levels, dot, err := o.Graph(context.Background(), tree.ID)
	if err != nil {
		t.Fatalf("Graph() error = %v", err)
	}
	if len(levels) < 2 {
		t.Errorf("expected dependency levels, got %v", levels)
	}
	if !strings.HasPrefix(dot, "digraph") {
		t.Errorf("expected DOT output, got %q", dot)
	}
}

func TestClose_RejectsCalls(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	tree := createShop(t, o)
	if err := o.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := o.GetTree(context.Background(), tree.ID); err == nil {
		t.Error("expected error after Close")
	}
	if _, err := o.CreateTree(context.Background(), shopBlueprint()); err == nil {
		t.Error("expected error after Close")
	}
}
