package engine

import (
	"reflect"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{StatusPending, StatusTestWriting, true},
		{StatusTestWriting, StatusCoding, true},
		{StatusCoding, StatusTesting, true},
		{StatusTesting, StatusTestFailed, true},
		{StatusTestFailed, StatusCoding, true},
		{StatusTesting, StatusPassed, true},
		{StatusPassed, StatusApproved, true},
		{StatusPassed, StatusPending, true},
		{StatusPassed, StatusTestFailed, false},
		{StatusPassed, StatusRejected, false},
		{StatusApproved, StatusPending, false},
		{StatusCancelled, StatusCoding, false},
		{StatusApproved, StatusApproved, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransition_TerminalStatesAbsorbEverything(t *testing.T) {
	for _, terminal := range []TaskStatus{StatusApproved, StatusCancelled} {
		for _, target := range AllStatuses {
			if target == terminal {
				continue
			}
			n := &TaskNode{ID: "x", Status: terminal, Metadata: map[string]string{}}
			res := Transition(n, target, map[string]string{"k": "v"})
			if res.Applied || res.Changed() {
				t.Errorf("%s -> %s: expected refusal, got %+v", terminal, target, res)
			}
			if n.Status != terminal {
				t.Errorf("%s -> %s: status changed to %s", terminal, target, n.Status)
			}
			if _, ok := n.Metadata["k"]; ok {
				t.Errorf("%s -> %s: refused transition merged metadata", terminal, target)
			}
			if err := res.Err(); !HasCode(err, ErrCodeIllegalTransition) || !IsConflict(err) {
				t.Errorf("%s -> %s: expected ILLEGAL_TRANSITION conflict, got %v", terminal, target, err)
			}
		}
	}
}

func TestTransition_SameStateMergesMetadata(t *testing.T) {
	n := &TaskNode{ID: "x", Status: StatusCoding, Metadata: map[string]string{"a": "1"}}
	res := Transition(n, StatusCoding, map[string]string{"b": "2"})

	if !res.Applied {
		t.Fatalf("Expected same-state update to apply, got %+v", res)
	}
	if res.Changed() {
		t.Error("Expected same-state update to report no change")
	}
	want := map[string]string{"a": "1", "b": "2"}
	if !reflect.DeepEqual(n.Metadata, want) {
		t.Errorf("Expected metadata %v, got %v", want, n.Metadata)
	}
}

func TestTransition_Timestamps(t *testing.T) {
	n := &TaskNode{ID: "x", Status: StatusPending}

	Transition(n, StatusTestWriting, nil)
	if n.StartedAt == nil {
		t.Fatal("Expected StartedAt after entering an active state")
	}
	started := *n.StartedAt

	Transition(n, StatusCoding, nil)
	if !n.StartedAt.Equal(started) {
		t.Error("Expected StartedAt to keep the first start time")
	}
	if n.CompletedAt != nil {
		t.Error("Expected no CompletedAt while active")
	}

	Transition(n, StatusPassed, nil)
	if n.CompletedAt == nil {
		t.Fatal("Expected CompletedAt after passing")
	}

	Transition(n, StatusPending, nil)
	if n.CompletedAt != nil {
		t.Error("Expected CompletedAt cleared on reset to pending")
	}
}

func TestTransition_UnknownStatus(t *testing.T) {
	n := &TaskNode{ID: "x", Status: StatusPending}
	res := Transition(n, TaskStatus("done"), nil)
	if res.Applied {
		t.Fatal("Expected unknown status to be refused")
	}
	if n.Status != StatusPending {
		t.Errorf("Expected status pending, got %s", n.Status)
	}
}

func TestPropagate_AllLeavesPassed(t *testing.T) {
	tree := buildResolved(t, shopBlueprint())

	for _, leaf := range tree.Leaves() {
		if res := Transition(leaf, StatusPassed, nil); !res.Applied {
			t.Fatalf("Failed to pass leaf %s: %s", leaf.Name, res.Reason)
		}
	}

	changes := Propagate(tree)

	Walk(tree.Root, func(n *TaskNode) bool {
		if n.Status != StatusPassed {
			t.Errorf("Expected %s passed after one pass, got %s", n.Name, n.Status)
		}
		return true
	})
	// two module tasks and the root
	if len(changes) != 3 {
		t.Errorf("Expected 3 propagated changes, got %d", len(changes))
	}
	if last := changes[len(changes)-1]; last.TaskID != tree.Root.ID {
		t.Errorf("Expected root to change last, got %s", last.TaskID)
	}
}

func TestPropagate_FailureAndActivity(t *testing.T) {
	bp := &Blueprint{
		Name: "p",
		Modules: []Module{
			{ID: "m", Name: "M", Type: ModuleBackend, Responsibilities: []string{"r1", "r2"}},
		},
	}
	tree := buildResolved(t, bp)
	module := findByName(t, tree, "M")
	r1 := findByName(t, tree, "r1")
	r2 := findByName(t, tree, "r2")

	Transition(r1, StatusCoding, nil)
	Propagate(tree)
	if module.Status != StatusCoding {
		t.Errorf("Expected module coding while a child is active, got %s", module.Status)
	}
	if tree.Root.Status != StatusCoding {
		t.Errorf("Expected root coding, got %s", tree.Root.Status)
	}

	Transition(r2, StatusTestWriting, nil)
	Transition(r2, StatusTestFailed, nil)
	Propagate(tree)
	if module.Status != StatusTestFailed {
		t.Errorf("Expected module test_failed, got %s", module.Status)
	}

	// An approved parent stays approved when all children are done.
	Transition(r1, StatusPassed, nil)
	Transition(r2, StatusPassed, nil)
	module.Status = StatusApproved
	Propagate(tree)
	if module.Status != StatusApproved {
		t.Errorf("Expected approved module to stay approved, got %s", module.Status)
	}
}

func TestPropagate_Idempotent(t *testing.T) {
	tree := buildResolved(t, shopBlueprint())
	Transition(findByName(t, tree, "List products"), StatusPassed, nil)
	Transition(findByName(t, tree, "Render catalog"), StatusCoding, nil)

	Propagate(tree)
	first, err := DefaultCodec.Encode(tree)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if changes := Propagate(tree); len(changes) != 0 {
		t.Errorf("Expected no changes on second pass, got %d", len(changes))
	}
	second, err := DefaultCodec.Encode(tree)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(first) != string(second) {
		t.Error("Expected identical tree after re-running propagation")
	}
}

func TestResetStatus(t *testing.T) {
	n := &TaskNode{ID: "x", Status: StatusTestFailed}
	if res := ResetStatus(n); !res.Changed() || n.Status != StatusPending {
		t.Errorf("Expected reset to pending, got %+v", res)
	}

	done := &TaskNode{ID: "y", Status: StatusApproved}
	if res := ResetStatus(done); res.Applied || done.Status != StatusApproved {
		t.Errorf("Expected approved task to refuse reset, got %+v", res)
	}
}
