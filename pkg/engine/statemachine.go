package engine

import "fmt"

// TransitionResult reports what a status update did. Illegal transitions
// are absorbed rather than returned as errors, since duplicate and racing
// reports are expected; callers that want strictness use Err.
type TransitionResult struct {
	TaskID    string     `json:"task_id"`
	Requested TaskStatus `json:"requested"`
	Previous  TaskStatus `json:"previous"`
	Current   TaskStatus `json:"current"`
	Applied   bool       `json:"applied"`
	Reason    string     `json:"reason,omitempty"`
}

// Changed returns true if the status actually moved. A same-state update is
// applied (its metadata is merged) but does not count as a change.
func (r TransitionResult) Changed() bool {
	return r.Applied && r.Previous != r.Current
}

// Err returns an ILLEGAL_TRANSITION conflict error if the update was refused.
func (r TransitionResult) Err() error {
	if r.Applied {
		return nil
	}
	return NewConflictError(r.Reason, nil).
		WithCode(ErrCodeIllegalTransition).
		WithTask(r.TaskID).
		WithDetail("from", string(r.Previous)).
		WithDetail("to", string(r.Requested))
}

// Transition moves a node to a new status if the move is legal and merges
// metadata into the node. A refused move leaves the node untouched,
// metadata included.
func Transition(n *TaskNode, to TaskStatus, metadata map[string]string) TransitionResult {
	res := TransitionResult{
		TaskID:    n.ID,
		Requested: to,
		Previous:  n.Status,
		Current:   n.Status,
	}

	if err := to.Validate(); err != nil {
		res.Reason = err.Error()
		return res
	}
	if !CanTransition(n.Status, to) {
		if n.Status.IsTerminal() {
			res.Reason = fmt.Sprintf("task is %s, no further transitions accepted", n.Status)
		} else {
			res.Reason = fmt.Sprintf("transition %s -> %s is not allowed", n.Status, to)
		}
		return res
	}

	mergeMetadata(n, metadata)
	if n.Status != to {
		setStatus(n, to)
	}
	res.Current = n.Status
	res.Applied = true
	return res
}

// setStatus changes status and maintains the lifecycle timestamps.
func setStatus(n *TaskNode, to TaskStatus) {
	n.Status = to
	switch {
	case to.IsActive():
		if n.StartedAt == nil {
			n.StartedAt = timePtr(now())
		}
		n.CompletedAt = nil
	case to.IsDone() || to == StatusCancelled:
		if n.CompletedAt == nil {
			n.CompletedAt = timePtr(now())
		}
	default:
		n.CompletedAt = nil
	}
}

func mergeMetadata(n *TaskNode, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	if n.Metadata == nil {
		n.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		n.Metadata[k] = v
	}
}

// Propagate recomputes every internal node's status from its children in a
// single post-order pass:
//
//   - all children passed or approved: passed (an approved parent stays approved)
//   - otherwise any child test_failed or rejected: test_failed
//   - otherwise any child active while the parent is pending: coding
//
// Propagated moves go through the same legality table as direct updates, so
// terminal parents are never touched. Because children settle before their
// parents, a second call with no intervening mutation changes nothing.
// The applied changes are returned in the order they happened.
func Propagate(tree *TaskTree) []TransitionResult {
	var changes []TransitionResult
	WalkPostOrder(tree.Root, func(n *TaskNode) {
		if n.IsLeaf() {
			return
		}
		target, ok := derivedStatus(n)
		if !ok || target == n.Status {
			return
		}
		if res := Transition(n, target, nil); res.Changed() {
			changes = append(changes, res)
		}
	})
	return changes
}

// derivedStatus returns the status an internal node should take from its
// children, or false if the children impose nothing.
func derivedStatus(n *TaskNode) (TaskStatus, bool) {
	allDone := true
	anyFailed := false
	anyActive := false
	for _, c := range n.Children {
		if !c.Status.IsDone() {
			allDone = false
		}
		if c.Status.IsFailed() {
			anyFailed = true
		}
		if c.Status.IsActive() {
			anyActive = true
		}
	}

	switch {
	case allDone:
		if n.Status == StatusApproved {
			return "", false
		}
		return StatusPassed, true
	case anyFailed:
		return StatusTestFailed, true
	case anyActive && n.Status == StatusPending:
		return StatusCoding, true
	default:
		return "", false
	}
}

// ResetStatus forces a node back to pending regardless of the legality
// table. It backs the administrative resets, which are the sanctioned way
// out of a failed or interrupted state.
func ResetStatus(n *TaskNode) TransitionResult {
	res := TransitionResult{
		TaskID:    n.ID,
		Requested: StatusPending,
		Previous:  n.Status,
		Current:   n.Status,
	}
	if n.Status.IsTerminal() {
		res.Reason = fmt.Sprintf("task is %s, no further transitions accepted", n.Status)
		return res
	}
	if n.Status != StatusPending {
		setStatus(n, StatusPending)
	}
	res.Current = n.Status
	res.Applied = true
	return res
}
