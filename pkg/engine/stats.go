package engine

import "math"

// ComputeStats walks the tree once and returns aggregate counts. Every node
// lands in exactly one status category, so the categories sum to TotalTasks.
// CompletionPercent is measured over leaves, since internal nodes only
// mirror their children.
func ComputeStats(root *TaskNode) Stats {
	var s Stats
	var doneLeaves int

	Walk(root, func(n *TaskNode) bool {
		s.TotalTasks++
		switch {
		case n.Status == StatusPending:
			s.Pending++
		case n.Status == StatusBlocked:
			s.Blocked++
		case n.Status.IsActive():
			s.InProgress++
		case n.Status.IsFailed():
			s.Failed++
		case n.Status == StatusPassed:
			s.Passed++
		case n.Status == StatusApproved:
			s.Approved++
		case n.Status == StatusCancelled:
			s.Cancelled++
		default:
			// Unknown statuses are counted as pending so the partition holds.
			s.Pending++
		}
		if n.IsLeaf() {
			s.Leaves++
			if n.Status.IsDone() {
				doneLeaves++
			}
		}
		return true
	})

	if s.Leaves > 0 {
		pct := float64(doneLeaves) / float64(s.Leaves) * 100
		s.CompletionPercent = math.Round(pct*100) / 100
	}
	return s
}

// DeriveTreeStatus maps aggregate stats onto an overall tree status.
func DeriveTreeStatus(s Stats) TreeStatus {
	switch {
	case s.TotalTasks == 0:
		return TreeStatusPending
	case s.Leaves > 0 && s.CompletionPercent >= 100:
		return TreeStatusCompleted
	case s.Failed > 0:
		return TreeStatusFailed
	case s.InProgress > 0 || s.Passed > 0 || s.Approved > 0:
		return TreeStatusInProgress
	default:
		return TreeStatusPending
	}
}

// RefreshStats recomputes the tree's stats and overall status and stamps
// UpdatedAt. Every mutation ends with a call to this.
func (t *TaskTree) RefreshStats() {
	t.Stats = ComputeStats(t.Root)
	t.Status = DeriveTreeStatus(t.Stats)
	t.UpdatedAt = now()
}
