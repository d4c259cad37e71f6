package domain

import "fmt"

// IsTerminal reports whether the status is final. A terminal task is never
// re-activated; FAILURE is terminal here because the retry path moves a task
// to RETRY before its failure is ever left standing.
func IsTerminal(s TaskStatus) bool {
	switch s {
	case TaskStatusSuccess, TaskStatusFailure, TaskStatusCancelled,
		TaskStatusTimeout, TaskStatusDependencyFailed:
		return true
	default:
		return false
	}
}

// allowedTransition is the single authoritative transition table.
// Recovery resets (RUNNING/QUEUED back to PENDING after a restart) bypass it
// deliberately: they reconstruct state rather than advance it.
func allowedTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusPending:
		return to == TaskStatusQueued || to == TaskStatusCancelled || to == TaskStatusDependencyFailed
	case TaskStatusQueued:
		return to == TaskStatusRunning || to == TaskStatusCancelled || to == TaskStatusDependencyFailed
	case TaskStatusRunning:
		return to == TaskStatusSuccess || to == TaskStatusFailure ||
			to == TaskStatusTimeout || to == TaskStatusCancelled
	case TaskStatusFailure:
		return to == TaskStatusRetry
	case TaskStatusRetry:
		return to == TaskStatusQueued || to == TaskStatusCancelled || to == TaskStatusDependencyFailed
	default:
		return false
	}
}

// Transition validates and applies a status change on the task.
func (t *Task) Transition(to TaskStatus) error {
	if !allowedTransition(t.Status, to) {
		return fmt.Errorf("task %s: illegal transition %s -> %s", t.ID, t.Status, to)
	}
	t.Status = to
	return nil
}
