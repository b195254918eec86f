package tasks

import (
	"time"

	"github.com/okrylov/countersign/internal/models"
)

// markOutcome is what a single applied completion signal produced.
type markOutcome struct {
	// changed is false when the role's boolean was already true; the
	// caller persists nothing and emits nothing in that case
	changed bool
	// completed is true only on the edge where the second boolean
	// flipped; completed_at is stamped exactly then
	completed bool
}

/*
applyMark is the pure transition rule: given a task and the role being
marked, it mutates the booleans and stamps completed_at on the edge
where both become true. Status is derived from the booleans, so there
is nothing else to update.
*/
func applyMark(task *models.Task, role models.Role, now time.Time) markOutcome {
	var out markOutcome
	switch role {
	case models.RoleAssignee:
		if task.AssigneeDone {
			return out
		}
		task.AssigneeDone = true
	case models.RoleApprover:
		if task.ApproverDone {
			return out
		}
		task.ApproverDone = true
	default:
		return out
	}
	out.changed = true

	if task.Completed() && task.CompletedAt == nil {
		ts := now
		task.CompletedAt = &ts
		out.completed = true
	}
	return out
}

// roleHolder returns the identity allowed to mark the given role done.
func roleHolder(task *models.Task, role models.Role) string {
	if role == models.RoleApprover {
		return task.ApproverID
	}
	return task.AssigneeID
}
