package models

type EventKind string

const (
	EventTaskCreated    EventKind = "task_created"
	EventAssigneeMarked EventKind = "assignee_marked"
	EventApproverMarked EventKind = "approver_marked"
	EventTaskCompleted  EventKind = "task_completed"
)

// Event is what the core hands to the delivery layer for every state
// change. It carries the full post-change snapshot and the identity
// that triggered it.
type Event struct {
	Kind    EventKind `json:"kind"`
	ActorID string    `json:"actor_id"`
	Task    Task      `json:"task"`
}

// MarkedEventFor maps a role to its individual sign-off event kind.
func MarkedEventFor(role Role) EventKind {
	if role == RoleApprover {
		return EventApproverMarked
	}
	return EventAssigneeMarked
}
