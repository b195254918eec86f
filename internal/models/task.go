package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusOpen      TaskStatus = "open"
	TaskStatusCompleted TaskStatus = "completed"
)

// Role identifies which of the two sign-off parties is acting.
type Role string

const (
	RoleAssignee Role = "assignee"
	RoleApprover Role = "approver"
)

func (r Role) Valid() bool {
	return r == RoleAssignee || r == RoleApprover
}

type Task struct {
	ID           uuid.UUID  `json:"id"`
	Description  string     `json:"description"`
	CreatorID    string     `json:"creator_id"`
	AssigneeID   string     `json:"assignee_id"`
	ApproverID   string     `json:"approver_id"`
	AssigneeDone bool       `json:"assignee_done"`
	ApproverDone bool       `json:"approver_done"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	// reference to the chat message rendering this task, set by the
	// delivery layer after it posts
	ChannelID string `json:"channel_id,omitempty"`
	MessageTS string `json:"message_ts,omitempty"`
}

// Completed reports whether both parties have signed off.
func (t *Task) Completed() bool {
	return t.AssigneeDone && t.ApproverDone
}

// Status is always derived from the two booleans, never stored.
func (t *Task) Status() TaskStatus {
	if t.Completed() {
		return TaskStatusCompleted
	}
	return TaskStatusOpen
}

// MarshalJSON adds the derived status so API and event consumers never
// compute it themselves.
func (t Task) MarshalJSON() ([]byte, error) {
	type alias Task
	return json.Marshal(struct {
		alias
		Status TaskStatus `json:"status"`
	}{alias(t), t.Status()})
}
