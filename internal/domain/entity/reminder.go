package entity

import "time"

// Reminder status constants
const (
	ReminderStatusPending   = "PENDING"
	ReminderStatusQueued    = "QUEUED"
	ReminderStatusDelivered = "DELIVERED"
	ReminderStatusCancelled = "CANCELLED"
)

// Reminder is a scheduled nudge attached to a task. The reminder scan
// picks up pending reminders past their due time and queues follow-up
// work; delivery itself happens through the executor pipeline.
type Reminder struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	TaskID    string    `json:"task_id"`
	Message   string    `json:"message"`
	DueAt     time.Time `json:"due_at"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
