package task

import "time"

// Status represents the lifecycle state of a task
type Status string

const (
	StatusNew         Status = "NEW"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusNeedsReview Status = "NEEDS_REVIEW"
	StatusBlocked     Status = "BLOCKED"
	StatusDone        Status = "DONE"
	StatusCancelled   Status = "CANCELLED"
)

var validStatuses = map[Status]bool{
	StatusNew:         true,
	StatusInProgress:  true,
	StatusNeedsReview: true,
	StatusBlocked:     true,
	StatusDone:        true,
	StatusCancelled:   true,
}

var openStatuses = map[Status]bool{
	StatusNew:        true,
	StatusInProgress: true,
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is one of the defined constants
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// IsOpen reports whether the status counts toward a staff member's
// open-task load
func (s Status) IsOpen() bool {
	return openStatuses[s]
}

// Assignment strategies for the ASSIGN_STAFF action
const (
	AssignLeastBusyInRole = "LEAST_BUSY_IN_ROLE"
	AssignKeepExisting    = "KEEP_EXISTING"
	AssignUnassign        = "UNASSIGN"
)

// Note is one append-only entry in a task's internal log
type Note struct {
	Note      string    `json:"note"`
	Timestamp time.Time `json:"timestamp"`
	By        string    `json:"by"`
}

// Escalation records why and to whom a task was escalated
type Escalation struct {
	Reason      string    `json:"reason"`
	TargetRole  string    `json:"target_role,omitempty"`
	EscalatedAt time.Time `json:"escalated_at"`
}

// Override is the human-takeover flag. While set, automated handlers
// must not mutate the task.
type Override struct {
	Overridden   bool      `json:"overridden"`
	By           string    `json:"by,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	OverriddenAt time.Time `json:"overridden_at,omitempty"`
}

// AgentState tracks the last automated decision applied to a task
type AgentState struct {
	LastDecisionID string   `json:"last_decision_id,omitempty"`
	DecisionIDs    []string `json:"decision_ids,omitempty"`
}

// Instance is a long-lived task aggregate mutated by the task action
// executor. Every status or stage transition must be accompanied by an
// emitted domain event recording from/to/reason/by.
type Instance struct {
	ID               string `json:"id"`
	OrgID            string `json:"org_id"`
	Title            string `json:"title"`
	Status           Status `json:"status"`
	StageKey         string `json:"stage_key,omitempty"`
	PipelineKey      string `json:"pipeline_key,omitempty"`
	AssignedToUserID string `json:"assigned_to_user_id,omitempty"`

	Tags       []string    `json:"tags,omitempty"`
	Notes      []Note      `json:"notes,omitempty"`
	Escalation *Escalation `json:"escalation,omitempty"`
	Override   Override    `json:"override"`
	AgentState AgentState  `json:"agent_state"`

	SLADeadline   *time.Time `json:"sla_deadline,omitempty"`
	RetryAttempts int        `json:"retry_attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTag reports whether the task carries the given tag
func (t *Instance) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// InPipeline reports whether the task is placed on a pipeline. A task's
// pipeline placement is a separate aggregate from the task itself: stage
// moves on placed tasks are observable on both.
func (t *Instance) InPipeline() bool {
	return t.PipelineKey != ""
}
