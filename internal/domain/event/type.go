package event

// Type identifies the type of domain event
type Type string

const (
	// TypeAny subscribes a handler to every event type
	TypeAny Type = "*"

	TypeTaskStatusChanged   Type = "task.status_changed"
	TypeTaskStageChanged    Type = "task.stage_changed"
	TypeTaskAssigneeChanged Type = "task.assignee_changed"
	TypeTaskTagged          Type = "task.tagged"
	TypeTaskNoteAdded       Type = "task.note_added"
	TypeTaskEscalated       Type = "task.escalated"
	TypePipelineItemMoved   Type = "pipeline.item_moved"
	TypePipelineAssigned    Type = "pipeline.assigned"

	TypeCalendarEventCreated   Type = "calendar.event_created"
	TypeCalendarEventUpdated   Type = "calendar.event_updated"
	TypeCalendarEventCancelled Type = "calendar.event_cancelled"

	TypeNotificationSent    Type = "notification.sent"
	TypeAutomationTriggered Type = "automation.triggered"

	TypeDecisionCompleted   Type = "agent.decision_completed"
	TypeExecutionCompleted  Type = "agent.execution_completed"
	TypeAgentEscalated      Type = "agent.escalated"
	TypeSweepCompleted      Type = "scheduler.sweep_completed"
	TypeSLABreachDetected   Type = "scheduler.sla_breach_detected"
	TypeReminderDue         Type = "scheduler.reminder_due"
	TypeStatsAggregated     Type = "scheduler.stats_aggregated"
	TypeTaskMarkedStale     Type = "scheduler.task_marked_stale"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeTaskStatusChanged,
		TypeTaskStageChanged,
		TypeTaskAssigneeChanged,
		TypeTaskTagged,
		TypeTaskNoteAdded,
		TypeTaskEscalated,
		TypePipelineItemMoved,
		TypePipelineAssigned,
		TypeCalendarEventCreated,
		TypeCalendarEventUpdated,
		TypeCalendarEventCancelled,
		TypeNotificationSent,
		TypeAutomationTriggered,
		TypeDecisionCompleted,
		TypeExecutionCompleted,
		TypeAgentEscalated,
		TypeSweepCompleted,
		TypeSLABreachDetected,
		TypeReminderDue,
		TypeStatsAggregated,
		TypeTaskMarkedStale:
		return true
	default:
		return false
	}
}
