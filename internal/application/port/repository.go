package port

import (
	"context"
	"time"

	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
	"github.com/dmarshall/agent-orchestrator/internal/domain/entity"
	"github.com/dmarshall/agent-orchestrator/internal/domain/task"
)

// TaskRepository provides keyed CRUD access to task aggregates. The
// store guarantees atomicity per single read-modify-write; callers
// needing multi-field atomicity wrap calls in a transaction.
type TaskRepository interface {
	// GetByID retrieves a task by its (taskID, orgID) pair
	GetByID(ctx context.Context, taskID, orgID string) (*task.Instance, error)

	// Create inserts a new task
	Create(ctx context.Context, t *task.Instance) error

	// UpdateStatus writes a new status
	UpdateStatus(ctx context.Context, taskID, orgID string, status task.Status) error

	// UpdateStage writes a new stage key
	UpdateStage(ctx context.Context, taskID, orgID string, stageKey string) error

	// AssignPipeline places the task on a pipeline at the given stage
	AssignPipeline(ctx context.Context, taskID, orgID string, pipelineKey, stageKey string) error

	// UpdateAssignee writes a new assignee; empty userID clears it
	UpdateAssignee(ctx context.Context, taskID, orgID string, userID string) error

	// UpdateTags replaces the tag list
	UpdateTags(ctx context.Context, taskID, orgID string, tags []string) error

	// AppendNote appends one entry to the task's internal note log
	AppendNote(ctx context.Context, taskID, orgID string, note task.Note) error

	// SetEscalation records the escalation blob
	SetEscalation(ctx context.Context, taskID, orgID string, esc *task.Escalation) error

	// RecordAgentDecision links a decision id to the task's agent state
	RecordAgentDecision(ctx context.Context, taskID, orgID string, decisionID string) error

	// IncrementRetryAttempts bumps the retry counter and returns the new value
	IncrementRetryAttempts(ctx context.Context, taskID, orgID string) (int, error)

	// CountOpenByAssignee returns per-user open (NEW/IN_PROGRESS) task counts
	CountOpenByAssignee(ctx context.Context, orgID string, userIDs []string) (map[string]int, error)

	// CountByStatus returns a group-by count over task statuses
	CountByStatus(ctx context.Context, orgID string) (map[task.Status]int, error)

	// ListPastSLA returns open tasks whose SLA deadline is before now
	ListPastSLA(ctx context.Context, now time.Time, limit int) ([]*task.Instance, error)

	// ListStale returns open tasks not updated since the given cutoff
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*task.Instance, error)

	// ListOrgIDs returns the distinct org ids with at least one task
	ListOrgIDs(ctx context.Context) ([]string, error)
}

// PipelineRepository provides read access to pipeline definitions
type PipelineRepository interface {
	GetByKey(ctx context.Context, key, orgID string) (*entity.Pipeline, error)
	ListByOrg(ctx context.Context, orgID string) ([]*entity.Pipeline, error)
}

// UserRepository provides read access to staff
type UserRepository interface {
	// ListActiveStaff returns active users, optionally filtered by role.
	// Order is deterministic (insertion order) so tie-breaks are stable.
	ListActiveStaff(ctx context.Context, orgID string, role string) ([]*entity.User, error)
}

// DecisionLogRepository persists the audit trail of agent decisions
type DecisionLogRepository interface {
	Create(ctx context.Context, log *agent.DecisionLog) error
	GetByID(ctx context.Context, id string) (*agent.DecisionLog, error)
	UpdateOutcome(ctx context.Context, id string, status string, outcomeJSON string) error
	ListRecentByCorrelation(ctx context.Context, correlationID string, limit int) ([]*agent.DecisionLog, error)
}

// ReminderRepository provides access to scheduled reminders
type ReminderRepository interface {
	Create(ctx context.Context, r *entity.Reminder) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.Reminder, error)
	UpdateStatus(ctx context.Context, id string, status string) error
}

// TransactionManager executes a function within a database transaction
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
