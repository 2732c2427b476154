package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmarshall/agent-orchestrator/internal/application/port"
	"github.com/dmarshall/agent-orchestrator/internal/domain/task"
	"github.com/dmarshall/agent-orchestrator/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const taskColumns = `id, org_id, title, status, stage_key, pipeline_key, assigned_to_user_id,
	tags, notes, escalation, override, agent_state,
	sla_deadline, retry_attempts, created_at, updated_at`

// TaskRepository implements port.TaskRepository on SQLite. Task list
// fields (tags, notes) and nested aggregates are stored as JSON blobs.
type TaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sql.DB, logger *zap.Logger) port.TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a task by its (taskID, orgID) pair
func (r *TaskRepository) GetByID(ctx context.Context, taskID, orgID string) (*task.Instance, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ? AND org_id = ?`

	t, err := r.scanTask(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, taskID, orgID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	if err != nil {
		r.logger.Error("Failed to get task",
			zap.String("task_id", taskID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return t, nil
}

// Create inserts a new task
func (r *TaskRepository) Create(ctx context.Context, t *task.Instance) error {
	query := `
		INSERT INTO tasks (
			id, org_id, title, status, stage_key, pipeline_key, assigned_to_user_id,
			tags, notes, escalation, override, agent_state,
			sla_deadline, retry_attempts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	tags, _ := json.Marshal(t.Tags)
	notes, _ := json.Marshal(t.Notes)
	override, _ := json.Marshal(t.Override)
	agentState, _ := json.Marshal(t.AgentState)

	var escalation sql.NullString
	if t.Escalation != nil {
		b, _ := json.Marshal(t.Escalation)
		escalation = sql.NullString{String: string(b), Valid: true}
	}

	var slaDeadline sql.NullTime
	if t.SLADeadline != nil {
		slaDeadline = sql.NullTime{Time: *t.SLADeadline, Valid: true}
	}

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		t.ID,
		t.OrgID,
		t.Title,
		string(t.Status),
		t.StageKey,
		t.PipelineKey,
		t.AssignedToUserID,
		string(tags),
		string(notes),
		escalation,
		string(override),
		string(agentState),
		slaDeadline,
		t.RetryAttempts,
	)
	if err != nil {
		r.logger.Error("Failed to create task",
			zap.String("task_id", t.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// UpdateStatus writes a new status
func (r *TaskRepository) UpdateStatus(ctx context.Context, taskID, orgID string, status task.Status) error {
	query := `UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND org_id = ?`

	if err := r.exec(ctx, query, string(status), taskID, orgID); err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

// UpdateStage writes a new stage key
func (r *TaskRepository) UpdateStage(ctx context.Context, taskID, orgID string, stageKey string) error {
	query := `UPDATE tasks SET stage_key = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND org_id = ?`

	if err := r.exec(ctx, query, stageKey, taskID, orgID); err != nil {
		return fmt.Errorf("failed to update task stage: %w", err)
	}
	return nil
}

// AssignPipeline places the task on a pipeline at the given stage
func (r *TaskRepository) AssignPipeline(ctx context.Context, taskID, orgID string, pipelineKey, stageKey string) error {
	query := `UPDATE tasks SET pipeline_key = ?, stage_key = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND org_id = ?`

	if err := r.exec(ctx, query, pipelineKey, stageKey, taskID, orgID); err != nil {
		return fmt.Errorf("failed to assign pipeline: %w", err)
	}
	return nil
}

// UpdateAssignee writes a new assignee; empty userID clears it
func (r *TaskRepository) UpdateAssignee(ctx context.Context, taskID, orgID string, userID string) error {
	query := `UPDATE tasks SET assigned_to_user_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND org_id = ?`

	if err := r.exec(ctx, query, userID, taskID, orgID); err != nil {
		return fmt.Errorf("failed to update assignee: %w", err)
	}
	return nil
}

// UpdateTags replaces the tag list
func (r *TaskRepository) UpdateTags(ctx context.Context, taskID, orgID string, tags []string) error {
	query := `UPDATE tasks SET tags = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND org_id = ?`

	b, _ := json.Marshal(tags)
	if err := r.exec(ctx, query, string(b), taskID, orgID); err != nil {
		return fmt.Errorf("failed to update tags: %w", err)
	}
	return nil
}

// AppendNote appends one entry to the task's internal note log. The
// read-modify-write runs against the current executor, so callers
// wanting atomicity wrap it in a transaction.
func (r *TaskRepository) AppendNote(ctx context.Context, taskID, orgID string, note task.Note) error {
	t, err := r.GetByID(ctx, taskID, orgID)
	if err != nil {
		return err
	}

	notes := append(t.Notes, note)
	b, _ := json.Marshal(notes)

	query := `UPDATE tasks SET notes = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND org_id = ?`
	if err := r.exec(ctx, query, string(b), taskID, orgID); err != nil {
		return fmt.Errorf("failed to append note: %w", err)
	}
	return nil
}

// SetEscalation records the escalation blob
func (r *TaskRepository) SetEscalation(ctx context.Context, taskID, orgID string, esc *task.Escalation) error {
	var escalation sql.NullString
	if esc != nil {
		b, _ := json.Marshal(esc)
		escalation = sql.NullString{String: string(b), Valid: true}
	}

	query := `UPDATE tasks SET escalation = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND org_id = ?`
	if err := r.exec(ctx, query, escalation, taskID, orgID); err != nil {
		return fmt.Errorf("failed to set escalation: %w", err)
	}
	return nil
}

// RecordAgentDecision links a decision id to the task's agent state
func (r *TaskRepository) RecordAgentDecision(ctx context.Context, taskID, orgID string, decisionID string) error {
	t, err := r.GetByID(ctx, taskID, orgID)
	if err != nil {
		return err
	}

	state := t.AgentState
	state.LastDecisionID = decisionID
	state.DecisionIDs = append(state.DecisionIDs, decisionID)
	b, _ := json.Marshal(state)

	query := `UPDATE tasks SET agent_state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND org_id = ?`
	if err := r.exec(ctx, query, string(b), taskID, orgID); err != nil {
		return fmt.Errorf("failed to record agent decision: %w", err)
	}
	return nil
}

// IncrementRetryAttempts bumps the retry counter and returns the new value
func (r *TaskRepository) IncrementRetryAttempts(ctx context.Context, taskID, orgID string) (int, error) {
	query := `
		UPDATE tasks SET retry_attempts = retry_attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND org_id = ?
		RETURNING retry_attempts
	`

	var attempts int
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, taskID, orgID).Scan(&attempts)
	if err != nil {
		r.logger.Error("Failed to increment retry attempts",
			zap.String("task_id", taskID),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment retry attempts: %w", err)
	}
	return attempts, nil
}

// CountOpenByAssignee returns per-user open task counts
func (r *TaskRepository) CountOpenByAssignee(ctx context.Context, orgID string, userIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(userIDs))
	if len(userIDs) == 0 {
		return counts, nil
	}

	placeholders := strings.Repeat("?,", len(userIDs))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(`
		SELECT assigned_to_user_id, COUNT(*)
		FROM tasks
		WHERE org_id = ? AND status IN ('NEW', 'IN_PROGRESS') AND assigned_to_user_id IN (%s)
		GROUP BY assigned_to_user_id
	`, placeholders)

	args := make([]interface{}, 0, len(userIDs)+1)
	args = append(args, orgID)
	for _, id := range userIDs {
		args = append(args, id)
	}

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to count open tasks by assignee", zap.Error(err))
		return nil, fmt.Errorf("failed to count open tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		var count int
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan open task count: %w", err)
		}
		counts[userID] = count
	}
	return counts, rows.Err()
}

// CountByStatus returns a group-by count over task statuses
func (r *TaskRepository) CountByStatus(ctx context.Context, orgID string) (map[task.Status]int, error) {
	query := `SELECT status, COUNT(*) FROM tasks WHERE org_id = ? GROUP BY status`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, orgID)
	if err != nil {
		r.logger.Error("Failed to count tasks by status",
			zap.String("org_id", orgID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[task.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[task.Status(status)] = count
	}
	return counts, rows.Err()
}

// ListPastSLA returns open tasks whose SLA deadline is before now
func (r *TaskRepository) ListPastSLA(ctx context.Context, now time.Time, limit int) ([]*task.Instance, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status IN ('NEW', 'IN_PROGRESS') AND sla_deadline IS NOT NULL AND sla_deadline < ?
		ORDER BY sla_deadline
		LIMIT ?
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, now, limit)
	if err != nil {
		r.logger.Error("Failed to list tasks past SLA", zap.Error(err))
		return nil, fmt.Errorf("failed to list tasks past SLA: %w", err)
	}
	defer rows.Close()

	return r.scanTasks(rows)
}

// ListStale returns open tasks not updated since the given cutoff
func (r *TaskRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*task.Instance, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status IN ('NEW', 'IN_PROGRESS') AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		r.logger.Error("Failed to list stale tasks", zap.Error(err))
		return nil, fmt.Errorf("failed to list stale tasks: %w", err)
	}
	defer rows.Close()

	return r.scanTasks(rows)
}

// ListOrgIDs returns the distinct org ids with at least one task
func (r *TaskRepository) ListOrgIDs(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT org_id FROM tasks ORDER BY org_id`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list org ids", zap.Error(err))
		return nil, fmt.Errorf("failed to list org ids: %w", err)
	}
	defer rows.Close()

	var orgIDs []string
	for rows.Next() {
		var orgID string
		if err := rows.Scan(&orgID); err != nil {
			return nil, fmt.Errorf("failed to scan org id: %w", err)
		}
		orgIDs = append(orgIDs, orgID)
	}
	return orgIDs, rows.Err()
}

// exec runs a write statement and logs failures
func (r *TaskRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Task write failed", zap.Error(err))
	}
	return err
}

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanTask scans a single task row
func (r *TaskRepository) scanTask(row rowScanner) (*task.Instance, error) {
	var t task.Instance
	var status string
	var stageKey, pipelineKey, assignee sql.NullString
	var tags, notes, override, agentState string
	var escalation sql.NullString
	var slaDeadline sql.NullTime

	err := row.Scan(
		&t.ID,
		&t.OrgID,
		&t.Title,
		&status,
		&stageKey,
		&pipelineKey,
		&assignee,
		&tags,
		&notes,
		&escalation,
		&override,
		&agentState,
		&slaDeadline,
		&t.RetryAttempts,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = task.Status(status)
	t.StageKey = stageKey.String
	t.PipelineKey = pipelineKey.String
	t.AssignedToUserID = assignee.String

	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(notes), &t.Notes); err != nil {
		return nil, fmt.Errorf("failed to decode notes: %w", err)
	}
	if err := json.Unmarshal([]byte(override), &t.Override); err != nil {
		return nil, fmt.Errorf("failed to decode override: %w", err)
	}
	if err := json.Unmarshal([]byte(agentState), &t.AgentState); err != nil {
		return nil, fmt.Errorf("failed to decode agent state: %w", err)
	}
	if escalation.Valid {
		var esc task.Escalation
		if err := json.Unmarshal([]byte(escalation.String), &esc); err != nil {
			return nil, fmt.Errorf("failed to decode escalation: %w", err)
		}
		t.Escalation = &esc
	}
	if slaDeadline.Valid {
		deadline := slaDeadline.Time
		t.SLADeadline = &deadline
	}

	return &t, nil
}

// scanTasks scans multiple task rows
func (r *TaskRepository) scanTasks(rows *sql.Rows) ([]*task.Instance, error) {
	var tasks []*task.Instance
	for rows.Next() {
		t, err := r.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Verify interface compliance
var _ port.TaskRepository = (*TaskRepository)(nil)
