package taskexec

import (
	"context"
	"fmt"
	"time"

	"github.com/dmarshall/agent-orchestrator/internal/application/dispatcher"
	"github.com/dmarshall/agent-orchestrator/internal/application/port"
	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
	"github.com/dmarshall/agent-orchestrator/internal/domain/event"
	"github.com/dmarshall/agent-orchestrator/internal/domain/task"
	"go.uber.org/zap"
)

// Attribution constants for automated mutations
const (
	ReasonSystemRule = "SYSTEM_RULE"
	BySystem         = "SYSTEM"
)

// TaskContext binds one executor call to a single task aggregate. The
// (TaskID, OrgID) pair is the natural serialization boundary for task
// mutations.
type TaskContext struct {
	TaskID     string
	OrgID      string
	DecisionID string
	DryRun     bool
}

// Result is the outcome of one task action. Errors are values carried in
// Error, never panics: a pipeline processing many actions must not crash
// on one bad entry.
type Result struct {
	ActionType agent.ActionType       `json:"action_type"`
	Success    bool                   `json:"success"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Executor applies task-scoped actions to one task aggregate per call.
// Each action reads current state, computes the delta, writes it, then
// emits exactly one domain event; all are no-ops under dry run.
type Executor struct {
	tasks    port.TaskRepository
	users    port.UserRepository
	notifier port.Notifier
	tx       port.TransactionManager
	bus      dispatcher.Dispatcher
	logger   *zap.Logger
}

// New creates a task action executor
func New(
	tasks port.TaskRepository,
	users port.UserRepository,
	notifier port.Notifier,
	tx port.TransactionManager,
	bus dispatcher.Dispatcher,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		tasks:    tasks,
		users:    users,
		notifier: notifier,
		tx:       tx,
		bus:      bus,
		logger:   logger,
	}
}

// ExecuteActions runs actions strictly sequentially and stops at the
// first failure. Task mutations are individually committed, not
// transactional as a batch; there is no rollback.
func (e *Executor) ExecuteActions(ctx context.Context, actions []*agent.Action, tc TaskContext) []*Result {
	results := make([]*Result, 0, len(actions))
	for _, action := range actions {
		result := e.ExecuteAction(ctx, action, tc)
		results = append(results, result)
		if !result.Success {
			e.logger.Warn("Task action failed, stopping batch",
				zap.String("task_id", tc.TaskID),
				zap.String("action_type", string(action.Type)),
				zap.String("error", result.Error))
			break
		}
	}
	return results
}

// ExecuteAction applies one task-scoped action
func (e *Executor) ExecuteAction(ctx context.Context, action *agent.Action, tc TaskContext) *Result {
	t, err := e.tasks.GetByID(ctx, tc.TaskID, tc.OrgID)
	if err != nil {
		return failure(action.Type, fmt.Sprintf("task lookup failed: %v", err))
	}

	// A human-overridden task is never mutated by automated handlers;
	// the action degrades to NO_OP.
	if t.Override.Overridden && action.Type != agent.ActionNoOp {
		e.logger.Info("Task overridden by human, skipping automated action",
			zap.String("task_id", tc.TaskID),
			zap.String("action_type", string(action.Type)),
			zap.String("overridden_by", t.Override.By))
		return &Result{
			ActionType: agent.ActionNoOp,
			Success:    true,
			Data: map[string]interface{}{
				"noop":      true,
				"requested": string(action.Type),
				"reason":    "override",
			},
		}
	}

	// Dry run still classifies and validates; only mutations and event
	// emission are suppressed. A bogus action must fail the same way it
	// would in a real run.
	if tc.DryRun {
		if msg := validateAction(action); msg != "" {
			return failure(action.Type, msg)
		}
		return &Result{
			ActionType: action.Type,
			Success:    true,
			Data:       map[string]interface{}{"dryRun": true},
		}
	}

	var result *Result
	switch action.Type {
	case agent.ActionSetStatus:
		result = e.setStatus(ctx, action, t, tc)
	case agent.ActionSetStage:
		result = e.setStage(ctx, action, t, tc)
	case agent.ActionAssignStaff:
		result = e.assignStaff(ctx, action, t, tc)
	case agent.ActionTagTask:
		result = e.tagTask(ctx, action, t, tc)
	case agent.ActionPingCustomer:
		result = e.pingCustomer(ctx, action, t, tc)
	case agent.ActionAddInternalNote:
		result = e.addInternalNote(ctx, action, t, tc)
	case agent.ActionEscalate:
		result = e.escalate(ctx, action, t, tc)
	case agent.ActionNoOp:
		e.logger.Info("NO_OP action", zap.String("task_id", tc.TaskID))
		result = &Result{ActionType: agent.ActionNoOp, Success: true}
	default:
		result = failure(action.Type, fmt.Sprintf("unknown task action type: %s", action.Type))
	}

	if result.Success && tc.DecisionID != "" && action.Type != agent.ActionNoOp {
		if err := e.tasks.RecordAgentDecision(ctx, tc.TaskID, tc.OrgID, tc.DecisionID); err != nil {
			e.logger.Warn("Failed to record agent decision on task",
				zap.String("task_id", tc.TaskID),
				zap.Error(err))
		}
	}
	return result
}

// validateAction runs the static checks a real execution would apply
// before touching storage: known type plus per-type param shape. Returns
// the same failure message the live branch produces, or "" when valid.
func validateAction(action *agent.Action) string {
	switch action.Type {
	case agent.ActionSetStatus:
		if to := task.Status(action.ParamString("to_status")); !to.IsValid() {
			return fmt.Sprintf("invalid target status: %q", action.ParamString("to_status"))
		}
	case agent.ActionSetStage:
		if action.ParamString("to_stage") == "" {
			return "set_stage requires to_stage param"
		}
	case agent.ActionAssignStaff:
		strategy := action.ParamString("strategy")
		switch strategy {
		case "", task.AssignLeastBusyInRole, task.AssignKeepExisting, task.AssignUnassign:
		default:
			return fmt.Sprintf("unknown assignment strategy: %s", strategy)
		}
	case agent.ActionAddInternalNote:
		if action.ParamString("note") == "" {
			return "add_internal_note requires note param"
		}
	case agent.ActionTagTask, agent.ActionPingCustomer, agent.ActionEscalate, agent.ActionNoOp:
	default:
		return fmt.Sprintf("unknown task action type: %s", action.Type)
	}
	return ""
}

// setStatus writes a new task status and emits status_changed.
// Re-applying the current status is a silent success with no event, so
// duplicate delivery from an at-least-once queue never produces a
// from==to transition for downstream consumers.
func (e *Executor) setStatus(ctx context.Context, action *agent.Action, t *task.Instance, tc TaskContext) *Result {
	to := task.Status(action.ParamString("to_status"))
	if !to.IsValid() {
		return failure(action.Type, fmt.Sprintf("invalid target status: %q", action.ParamString("to_status")))
	}

	if t.Status == to {
		return &Result{
			ActionType: action.Type,
			Success:    true,
			Data:       map[string]interface{}{"unchanged": true, "status": string(to)},
		}
	}

	if err := e.tasks.UpdateStatus(ctx, tc.TaskID, tc.OrgID, to); err != nil {
		return failure(action.Type, fmt.Sprintf("status update failed: %v", err))
	}

	e.emitTask(ctx, event.TypeTaskStatusChanged, tc, map[string]interface{}{
		"from_status": string(t.Status),
		"to_status":   string(to),
		"reason":      ReasonSystemRule,
		"by":          BySystem,
	})

	return &Result{
		ActionType: action.Type,
		Success:    true,
		Data:       map[string]interface{}{"from_status": string(t.Status), "to_status": string(to)},
	}
}

// setStage writes a new stage and emits stage_changed; when the task is
// placed on a pipeline it additionally emits pipeline.item_moved, since
// the task and its pipeline placement are separate aggregates that must
// stay observable independently.
func (e *Executor) setStage(ctx context.Context, action *agent.Action, t *task.Instance, tc TaskContext) *Result {
	to := action.ParamString("to_stage")
	if to == "" {
		return failure(action.Type, "set_stage requires to_stage param")
	}

	if t.StageKey == to {
		return &Result{
			ActionType: action.Type,
			Success:    true,
			Data:       map[string]interface{}{"unchanged": true, "stage_key": to},
		}
	}

	if err := e.tasks.UpdateStage(ctx, tc.TaskID, tc.OrgID, to); err != nil {
		return failure(action.Type, fmt.Sprintf("stage update failed: %v", err))
	}

	e.emitTask(ctx, event.TypeTaskStageChanged, tc, map[string]interface{}{
		"from_stage": t.StageKey,
		"to_stage":   to,
		"reason":     ReasonSystemRule,
		"by":         BySystem,
	})

	if t.InPipeline() {
		e.emitTask(ctx, event.TypePipelineItemMoved, tc, map[string]interface{}{
			"pipeline_key": t.PipelineKey,
			"from_stage":   t.StageKey,
			"to_stage":     to,
		})
	}

	return &Result{
		ActionType: action.Type,
		Success:    true,
		Data:       map[string]interface{}{"from_stage": t.StageKey, "to_stage": to},
	}
}

// assignStaff resolves the assignment strategy and writes the assignee.
// LEAST_BUSY_IN_ROLE picks the active staff member with the fewest open
// tasks, ties broken by first-seen order.
func (e *Executor) assignStaff(ctx context.Context, action *agent.Action, t *task.Instance, tc TaskContext) *Result {
	strategy := action.ParamString("strategy")
	if strategy == "" {
		strategy = task.AssignLeastBusyInRole
	}

	var assignee string
	switch strategy {
	case task.AssignLeastBusyInRole:
		staff, err := e.users.ListActiveStaff(ctx, tc.OrgID, action.ParamString("role"))
		if err != nil {
			return failure(action.Type, fmt.Sprintf("staff lookup failed: %v", err))
		}
		if len(staff) == 0 {
			return failure(action.Type, "no active staff available for assignment")
		}

		ids := make([]string, len(staff))
		for i, u := range staff {
			ids[i] = u.ID
		}
		counts, err := e.tasks.CountOpenByAssignee(ctx, tc.OrgID, ids)
		if err != nil {
			return failure(action.Type, fmt.Sprintf("open task count failed: %v", err))
		}

		assignee = staff[0].ID
		best := counts[assignee]
		for _, u := range staff[1:] {
			if counts[u.ID] < best {
				assignee = u.ID
				best = counts[u.ID]
			}
		}

	case task.AssignKeepExisting:
		assignee = t.AssignedToUserID

	case task.AssignUnassign:
		assignee = ""

	default:
		return failure(action.Type, fmt.Sprintf("unknown assignment strategy: %s", strategy))
	}

	if err := e.tasks.UpdateAssignee(ctx, tc.TaskID, tc.OrgID, assignee); err != nil {
		return failure(action.Type, fmt.Sprintf("assignee update failed: %v", err))
	}

	e.emitTask(ctx, event.TypeTaskAssigneeChanged, tc, map[string]interface{}{
		"from_user_id": t.AssignedToUserID,
		"to_user_id":   assignee,
		"mode":         "AUTO",
		"strategy":     strategy,
	})

	return &Result{
		ActionType: action.Type,
		Success:    true,
		Data:       map[string]interface{}{"assigned_to": assignee, "strategy": strategy},
	}
}

// tagTask set-unions the add list into existing tags, then set-subtracts
// the remove list. Order of remaining tags preserves original order.
func (e *Executor) tagTask(ctx context.Context, action *agent.Action, t *task.Instance, tc TaskContext) *Result {
	add := action.ParamStrings("add")
	remove := action.ParamStrings("remove")

	tags := MergeTags(t.Tags, add, remove)
	if equalTags(tags, t.Tags) {
		return &Result{
			ActionType: action.Type,
			Success:    true,
			Data:       map[string]interface{}{"unchanged": true, "tags": tags},
		}
	}

	if err := e.tasks.UpdateTags(ctx, tc.TaskID, tc.OrgID, tags); err != nil {
		return failure(action.Type, fmt.Sprintf("tag update failed: %v", err))
	}

	e.emitTask(ctx, event.TypeTaskTagged, tc, map[string]interface{}{
		"added":   add,
		"removed": remove,
		"tags":    tags,
	})

	return &Result{
		ActionType: action.Type,
		Success:    true,
		Data:       map[string]interface{}{"tags": tags},
	}
}

// pingCustomer delegates to the external notification capability. It
// mutates no task state and never fails the executor itself: a delivery
// problem is reported in the queued flag, not as an action failure.
func (e *Executor) pingCustomer(ctx context.Context, action *agent.Action, t *task.Instance, tc TaskContext) *Result {
	req := &port.NotificationRequest{
		Channel:   "customer",
		Recipient: action.ParamString("recipient"),
		Subject:   action.ParamString("subject"),
		Body:      action.ParamString("message"),
		TaskID:    tc.TaskID,
	}

	if err := e.notifier.Send(ctx, req); err != nil {
		e.logger.Warn("Customer ping delivery failed",
			zap.String("task_id", tc.TaskID),
			zap.Error(err))
		return &Result{
			ActionType: action.Type,
			Success:    true,
			Data:       map[string]interface{}{"queued": false, "delivery_error": err.Error()},
		}
	}

	return &Result{
		ActionType: action.Type,
		Success:    true,
		Data:       map[string]interface{}{"queued": true},
	}
}

// addInternalNote appends one entry to the task's internal log; prior
// notes are never deleted
func (e *Executor) addInternalNote(ctx context.Context, action *agent.Action, t *task.Instance, tc TaskContext) *Result {
	text := action.ParamString("note")
	if text == "" {
		return failure(action.Type, "add_internal_note requires note param")
	}

	note := task.Note{Note: text, Timestamp: time.Now(), By: BySystem}
	if err := e.tasks.AppendNote(ctx, tc.TaskID, tc.OrgID, note); err != nil {
		return failure(action.Type, fmt.Sprintf("note append failed: %v", err))
	}

	e.emitTask(ctx, event.TypeTaskNoteAdded, tc, map[string]interface{}{
		"note": text,
		"by":   BySystem,
	})

	return &Result{ActionType: action.Type, Success: true}
}

// escalate is a composite mutation: force NEEDS_REVIEW, tag "escalated"
// if absent, record the escalation blob. The three writes commit
// together.
func (e *Executor) escalate(ctx context.Context, action *agent.Action, t *task.Instance, tc TaskContext) *Result {
	reason := action.ParamString("reason")
	targetRole := action.ParamString("target_role")
	esc := &task.Escalation{Reason: reason, TargetRole: targetRole, EscalatedAt: time.Now()}

	tags := t.Tags
	if !t.HasTag("escalated") {
		tags = append(append([]string{}, t.Tags...), "escalated")
	}

	err := e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if t.Status != task.StatusNeedsReview {
			if err := e.tasks.UpdateStatus(ctx, tc.TaskID, tc.OrgID, task.StatusNeedsReview); err != nil {
				return err
			}
		}
		if err := e.tasks.UpdateTags(ctx, tc.TaskID, tc.OrgID, tags); err != nil {
			return err
		}
		return e.tasks.SetEscalation(ctx, tc.TaskID, tc.OrgID, esc)
	})
	if err != nil {
		return failure(action.Type, fmt.Sprintf("escalation failed: %v", err))
	}

	if t.Status != task.StatusNeedsReview {
		e.emitTask(ctx, event.TypeTaskStatusChanged, tc, map[string]interface{}{
			"from_status": string(t.Status),
			"to_status":   string(task.StatusNeedsReview),
			"reason":      ReasonSystemRule,
			"by":          BySystem,
		})
	}
	e.emitTask(ctx, event.TypeTaskEscalated, tc, map[string]interface{}{
		"reason":      reason,
		"target_role": targetRole,
	})

	return &Result{
		ActionType: action.Type,
		Success:    true,
		Data:       map[string]interface{}{"reason": reason, "target_role": targetRole},
	}
}

func (e *Executor) emitTask(ctx context.Context, eventType event.Type, tc TaskContext, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	evt := event.NewForTask(eventType, tc.TaskID, tc.OrgID, payload)
	if tc.DecisionID != "" {
		evt.CorrelationID = tc.DecisionID
	}
	e.bus.Emit(ctx, evt)
}

func failure(t agent.ActionType, msg string) *Result {
	return &Result{ActionType: t, Success: false, Error: msg}
}

// MergeTags applies add (set union, deduplicated) then remove (set
// difference) to the existing tag list, preserving original order
func MergeTags(existing, add, remove []string) []string {
	merged := make([]string, 0, len(existing)+len(add))
	seen := make(map[string]bool, len(existing)+len(add))
	for _, tag := range existing {
		if !seen[tag] {
			merged = append(merged, tag)
			seen[tag] = true
		}
	}
	for _, tag := range add {
		if !seen[tag] {
			merged = append(merged, tag)
			seen[tag] = true
		}
	}

	if len(remove) == 0 {
		return merged
	}
	removeSet := make(map[string]bool, len(remove))
	for _, tag := range remove {
		removeSet[tag] = true
	}
	final := merged[:0]
	for _, tag := range merged {
		if !removeSet[tag] {
			final = append(final, tag)
		}
	}
	return final
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
