package executor

import (
	"context"
	"fmt"

	"github.com/dmarshall/agent-orchestrator/internal/application/dispatcher"
	"github.com/dmarshall/agent-orchestrator/internal/application/port"
	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
	"github.com/dmarshall/agent-orchestrator/internal/domain/event"
	"go.uber.org/zap"
)

// ServiceDeps are the downstream capabilities the production handler set
// executes against
type ServiceDeps struct {
	Tasks      port.TaskRepository
	Pipelines  port.PipelineRepository
	Calendar   port.CalendarService
	Notifier   port.Notifier
	Automation port.AutomationService
	Bus        dispatcher.Dispatcher
	Logger     *zap.Logger
}

// NewServiceHandlers builds the production dispatch table for the
// generic action vocabulary, backed by real downstream services. Each
// handler short-circuits under dry run, emits one domain event on
// success, and reports rollback capability only where the side effect is
// genuinely compensatable (a sent notification is not).
func NewServiceHandlers(deps ServiceDeps) map[agent.ActionType]ActionHandler {
	h := &serviceHandlers{deps: deps}
	return map[agent.ActionType]ActionHandler{
		agent.ActionAssignPipeline:    HandlerFunc(h.assignPipeline),
		agent.ActionCreateEvent:       HandlerFunc(h.createEvent),
		agent.ActionUpdateEvent:       HandlerFunc(h.updateEvent),
		agent.ActionCancelEvent:       HandlerFunc(h.cancelEvent),
		agent.ActionSendNotification:  HandlerFunc(h.sendNotification),
		agent.ActionTriggerAutomation: HandlerFunc(h.triggerAutomation),
		agent.ActionEscalate:          HandlerFunc(h.escalate),
		agent.ActionNoAction:          HandlerFunc(h.noAction),
	}
}

type serviceHandlers struct {
	deps ServiceDeps
}

func (h *serviceHandlers) emit(ctx context.Context, evt *event.Event) {
	if h.deps.Bus != nil {
		h.deps.Bus.Emit(ctx, evt)
	}
}

func (h *serviceHandlers) assignPipeline(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
	if opts.DryRun {
		return DryRunResult(action), nil
	}

	taskID := action.ParamString("task_id")
	orgID := action.ParamString("org_id")
	pipelineKey := action.ParamString("pipeline_key")
	if taskID == "" || pipelineKey == "" {
		return nil, fmt.Errorf("assign_pipeline requires task_id and pipeline_key params")
	}

	pipeline, err := h.deps.Pipelines.GetByKey(ctx, pipelineKey, orgID)
	if err != nil {
		return nil, fmt.Errorf("pipeline lookup failed: %w", err)
	}

	stageKey := action.ParamString("stage_key")
	if stageKey == "" && len(pipeline.Stages) > 0 {
		stageKey = pipeline.Stages[0].Key
	}
	if stageKey != "" && !pipeline.HasStage(stageKey) {
		return nil, fmt.Errorf("pipeline %s has no stage %s", pipelineKey, stageKey)
	}

	prev, err := h.deps.Tasks.GetByID(ctx, taskID, orgID)
	if err != nil {
		return nil, fmt.Errorf("task lookup failed: %w", err)
	}

	if err := h.deps.Tasks.AssignPipeline(ctx, taskID, orgID, pipelineKey, stageKey); err != nil {
		return nil, fmt.Errorf("pipeline assignment failed: %w", err)
	}

	h.emit(ctx, event.NewForTask(event.TypePipelineAssigned, taskID, orgID, map[string]interface{}{
		"pipeline_key": pipelineKey,
		"stage_key":    stageKey,
	}))

	prevPipeline, prevStage := prev.PipelineKey, prev.StageKey
	return &HandlerResult{
		Success:      true,
		Data:         map[string]interface{}{"pipeline_key": pipelineKey, "stage_key": stageKey},
		Rollbackable: true,
		Rollback: func(ctx context.Context) error {
			return h.deps.Tasks.AssignPipeline(ctx, taskID, orgID, prevPipeline, prevStage)
		},
	}, nil
}

func (h *serviceHandlers) createEvent(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
	if opts.DryRun {
		return DryRunResult(action), nil
	}

	ref, err := h.deps.Calendar.CreateEvent(ctx, action.Params)
	if err != nil {
		return nil, fmt.Errorf("calendar event creation failed: %w", err)
	}

	h.emit(ctx, event.NewWithCorrelation(event.TypeCalendarEventCreated, map[string]interface{}{
		"event_id": ref.EventID,
	}, opts.CorrelationID))

	return &HandlerResult{
		Success:      true,
		Data:         map[string]interface{}{"event_id": ref.EventID},
		Rollbackable: true,
		Rollback: func(ctx context.Context) error {
			return h.deps.Calendar.CancelEvent(ctx, ref.EventID)
		},
	}, nil
}

func (h *serviceHandlers) updateEvent(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
	if opts.DryRun {
		return DryRunResult(action), nil
	}

	eventID := action.ParamString("event_id")
	if eventID == "" {
		return nil, fmt.Errorf("update_event requires event_id param")
	}
	if err := h.deps.Calendar.UpdateEvent(ctx, eventID, action.Params); err != nil {
		return nil, fmt.Errorf("calendar event update failed: %w", err)
	}

	h.emit(ctx, event.NewWithCorrelation(event.TypeCalendarEventUpdated, map[string]interface{}{
		"event_id": eventID,
	}, opts.CorrelationID))

	return &HandlerResult{Success: true, Data: map[string]interface{}{"event_id": eventID}}, nil
}

func (h *serviceHandlers) cancelEvent(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
	if opts.DryRun {
		return DryRunResult(action), nil
	}

	eventID := action.ParamString("event_id")
	if eventID == "" {
		return nil, fmt.Errorf("cancel_event requires event_id param")
	}
	if err := h.deps.Calendar.CancelEvent(ctx, eventID); err != nil {
		return nil, fmt.Errorf("calendar event cancellation failed: %w", err)
	}

	h.emit(ctx, event.NewWithCorrelation(event.TypeCalendarEventCancelled, map[string]interface{}{
		"event_id": eventID,
	}, opts.CorrelationID))

	return &HandlerResult{Success: true, Data: map[string]interface{}{"event_id": eventID}}, nil
}

func (h *serviceHandlers) sendNotification(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
	if opts.DryRun {
		return DryRunResult(action), nil
	}

	req := &port.NotificationRequest{
		Channel:   action.ParamString("channel"),
		Recipient: action.ParamString("recipient"),
		Subject:   action.ParamString("subject"),
		Body:      action.ParamString("body"),
		TaskID:    action.ParamString("task_id"),
	}
	if req.Recipient == "" {
		return nil, fmt.Errorf("send_notification requires recipient param")
	}

	if err := h.deps.Notifier.Send(ctx, req); err != nil {
		return nil, fmt.Errorf("notification delivery failed: %w", err)
	}

	h.emit(ctx, event.NewWithCorrelation(event.TypeNotificationSent, map[string]interface{}{
		"channel":   req.Channel,
		"recipient": req.Recipient,
	}, opts.CorrelationID))

	// A sent notification cannot be rolled back, only superseded.
	return &HandlerResult{Success: true, Data: map[string]interface{}{"recipient": req.Recipient}}, nil
}

func (h *serviceHandlers) triggerAutomation(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
	if opts.DryRun {
		return DryRunResult(action), nil
	}

	key := action.ParamString("automation_key")
	if key == "" {
		return nil, fmt.Errorf("trigger_automation requires automation_key param")
	}
	if err := h.deps.Automation.Trigger(ctx, key, action.Params); err != nil {
		return nil, fmt.Errorf("automation trigger failed: %w", err)
	}

	h.emit(ctx, event.NewWithCorrelation(event.TypeAutomationTriggered, map[string]interface{}{
		"automation_key": key,
	}, opts.CorrelationID))

	return &HandlerResult{Success: true, Data: map[string]interface{}{"automation_key": key}}, nil
}

func (h *serviceHandlers) escalate(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
	if opts.DryRun {
		return DryRunResult(action), nil
	}

	reason := action.ParamString("reason")
	targetRole := action.ParamString("target_role")

	h.emit(ctx, event.NewWithCorrelation(event.TypeAgentEscalated, map[string]interface{}{
		"reason":      reason,
		"target_role": targetRole,
		"task_id":     action.ParamString("task_id"),
	}, opts.CorrelationID))

	if recipient := action.ParamString("recipient"); recipient != "" {
		if err := h.deps.Notifier.Send(ctx, &port.NotificationRequest{
			Channel:   "escalation",
			Recipient: recipient,
			Subject:   "Escalation: " + reason,
			Body:      action.ParamString("body"),
			TaskID:    action.ParamString("task_id"),
		}); err != nil {
			h.deps.Logger.Warn("Escalation notification failed", zap.Error(err))
		}
	}

	return &HandlerResult{Success: true, Data: map[string]interface{}{"reason": reason, "target_role": targetRole}}, nil
}

func (h *serviceHandlers) noAction(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
	if opts.DryRun {
		return DryRunResult(action), nil
	}
	return &HandlerResult{Success: true}, nil
}
