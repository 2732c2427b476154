package executor

import (
	"context"

	"github.com/dmarshall/agent-orchestrator/internal/application/dispatcher"
	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
	"github.com/dmarshall/agent-orchestrator/internal/domain/event"
)

// NewStubHandlers returns a null-object dispatch table for the generic
// action vocabulary: each handler emits the corresponding domain event
// and reports success without touching any downstream system. This set
// exists for tests and for wiring checks; production assemblies must
// register real handlers instead.
func NewStubHandlers(bus dispatcher.Dispatcher) map[agent.ActionType]ActionHandler {
	return map[agent.ActionType]ActionHandler{
		agent.ActionAssignPipeline:    stubHandler(bus, event.TypePipelineAssigned),
		agent.ActionCreateEvent:       stubHandler(bus, event.TypeCalendarEventCreated),
		agent.ActionUpdateEvent:       stubHandler(bus, event.TypeCalendarEventUpdated),
		agent.ActionCancelEvent:       stubHandler(bus, event.TypeCalendarEventCancelled),
		agent.ActionSendNotification:  stubHandler(bus, event.TypeNotificationSent),
		agent.ActionTriggerAutomation: stubHandler(bus, event.TypeAutomationTriggered),
		agent.ActionEscalate:          stubHandler(bus, event.TypeAgentEscalated),
		agent.ActionNoAction: HandlerFunc(func(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
			if opts.DryRun {
				return DryRunResult(action), nil
			}
			return &HandlerResult{Success: true}, nil
		}),
	}
}

func stubHandler(bus dispatcher.Dispatcher, eventType event.Type) ActionHandler {
	return HandlerFunc(func(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
		if opts.DryRun {
			return DryRunResult(action), nil
		}
		if bus != nil {
			payload := map[string]interface{}{"stub": true}
			for k, v := range action.Params {
				payload[k] = v
			}
			bus.Emit(ctx, event.NewWithCorrelation(eventType, payload, opts.CorrelationID))
		}
		return &HandlerResult{Success: true, Data: map[string]interface{}{"stub": true}}, nil
	})
}
