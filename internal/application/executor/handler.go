package executor

import (
	"context"

	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
)

// RollbackFunc compensates one successfully executed action
type RollbackFunc func(ctx context.Context) error

// HandleOptions carries per-run flags into a handler
type HandleOptions struct {
	// DryRun obliges the handler to short-circuit before any real side
	// effect and report the intended effect instead. The executor cannot
	// enforce this structurally; it is a contract on handler authors.
	DryRun bool

	CorrelationID string
}

// HandlerResult is what a handler reports back for one action
type HandlerResult struct {
	Success bool
	Data    map[string]interface{}
	Message string

	// Rollbackable marks the side effect as compensatable. Only
	// successful, rollbackable, non-dry-run executions are pushed onto
	// the rollback stack.
	Rollbackable bool
	Rollback     RollbackFunc
}

// ActionHandler executes one kind of action. A returned error and a
// result with Success=false are treated identically: the action failed
// and is subject to retry.
type ActionHandler interface {
	Handle(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error)
}

// HandlerFunc adapts a function to the ActionHandler interface
type HandlerFunc func(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error)

// Handle implements ActionHandler
func (f HandlerFunc) Handle(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
	return f(ctx, action, opts)
}

// DryRunResult is the canonical handler response under dry-run: success,
// no side effects, the would-be params echoed back
func DryRunResult(action *agent.Action) *HandlerResult {
	data := map[string]interface{}{"dryRun": true}
	for k, v := range action.Params {
		data[k] = v
	}
	return &HandlerResult{Success: true, Data: data}
}
