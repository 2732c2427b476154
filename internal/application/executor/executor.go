package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dmarshall/agent-orchestrator/internal/application/dispatcher"
	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
	"github.com/dmarshall/agent-orchestrator/internal/domain/event"
	"go.uber.org/zap"
)

// Config holds executor tuning. Zero values are replaced by defaults.
type Config struct {
	// MaxExecutionTime is the wall-clock budget for one whole run,
	// checked before each action
	MaxExecutionTime time.Duration

	// ActionTimeout bounds a single handler invocation
	ActionTimeout time.Duration

	// RetryAttempts is the number of retries after the first attempt
	RetryAttempts int

	// RetryDelay is the linear backoff unit: attempt n waits n*RetryDelay
	RetryDelay time.Duration

	// StopOnFailure halts the run at the first failed action
	StopOnFailure bool

	// EnableRollback unwinds successful rollbackable actions when the
	// run records any error
	EnableRollback bool
}

// DefaultConfig returns the executor defaults
func DefaultConfig() Config {
	return Config{
		MaxExecutionTime: 2 * time.Minute,
		ActionTimeout:    30 * time.Second,
		RetryAttempts:    2,
		RetryDelay:       time.Second,
		EnableRollback:   true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxExecutionTime <= 0 {
		c.MaxExecutionTime = d.MaxExecutionTime
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = d.ActionTimeout
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	return c
}

// RunOptions carries per-run flags
type RunOptions struct {
	// DryRun executes no real side effects: handlers validate and report,
	// nothing is rollbackable, and the outcome status is PENDING
	DryRun bool

	CorrelationID string
}

// rollbackEntry pairs an executed rollback-capable action with its
// compensating closure. Lives only for the duration of one run, on a
// per-call stack.
type rollbackEntry struct {
	actionType agent.ActionType
	rollback   RollbackFunc
	recordedAt time.Time
}

// Executor runs ordered action lists against registered handlers with
// delay, condition, timeout, retry and rollback semantics. The handler
// table is closed at construction and never mutated afterwards, so one
// executor is safe to share across concurrent runs; all per-run state is
// local to Execute.
type Executor struct {
	cfg        Config
	handlers   map[agent.ActionType]ActionHandler
	conditions conditionEvaluator
	bus        dispatcher.Dispatcher
	logger     *zap.Logger
}

// Option configures the executor at construction
type Option func(*Executor)

// WithHandler registers the handler for an action type
func WithHandler(t agent.ActionType, h ActionHandler) Option {
	return func(e *Executor) {
		e.handlers[t] = h
	}
}

// WithHandlers registers a whole dispatch table
func WithHandlers(table map[agent.ActionType]ActionHandler) Option {
	return func(e *Executor) {
		for t, h := range table {
			e.handlers[t] = h
		}
	}
}

// WithUserAvailableCheck wires the user_available condition check
func WithUserAvailableCheck(fn ConditionCheck) Option {
	return func(e *Executor) {
		e.conditions.userAvailable = fn
	}
}

// WithSlotAvailableCheck wires the slot_available condition check
func WithSlotAvailableCheck(fn ConditionCheck) Option {
	return func(e *Executor) {
		e.conditions.slotAvailable = fn
	}
}

// WithCustomCondition wires the evaluator for custom conditions
func WithCustomCondition(fn ConditionCheck) Option {
	return func(e *Executor) {
		e.conditions.custom = fn
	}
}

// withClock overrides the condition clock, for tests
func withClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.conditions.now = now
	}
}

// New creates an executor with an immutable dispatch table
func New(cfg Config, bus dispatcher.Dispatcher, logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		cfg:      cfg.withDefaults(),
		handlers: make(map[agent.ActionType]ActionHandler),
		bus:      bus,
		logger:   logger,
	}
	e.conditions = conditionEvaluator{now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the action list and returns its aggregate outcome. Every
// failure mode is caught at the handler-invocation boundary and
// converted into a typed result; Execute never propagates handler
// errors or panics.
func (e *Executor) Execute(ctx context.Context, actions []*agent.Action, opts RunOptions) *agent.DecisionOutcome {
	start := time.Now()
	outcome := &agent.DecisionOutcome{
		Results: make([]*agent.ActionResult, 0, len(actions)),
		Errors:  make([]*agent.ExecutionError, 0),
	}

	// Stable sort, priority descending; ties keep relative order. This is
	// a linear pass, not a dependency-aware scheduler.
	ordered := make([]*agent.Action, len(actions))
	copy(ordered, actions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	var rollbackStack []rollbackEntry

loop:
	for _, action := range ordered {
		if time.Since(start) > e.cfg.MaxExecutionTime {
			outcome.Errors = append(outcome.Errors, &agent.ExecutionError{
				Code:      agent.ErrCodeExecutionTimeout,
				Message:   fmt.Sprintf("execution budget %s exceeded", e.cfg.MaxExecutionTime),
				Retryable: false,
			})
			e.logger.Warn("Execution budget exceeded, aborting run",
				zap.Duration("budget", e.cfg.MaxExecutionTime),
				zap.Int("actions_done", len(outcome.Results)))
			break
		}

		// Pre-action delay happens even when the condition check below
		// will skip the action.
		if delay := action.Delay(); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				outcome.Errors = append(outcome.Errors, &agent.ExecutionError{
					ActionType: action.Type,
					Code:       agent.ErrCodeRunCancelled,
					Message:    fmt.Sprintf("run cancelled during delay: %v", ctx.Err()),
					Retryable:  false,
				})
				break loop
			}
		}

		if action.Condition != nil && !e.conditions.evaluate(ctx, action.Condition) {
			// A skipped action is not a failure.
			outcome.Results = append(outcome.Results, &agent.ActionResult{
				ActionType: action.Type,
				Success:    true,
				Data:       map[string]interface{}{"skipped": true},
				Message:    fmt.Sprintf("condition %s not met", action.Condition.Type),
			})
			continue
		}

		result, entry := e.executeAction(ctx, action, opts)
		outcome.Results = append(outcome.Results, result)

		if entry != nil && !opts.DryRun {
			rollbackStack = append(rollbackStack, *entry)
		}

		if !result.Success {
			outcome.Errors = append(outcome.Errors, &agent.ExecutionError{
				ActionType: action.Type,
				Code:       agent.ErrCodeActionFailed,
				Message:    result.Message,
				Retryable:  true,
			})
			if e.cfg.StopOnFailure {
				break
			}
		}
	}

	if len(outcome.Errors) > 0 && e.cfg.EnableRollback && !opts.DryRun && len(rollbackStack) > 0 {
		e.unwind(ctx, rollbackStack)
		outcome.RolledBack = true
	}

	switch {
	case len(outcome.Errors) > 0:
		// Rollback repairs side effects but does not erase the failure.
		outcome.Status = agent.StatusFailed
	case opts.DryRun:
		outcome.Status = agent.StatusPending
	default:
		outcome.Status = agent.StatusExecuted
	}
	outcome.ExecutionTime = time.Since(start)
	outcome.CompletedAt = time.Now()

	e.emitSummary(ctx, outcome, opts)
	return outcome
}

// executeAction runs one action with per-action timeout and linear
// backoff retries. Only the final attempt's outcome is recorded.
func (e *Executor) executeAction(ctx context.Context, action *agent.Action, opts RunOptions) (*agent.ActionResult, *rollbackEntry) {
	actionStart := time.Now()

	handler, ok := e.handlers[action.Type]
	if !ok {
		return &agent.ActionResult{
			ActionType:    action.Type,
			Success:       false,
			ExecutionTime: time.Since(actionStart),
			Message:       fmt.Sprintf("No handler registered for action type %s", action.Type),
		}, nil
	}

	hopts := HandleOptions{DryRun: opts.DryRun, CorrelationID: opts.CorrelationID}

	var result *HandlerResult
	var err error
	for attempt := 0; attempt <= e.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * e.cfg.RetryDelay
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				err = ctx.Err()
				break
			}
			e.logger.Debug("Retrying action",
				zap.String("action_type", string(action.Type)),
				zap.Int("attempt", attempt))
		}

		result, err = e.invoke(ctx, handler, action, hopts)
		if err == nil && result != nil && result.Success {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	if err != nil || result == nil || !result.Success {
		message := "handler reported failure"
		if err != nil {
			message = err.Error()
		} else if result != nil && result.Message != "" {
			message = result.Message
		}

		if action.Fallback != nil {
			if fbResult, fbErr := e.invoke(ctx, e.fallbackHandler(action.Fallback), action.Fallback, hopts); fbErr == nil && fbResult != nil && fbResult.Success {
				data := map[string]interface{}{
					"fallback":      true,
					"fallback_type": string(action.Fallback.Type),
				}
				for k, v := range fbResult.Data {
					data[k] = v
				}
				return &agent.ActionResult{
					ActionType:    action.Type,
					Success:       true,
					Data:          data,
					ExecutionTime: time.Since(actionStart),
					Message:       fmt.Sprintf("primary failed (%s), fallback %s succeeded", message, action.Fallback.Type),
				}, nil
			}
		}

		return &agent.ActionResult{
			ActionType:    action.Type,
			Success:       false,
			ExecutionTime: time.Since(actionStart),
			Message:       message,
		}, nil
	}

	actionResult := &agent.ActionResult{
		ActionType:    action.Type,
		Success:       true,
		Data:          result.Data,
		ExecutionTime: time.Since(actionStart),
		Message:       result.Message,
	}

	var entry *rollbackEntry
	if result.Rollbackable && result.Rollback != nil {
		entry = &rollbackEntry{
			actionType: action.Type,
			rollback:   result.Rollback,
			recordedAt: time.Now(),
		}
	}
	return actionResult, entry
}

func (e *Executor) fallbackHandler(fallback *agent.Action) ActionHandler {
	if h, ok := e.handlers[fallback.Type]; ok {
		return h
	}
	return HandlerFunc(func(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
		return nil, fmt.Errorf("no handler registered for fallback action type %s", action.Type)
	})
}

// invoke races the handler against the per-action timeout; whichever
// resolves first wins. A timed-out handler goroutine is abandoned (its
// context is cancelled) without corrupting recorded results.
func (e *Executor) invoke(ctx context.Context, handler ActionHandler, action *agent.Action, opts HandleOptions) (result *HandlerResult, err error) {
	actionCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	type handlerReturn struct {
		result *HandlerResult
		err    error
	}
	done := make(chan handlerReturn, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerReturn{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		res, herr := handler.Handle(actionCtx, action, opts)
		done <- handlerReturn{result: res, err: herr}
	}()

	select {
	case ret := <-done:
		return ret.result, ret.err
	case <-actionCtx.Done():
		return nil, fmt.Errorf("action %s timed out after %s", action.Type, e.cfg.ActionTimeout)
	}
}

// unwind invokes rollback entries in strict reverse chronological order,
// tolerating individual rollback failures
func (e *Executor) unwind(ctx context.Context, stack []rollbackEntry) {
	e.logger.Info("Rolling back executed actions", zap.Int("count", len(stack)))

	for i := len(stack) - 1; i >= 0; i-- {
		entry := stack[i]
		if err := entry.rollback(ctx); err != nil {
			e.logger.Error("Rollback failed, continuing",
				zap.String("action_type", string(entry.actionType)),
				zap.Time("recorded_at", entry.recordedAt),
				zap.Error(err))
		}
	}
}

// emitSummary announces the run outcome on the bus regardless of status
func (e *Executor) emitSummary(ctx context.Context, outcome *agent.DecisionOutcome, opts RunOptions) {
	if e.bus == nil {
		return
	}
	evt := event.NewWithCorrelation(event.TypeExecutionCompleted, map[string]interface{}{
		"status":            string(outcome.Status),
		"results":           len(outcome.Results),
		"errors":            len(outcome.Errors),
		"rolled_back":       outcome.RolledBack,
		"dry_run":           opts.DryRun,
		"execution_time_ms": outcome.ExecutionTime.Milliseconds(),
	}, opts.CorrelationID)
	e.bus.Emit(ctx, evt)
}
