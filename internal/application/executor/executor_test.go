package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dmarshall/agent-orchestrator/internal/application/dispatcher"
	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
	"github.com/dmarshall/agent-orchestrator/internal/domain/event"
)

// recordingHandler appends every executed action type to a shared log
type recordingHandler struct {
	mu  sync.Mutex
	log []agent.ActionType
}

func (r *recordingHandler) Handle(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
	r.mu.Lock()
	r.log = append(r.log, action.Type)
	r.mu.Unlock()
	return &HandlerResult{Success: true}, nil
}

func testConfig() Config {
	return Config{
		MaxExecutionTime: 10 * time.Second,
		ActionTimeout:    time.Second,
		RetryAttempts:    0,
		RetryDelay:       time.Millisecond,
		EnableRollback:   true,
	}
}

func TestExecuteOrdersByPriorityDescending(t *testing.T) {
	rec := &recordingHandler{}
	exec := New(testConfig(), nil, zap.NewNop(),
		WithHandler(agent.ActionSendNotification, rec),
		WithHandler(agent.ActionCreateEvent, rec),
		WithHandler(agent.ActionEscalate, rec))

	actions := []*agent.Action{
		{Type: agent.ActionSendNotification, Priority: 1},
		{Type: agent.ActionCreateEvent, Priority: 5},
		{Type: agent.ActionEscalate, Priority: 3},
	}

	outcome := exec.Execute(context.Background(), actions, RunOptions{})

	require.Equal(t, agent.StatusExecuted, outcome.Status)
	require.Len(t, outcome.Results, 3)
	assert.Equal(t, []agent.ActionType{
		agent.ActionCreateEvent,
		agent.ActionEscalate,
		agent.ActionSendNotification,
	}, rec.log)
}

func TestExecutePriorityTiesKeepRelativeOrder(t *testing.T) {
	rec := &recordingHandler{}
	exec := New(testConfig(), nil, zap.NewNop(),
		WithHandler(agent.ActionSendNotification, rec),
		WithHandler(agent.ActionCreateEvent, rec))

	actions := []*agent.Action{
		{Type: agent.ActionSendNotification, Priority: 2},
		{Type: agent.ActionCreateEvent, Priority: 2},
	}

	exec.Execute(context.Background(), actions, RunOptions{})

	assert.Equal(t, []agent.ActionType{
		agent.ActionSendNotification,
		agent.ActionCreateEvent,
	}, rec.log)
}

func TestExecuteSkipsActionWhenConditionUnmet(t *testing.T) {
	rec := &recordingHandler{}
	exec := New(testConfig(), nil, zap.NewNop(),
		WithHandler(agent.ActionSendNotification, rec),
		WithHandler(agent.ActionCreateEvent, rec),
		WithCustomCondition(func(ctx context.Context, params map[string]interface{}) (bool, error) {
			return false, nil
		}))

	actions := []*agent.Action{
		{
			Type:      agent.ActionSendNotification,
			Priority:  2,
			Condition: &agent.Condition{Type: agent.ConditionCustom},
		},
		{Type: agent.ActionCreateEvent, Priority: 1},
	}

	outcome := exec.Execute(context.Background(), actions, RunOptions{})

	// A skipped action still records a successful result, and later
	// actions keep running.
	require.Equal(t, agent.StatusExecuted, outcome.Status)
	require.Len(t, outcome.Results, 2)
	assert.True(t, outcome.Results[0].Success)
	assert.Equal(t, true, outcome.Results[0].Data["skipped"])
	assert.Equal(t, []agent.ActionType{agent.ActionCreateEvent}, rec.log)
}

func TestExecuteDryRunReportsPendingWithoutSideEffects(t *testing.T) {
	var sideEffects int
	handler := HandlerFunc(func(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
		if opts.DryRun {
			return DryRunResult(action), nil
		}
		sideEffects++
		return &HandlerResult{Success: true}, nil
	})

	exec := New(testConfig(), nil, zap.NewNop(),
		WithHandler(agent.ActionCreateEvent, handler))

	outcome := exec.Execute(context.Background(), []*agent.Action{
		{Type: agent.ActionCreateEvent, Params: map[string]interface{}{"title": "intro call"}},
	}, RunOptions{DryRun: true})

	require.Equal(t, agent.StatusPending, outcome.Status)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, 0, sideEffects)
	assert.Equal(t, true, outcome.Results[0].Data["dryRun"])
	assert.Equal(t, "intro call", outcome.Results[0].Data["title"])
}

func TestExecuteRollsBackInReverseOrder(t *testing.T) {
	var mu sync.Mutex
	var rolledBack []string

	rollbackable := func(name string) ActionHandler {
		return HandlerFunc(func(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
			return &HandlerResult{
				Success:      true,
				Rollbackable: true,
				Rollback: func(ctx context.Context) error {
					mu.Lock()
					rolledBack = append(rolledBack, name)
					mu.Unlock()
					return nil
				},
			}, nil
		})
	}
	failing := HandlerFunc(func(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
		return nil, errors.New("downstream unavailable")
	})

	exec := New(testConfig(), nil, zap.NewNop(),
		WithHandler(agent.ActionCreateEvent, rollbackable("create_event")),
		WithHandler(agent.ActionSendNotification, rollbackable("send_notification")),
		WithHandler(agent.ActionTriggerAutomation, failing))

	outcome := exec.Execute(context.Background(), []*agent.Action{
		{Type: agent.ActionCreateEvent, Priority: 3},
		{Type: agent.ActionSendNotification, Priority: 2},
		{Type: agent.ActionTriggerAutomation, Priority: 1},
	}, RunOptions{})

	require.Equal(t, agent.StatusFailed, outcome.Status)
	assert.True(t, outcome.RolledBack)
	assert.Equal(t, []string{"send_notification", "create_event"}, rolledBack)
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	handler := HandlerFunc(func(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient failure")
		}
		return &HandlerResult{Success: true}, nil
	})

	cfg := testConfig()
	cfg.RetryAttempts = 2
	exec := New(cfg, nil, zap.NewNop(), WithHandler(agent.ActionCreateEvent, handler))

	outcome := exec.Execute(context.Background(), []*agent.Action{
		{Type: agent.ActionCreateEvent},
	}, RunOptions{})

	assert.Equal(t, agent.StatusExecuted, outcome.Status)
	assert.Equal(t, 3, attempts)
}

func TestExecuteActionTimeout(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
		select {
		case <-time.After(time.Second):
			return &HandlerResult{Success: true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	cfg := testConfig()
	cfg.ActionTimeout = 20 * time.Millisecond
	exec := New(cfg, nil, zap.NewNop(), WithHandler(agent.ActionCreateEvent, handler))

	outcome := exec.Execute(context.Background(), []*agent.Action{
		{Type: agent.ActionCreateEvent},
	}, RunOptions{})

	require.Equal(t, agent.StatusFailed, outcome.Status)
	require.Len(t, outcome.Results, 1)
	assert.False(t, outcome.Results[0].Success)
	assert.Contains(t, outcome.Results[0].Message, "timed out")
}

func TestExecuteFallbackOnPrimaryFailure(t *testing.T) {
	failing := HandlerFunc(func(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
		return nil, errors.New("calendar rejected event")
	})
	fallback := HandlerFunc(func(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
		return &HandlerResult{Success: true, Data: map[string]interface{}{"notified": true}}, nil
	})

	exec := New(testConfig(), nil, zap.NewNop(),
		WithHandler(agent.ActionCreateEvent, failing),
		WithHandler(agent.ActionSendNotification, fallback))

	outcome := exec.Execute(context.Background(), []*agent.Action{
		{
			Type:     agent.ActionCreateEvent,
			Fallback: &agent.Action{Type: agent.ActionSendNotification},
		},
	}, RunOptions{})

	require.Equal(t, agent.StatusExecuted, outcome.Status)
	require.Len(t, outcome.Results, 1)
	result := outcome.Results[0]
	assert.True(t, result.Success)
	assert.Equal(t, agent.ActionCreateEvent, result.ActionType)
	assert.Equal(t, true, result.Data["fallback"])
	assert.Equal(t, string(agent.ActionSendNotification), result.Data["fallback_type"])
	assert.Equal(t, true, result.Data["notified"])
}

func TestExecuteUnknownActionFails(t *testing.T) {
	exec := New(testConfig(), nil, zap.NewNop())

	outcome := exec.Execute(context.Background(), []*agent.Action{
		{Type: agent.ActionType("REBOOT_MAINFRAME")},
	}, RunOptions{})

	require.Equal(t, agent.StatusFailed, outcome.Status)
	require.Len(t, outcome.Results, 1)
	assert.Contains(t, outcome.Results[0].Message, "No handler registered")
}

func TestExecuteStopOnFailureHaltsRun(t *testing.T) {
	rec := &recordingHandler{}
	failing := HandlerFunc(func(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
		return &HandlerResult{Success: false, Message: "rejected"}, nil
	})

	cfg := testConfig()
	cfg.StopOnFailure = true
	exec := New(cfg, nil, zap.NewNop(),
		WithHandler(agent.ActionCreateEvent, failing),
		WithHandler(agent.ActionSendNotification, rec))

	outcome := exec.Execute(context.Background(), []*agent.Action{
		{Type: agent.ActionCreateEvent, Priority: 2},
		{Type: agent.ActionSendNotification, Priority: 1},
	}, RunOptions{})

	assert.Equal(t, agent.StatusFailed, outcome.Status)
	assert.Len(t, outcome.Results, 1)
	assert.Empty(t, rec.log)
}

func TestExecuteHandlerPanicIsContained(t *testing.T) {
	panicking := HandlerFunc(func(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
		panic("nil map write")
	})

	exec := New(testConfig(), nil, zap.NewNop(),
		WithHandler(agent.ActionCreateEvent, panicking))

	outcome := exec.Execute(context.Background(), []*agent.Action{
		{Type: agent.ActionCreateEvent},
	}, RunOptions{})

	require.Equal(t, agent.StatusFailed, outcome.Status)
	assert.Contains(t, outcome.Results[0].Message, "handler panic")
}

func TestTimeRangeConditionUsesClock(t *testing.T) {
	rec := &recordingHandler{}
	inWindow := time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)

	exec := New(testConfig(), nil, zap.NewNop(),
		WithHandler(agent.ActionSendNotification, rec),
		withClock(func() time.Time { return inWindow }))

	condition := &agent.Condition{
		Type: agent.ConditionTimeRange,
		Params: map[string]interface{}{
			"start": "2026-03-10T09:00:00Z",
			"end":   "2026-03-10T17:00:00Z",
		},
	}

	outcome := exec.Execute(context.Background(), []*agent.Action{
		{Type: agent.ActionSendNotification, Condition: condition},
	}, RunOptions{})

	require.Equal(t, agent.StatusExecuted, outcome.Status)
	assert.Equal(t, []agent.ActionType{agent.ActionSendNotification}, rec.log)

	// Malformed bounds count as unmet, not as an error.
	rec.log = nil
	outcome = exec.Execute(context.Background(), []*agent.Action{
		{Type: agent.ActionSendNotification, Condition: &agent.Condition{
			Type:   agent.ConditionTimeRange,
			Params: map[string]interface{}{"start": "not-a-time", "end": "also-not"},
		}},
	}, RunOptions{})

	require.Equal(t, agent.StatusExecuted, outcome.Status)
	assert.Empty(t, rec.log)
	assert.Equal(t, true, outcome.Results[0].Data["skipped"])
}

func TestStubHandlersEmitDomainEvents(t *testing.T) {
	bus := dispatcher.New()
	var (
		mu   sync.Mutex
		seen []event.Type
	)
	bus.On(event.TypeAny, func(ctx context.Context, evt *event.Event) error {
		mu.Lock()
		seen = append(seen, evt.Type)
		mu.Unlock()
		return nil
	})

	exec := New(testConfig(), bus, zap.NewNop(), WithHandlers(NewStubHandlers(bus)))
	outcome := exec.Execute(context.Background(), []*agent.Action{
		{Type: agent.ActionCreateEvent},
		{Type: agent.ActionNoAction},
	}, RunOptions{})

	require.Equal(t, agent.StatusExecuted, outcome.Status)
	assert.Equal(t, true, outcome.Results[0].Data["stub"])
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, event.TypeCalendarEventCreated)
}

func TestExecuteBudgetAbortStopsRun(t *testing.T) {
	rec := &recordingHandler{}
	slow := HandlerFunc(func(ctx context.Context, action *agent.Action, opts HandleOptions) (*HandlerResult, error) {
		time.Sleep(50 * time.Millisecond)
		return &HandlerResult{Success: true}, nil
	})
	cfg := testConfig()
	cfg.MaxExecutionTime = 20 * time.Millisecond
	exec := New(cfg, nil, zap.NewNop(),
		WithHandler(agent.ActionCreateEvent, slow),
		WithHandler(agent.ActionSendNotification, rec))

	outcome := exec.Execute(context.Background(), []*agent.Action{
		{Type: agent.ActionCreateEvent, Priority: 2},
		{Type: agent.ActionSendNotification, Priority: 1},
	}, RunOptions{})

	// The slow first action exhausts the run budget; the abort is a run
	// failure, not a per-action failure, and later actions never start.
	require.Equal(t, agent.StatusFailed, outcome.Status)
	require.Len(t, outcome.Results, 1)
	assert.True(t, outcome.Results[0].Success)
	assert.Empty(t, rec.log)

	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, agent.ErrCodeExecutionTimeout, outcome.Errors[0].Code)
	assert.False(t, outcome.Errors[0].Retryable)
}

func TestExecuteDelayWaitsBeforeAction(t *testing.T) {
	rec := &recordingHandler{}
	exec := New(testConfig(), nil, zap.NewNop(),
		WithHandler(agent.ActionSendNotification, rec))

	start := time.Now()
	outcome := exec.Execute(context.Background(), []*agent.Action{
		{Type: agent.ActionSendNotification, DelayMs: 30},
	}, RunOptions{})

	require.Equal(t, agent.StatusExecuted, outcome.Status)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, []agent.ActionType{agent.ActionSendNotification}, rec.log)
}

func TestExecuteCancelledDuringDelayIsNotATimeout(t *testing.T) {
	rec := &recordingHandler{}
	exec := New(testConfig(), nil, zap.NewNop(),
		WithHandler(agent.ActionSendNotification, rec))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	outcome := exec.Execute(ctx, []*agent.Action{
		{Type: agent.ActionSendNotification, DelayMs: 500},
	}, RunOptions{})

	require.Equal(t, agent.StatusFailed, outcome.Status)
	assert.Empty(t, outcome.Results)
	assert.Empty(t, rec.log)

	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, agent.ErrCodeRunCancelled, outcome.Errors[0].Code)
	assert.Contains(t, outcome.Errors[0].Message, "cancelled")
	assert.False(t, outcome.Errors[0].Retryable)
}
