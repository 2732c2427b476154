package taskexec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dmarshall/agent-orchestrator/internal/application/dispatcher"
	"github.com/dmarshall/agent-orchestrator/internal/application/port"
	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
	"github.com/dmarshall/agent-orchestrator/internal/domain/entity"
	"github.com/dmarshall/agent-orchestrator/internal/domain/event"
	"github.com/dmarshall/agent-orchestrator/internal/domain/task"
)

// fakeTaskRepo is an in-memory TaskRepository keyed by task id
type fakeTaskRepo struct {
	mu         sync.Mutex
	tasks      map[string]*task.Instance
	openCounts map[string]int
	decisions  map[string][]string
}

func newFakeTaskRepo(tasks ...*task.Instance) *fakeTaskRepo {
	r := &fakeTaskRepo{
		tasks:      make(map[string]*task.Instance),
		openCounts: make(map[string]int),
		decisions:  make(map[string][]string),
	}
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	return r
}

func (r *fakeTaskRepo) get(taskID string) (*task.Instance, error) {
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	return t, nil
}

func (r *fakeTaskRepo) GetByID(ctx context.Context, taskID, orgID string) (*task.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(taskID)
	if err != nil {
		return nil, err
	}
	clone := *t
	return &clone, nil
}

func (r *fakeTaskRepo) Create(ctx context.Context, t *task.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t
	return nil
}

func (r *fakeTaskRepo) UpdateStatus(ctx context.Context, taskID, orgID string, status task.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(taskID)
	if err != nil {
		return err
	}
	t.Status = status
	return nil
}

func (r *fakeTaskRepo) UpdateStage(ctx context.Context, taskID, orgID string, stageKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(taskID)
	if err != nil {
		return err
	}
	t.StageKey = stageKey
	return nil
}

func (r *fakeTaskRepo) AssignPipeline(ctx context.Context, taskID, orgID string, pipelineKey, stageKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(taskID)
	if err != nil {
		return err
	}
	t.PipelineKey = pipelineKey
	t.StageKey = stageKey
	return nil
}

func (r *fakeTaskRepo) UpdateAssignee(ctx context.Context, taskID, orgID string, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(taskID)
	if err != nil {
		return err
	}
	t.AssignedToUserID = userID
	return nil
}

func (r *fakeTaskRepo) UpdateTags(ctx context.Context, taskID, orgID string, tags []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(taskID)
	if err != nil {
		return err
	}
	t.Tags = tags
	return nil
}

func (r *fakeTaskRepo) AppendNote(ctx context.Context, taskID, orgID string, note task.Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(taskID)
	if err != nil {
		return err
	}
	t.Notes = append(t.Notes, note)
	return nil
}

func (r *fakeTaskRepo) SetEscalation(ctx context.Context, taskID, orgID string, esc *task.Escalation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(taskID)
	if err != nil {
		return err
	}
	t.Escalation = esc
	return nil
}

func (r *fakeTaskRepo) RecordAgentDecision(ctx context.Context, taskID, orgID string, decisionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[taskID] = append(r.decisions[taskID], decisionID)
	return nil
}

func (r *fakeTaskRepo) IncrementRetryAttempts(ctx context.Context, taskID, orgID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(taskID)
	if err != nil {
		return 0, err
	}
	t.RetryAttempts++
	return t.RetryAttempts, nil
}

func (r *fakeTaskRepo) CountOpenByAssignee(ctx context.Context, orgID string, userIDs []string) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int, len(userIDs))
	for _, id := range userIDs {
		counts[id] = r.openCounts[id]
	}
	return counts, nil
}

func (r *fakeTaskRepo) CountByStatus(ctx context.Context, orgID string) (map[task.Status]int, error) {
	return map[task.Status]int{}, nil
}

func (r *fakeTaskRepo) ListPastSLA(ctx context.Context, now time.Time, limit int) ([]*task.Instance, error) {
	return nil, nil
}

func (r *fakeTaskRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*task.Instance, error) {
	return nil, nil
}

func (r *fakeTaskRepo) ListOrgIDs(ctx context.Context) ([]string, error) {
	return nil, nil
}

type fakeUserRepo struct {
	staff []*entity.User
	err   error
}

func (r *fakeUserRepo) ListActiveStaff(ctx context.Context, orgID string, role string) ([]*entity.User, error) {
	return r.staff, r.err
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []*port.NotificationRequest
	err  error
}

func (n *fakeNotifier) Send(ctx context.Context, req *port.NotificationRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, req)
	return nil
}

type fakeTx struct{}

func (fakeTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// eventRecorder collects emitted events through a real dispatcher
type eventRecorder struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *eventRecorder) record(ctx context.Context, evt *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *eventRecorder) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Type
	}
	return out
}

func newTestExecutor(repo *fakeTaskRepo, users *fakeUserRepo, notifier *fakeNotifier) (*Executor, *eventRecorder, func()) {
	rec := &eventRecorder{}
	bus := dispatcher.New()
	bus.On(event.TypeAny, rec.record)
	exec := New(repo, users, notifier, fakeTx{}, bus, zap.NewNop())
	return exec, rec, func() { _ = bus.Close() }
}

func openTask(id string) *task.Instance {
	return &task.Instance{
		ID:     id,
		OrgID:  "org-1",
		Title:  "Follow up with customer",
		Status: task.StatusNew,
	}
}

func tc(taskID string) TaskContext {
	return TaskContext{TaskID: taskID, OrgID: "org-1", DecisionID: "dec-1"}
}

func TestSetStatusTransitionsAndEmits(t *testing.T) {
	repo := newFakeTaskRepo(openTask("t-1"))
	exec, rec, done := newTestExecutor(repo, &fakeUserRepo{}, &fakeNotifier{})

	result := exec.ExecuteAction(context.Background(), &agent.Action{
		Type:   agent.ActionSetStatus,
		Params: map[string]interface{}{"to_status": "IN_PROGRESS"},
	}, tc("t-1"))
	done()

	require.True(t, result.Success)
	assert.Equal(t, "NEW", result.Data["from_status"])
	assert.Equal(t, "IN_PROGRESS", result.Data["to_status"])
	assert.Equal(t, task.StatusInProgress, repo.tasks["t-1"].Status)
	assert.Equal(t, []event.Type{event.TypeTaskStatusChanged}, rec.types())
	assert.Equal(t, []string{"dec-1"}, repo.decisions["t-1"])
}

func TestSetStatusDuplicateIsSilentSuccess(t *testing.T) {
	repo := newFakeTaskRepo(openTask("t-1"))
	exec, rec, done := newTestExecutor(repo, &fakeUserRepo{}, &fakeNotifier{})

	result := exec.ExecuteAction(context.Background(), &agent.Action{
		Type:   agent.ActionSetStatus,
		Params: map[string]interface{}{"to_status": "NEW"},
	}, tc("t-1"))
	done()

	// Re-applying the current status must not produce a from==to event
	// for downstream consumers.
	require.True(t, result.Success)
	assert.Equal(t, true, result.Data["unchanged"])
	assert.Empty(t, rec.types())
}

func TestSetStatusRejectsInvalidTarget(t *testing.T) {
	repo := newFakeTaskRepo(openTask("t-1"))
	exec, _, done := newTestExecutor(repo, &fakeUserRepo{}, &fakeNotifier{})
	defer done()

	result := exec.ExecuteAction(context.Background(), &agent.Action{
		Type:   agent.ActionSetStatus,
		Params: map[string]interface{}{"to_status": "EXPLODED"},
	}, tc("t-1"))

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid target status")
	assert.Equal(t, task.StatusNew, repo.tasks["t-1"].Status)
}

func TestSetStageOnPipelineEmitsItemMoved(t *testing.T) {
	tk := openTask("t-1")
	tk.PipelineKey = "onboarding"
	tk.StageKey = "intake"
	repo := newFakeTaskRepo(tk)
	exec, rec, done := newTestExecutor(repo, &fakeUserRepo{}, &fakeNotifier{})

	result := exec.ExecuteAction(context.Background(), &agent.Action{
		Type:   agent.ActionSetStage,
		Params: map[string]interface{}{"to_stage": "review"},
	}, tc("t-1"))
	done()

	require.True(t, result.Success)
	assert.Equal(t, "review", repo.tasks["t-1"].StageKey)
	assert.ElementsMatch(t, []event.Type{
		event.TypeTaskStageChanged,
		event.TypePipelineItemMoved,
	}, rec.types())
}

func TestAssignStaffLeastBusyTieBreaksFirstSeen(t *testing.T) {
	repo := newFakeTaskRepo(openTask("t-1"))
	repo.openCounts = map[string]int{"u-1": 5, "u-2": 2, "u-3": 2}
	users := &fakeUserRepo{staff: []*entity.User{
		{ID: "u-1", Role: "support"},
		{ID: "u-2", Role: "support"},
		{ID: "u-3", Role: "support"},
	}}
	exec, rec, done := newTestExecutor(repo, users, &fakeNotifier{})

	result := exec.ExecuteAction(context.Background(), &agent.Action{
		Type:   agent.ActionAssignStaff,
		Params: map[string]interface{}{"strategy": "LEAST_BUSY_IN_ROLE", "role": "support"},
	}, tc("t-1"))
	done()

	require.True(t, result.Success)
	assert.Equal(t, "u-2", result.Data["assigned_to"])
	assert.Equal(t, "u-2", repo.tasks["t-1"].AssignedToUserID)
	assert.Equal(t, []event.Type{event.TypeTaskAssigneeChanged}, rec.types())
}

func TestAssignStaffFailsWithNoActiveStaff(t *testing.T) {
	repo := newFakeTaskRepo(openTask("t-1"))
	exec, _, done := newTestExecutor(repo, &fakeUserRepo{}, &fakeNotifier{})
	defer done()

	result := exec.ExecuteAction(context.Background(), &agent.Action{
		Type: agent.ActionAssignStaff,
	}, tc("t-1"))

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "no active staff")
}

func TestTagTaskMergesAddAndRemove(t *testing.T) {
	tk := openTask("t-1")
	tk.Tags = []string{"vip", "old"}
	repo := newFakeTaskRepo(tk)
	exec, rec, done := newTestExecutor(repo, &fakeUserRepo{}, &fakeNotifier{})

	result := exec.ExecuteAction(context.Background(), &agent.Action{
		Type: agent.ActionTagTask,
		Params: map[string]interface{}{
			"add":    []interface{}{"urgent", "vip"},
			"remove": []interface{}{"old"},
		},
	}, tc("t-1"))
	done()

	require.True(t, result.Success)
	assert.Equal(t, []string{"vip", "urgent"}, repo.tasks["t-1"].Tags)
	assert.Equal(t, []event.Type{event.TypeTaskTagged}, rec.types())
}

func TestTagTaskNoChangeEmitsNothing(t *testing.T) {
	tk := openTask("t-1")
	tk.Tags = []string{"vip"}
	repo := newFakeTaskRepo(tk)
	exec, rec, done := newTestExecutor(repo, &fakeUserRepo{}, &fakeNotifier{})

	result := exec.ExecuteAction(context.Background(), &agent.Action{
		Type:   agent.ActionTagTask,
		Params: map[string]interface{}{"add": []interface{}{"vip"}},
	}, tc("t-1"))
	done()

	require.True(t, result.Success)
	assert.Equal(t, true, result.Data["unchanged"])
	assert.Empty(t, rec.types())
}

func TestPingCustomerDeliveryFailureIsNotActionFailure(t *testing.T) {
	repo := newFakeTaskRepo(openTask("t-1"))
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	exec, _, done := newTestExecutor(repo, &fakeUserRepo{}, notifier)
	defer done()

	result := exec.ExecuteAction(context.Background(), &agent.Action{
		Type:   agent.ActionPingCustomer,
		Params: map[string]interface{}{"recipient": "c@example.com", "message": "status update"},
	}, tc("t-1"))

	require.True(t, result.Success)
	assert.Equal(t, false, result.Data["queued"])
	assert.Equal(t, "smtp down", result.Data["delivery_error"])
}

func TestAddInternalNoteAppends(t *testing.T) {
	repo := newFakeTaskRepo(openTask("t-1"))
	exec, rec, done := newTestExecutor(repo, &fakeUserRepo{}, &fakeNotifier{})

	result := exec.ExecuteAction(context.Background(), &agent.Action{
		Type:   agent.ActionAddInternalNote,
		Params: map[string]interface{}{"note": "customer called back"},
	}, tc("t-1"))
	done()

	require.True(t, result.Success)
	require.Len(t, repo.tasks["t-1"].Notes, 1)
	assert.Equal(t, "customer called back", repo.tasks["t-1"].Notes[0].Note)
	assert.Equal(t, BySystem, repo.tasks["t-1"].Notes[0].By)
	assert.Equal(t, []event.Type{event.TypeTaskNoteAdded}, rec.types())
}

func TestEscalateForcesReviewTagsAndRecords(t *testing.T) {
	repo := newFakeTaskRepo(openTask("t-1"))
	exec, rec, done := newTestExecutor(repo, &fakeUserRepo{}, &fakeNotifier{})

	result := exec.ExecuteAction(context.Background(), &agent.Action{
		Type:   agent.ActionEscalate,
		Params: map[string]interface{}{"reason": "repeated SLA breach", "target_role": "manager"},
	}, tc("t-1"))
	done()

	require.True(t, result.Success)
	tk := repo.tasks["t-1"]
	assert.Equal(t, task.StatusNeedsReview, tk.Status)
	assert.Contains(t, tk.Tags, "escalated")
	require.NotNil(t, tk.Escalation)
	assert.Equal(t, "repeated SLA breach", tk.Escalation.Reason)
	assert.ElementsMatch(t, []event.Type{
		event.TypeTaskStatusChanged,
		event.TypeTaskEscalated,
	}, rec.types())
}

func TestOverriddenTaskDegradesToNoOp(t *testing.T) {
	tk := openTask("t-1")
	tk.Override = task.Override{Overridden: true, By: "alice"}
	repo := newFakeTaskRepo(tk)
	exec, rec, done := newTestExecutor(repo, &fakeUserRepo{}, &fakeNotifier{})

	result := exec.ExecuteAction(context.Background(), &agent.Action{
		Type:   agent.ActionSetStatus,
		Params: map[string]interface{}{"to_status": "DONE"},
	}, tc("t-1"))
	done()

	require.True(t, result.Success)
	assert.Equal(t, agent.ActionNoOp, result.ActionType)
	assert.Equal(t, true, result.Data["noop"])
	assert.Equal(t, "SET_STATUS", result.Data["requested"])
	assert.Equal(t, task.StatusNew, repo.tasks["t-1"].Status)
	assert.Empty(t, rec.types())
}

func TestDryRunSkipsAllMutations(t *testing.T) {
	repo := newFakeTaskRepo(openTask("t-1"))
	exec, rec, done := newTestExecutor(repo, &fakeUserRepo{}, &fakeNotifier{})

	ctx := TaskContext{TaskID: "t-1", OrgID: "org-1", DryRun: true}
	result := exec.ExecuteAction(context.Background(), &agent.Action{
		Type:   agent.ActionSetStatus,
		Params: map[string]interface{}{"to_status": "DONE"},
	}, ctx)
	done()

	require.True(t, result.Success)
	assert.Equal(t, true, result.Data["dryRun"])
	assert.Equal(t, task.StatusNew, repo.tasks["t-1"].Status)
	assert.Empty(t, rec.types())
}

func TestDryRunStillValidatesActions(t *testing.T) {
	repo := newFakeTaskRepo(openTask("t-1"))
	exec, rec, done := newTestExecutor(repo, &fakeUserRepo{}, &fakeNotifier{})

	dry := TaskContext{TaskID: "t-1", OrgID: "org-1", DryRun: true}
	tests := []struct {
		name    string
		action  *agent.Action
		wantErr string
	}{
		{
			name:    "unknown action type",
			action:  &agent.Action{Type: agent.ActionType("BOGUS_TYPE")},
			wantErr: "unknown task action type: BOGUS_TYPE",
		},
		{
			name: "invalid status target",
			action: &agent.Action{
				Type:   agent.ActionSetStatus,
				Params: map[string]interface{}{"to_status": "EXPLODED"},
			},
			wantErr: "invalid target status",
		},
		{
			name:    "missing stage param",
			action:  &agent.Action{Type: agent.ActionSetStage},
			wantErr: "set_stage requires to_stage param",
		},
		{
			name: "unknown assignment strategy",
			action: &agent.Action{
				Type:   agent.ActionAssignStaff,
				Params: map[string]interface{}{"strategy": "COIN_FLIP"},
			},
			wantErr: "unknown assignment strategy",
		},
		{
			name:    "missing note param",
			action:  &agent.Action{Type: agent.ActionAddInternalNote},
			wantErr: "add_internal_note requires note param",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := exec.ExecuteAction(context.Background(), tt.action, dry)
			require.False(t, result.Success)
			assert.Contains(t, result.Error, tt.wantErr)
		})
	}
	done()

	// Validation failures are report-only: no mutations, no events.
	assert.Equal(t, task.StatusNew, repo.tasks["t-1"].Status)
	assert.Empty(t, rec.types())
}

func TestExecuteActionsStopsAtFirstFailure(t *testing.T) {
	repo := newFakeTaskRepo(openTask("t-1"))
	exec, _, done := newTestExecutor(repo, &fakeUserRepo{}, &fakeNotifier{})
	defer done()

	results := exec.ExecuteActions(context.Background(), []*agent.Action{
		{Type: agent.ActionSetStatus, Params: map[string]interface{}{"to_status": "IN_PROGRESS"}},
		{Type: agent.ActionSetStage},
		{Type: agent.ActionAddInternalNote, Params: map[string]interface{}{"note": "unreachable"}},
	}, tc("t-1"))

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
}

func TestMergeTags(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		add      []string
		remove   []string
		want     []string
	}{
		{
			name:     "union then subtract",
			existing: []string{"vip"},
			add:      []string{"urgent", "vip"},
			remove:   []string{"old"},
			want:     []string{"vip", "urgent"},
		},
		{
			name:     "remove wins over add",
			existing: []string{"a"},
			add:      []string{"b"},
			remove:   []string{"b"},
			want:     []string{"a"},
		},
		{
			name:     "dedupes existing",
			existing: []string{"a", "a", "b"},
			add:      nil,
			remove:   nil,
			want:     []string{"a", "b"},
		},
		{
			name:     "empty inputs",
			existing: nil,
			add:      nil,
			remove:   nil,
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeTags(tt.existing, tt.add, tt.remove))
		})
	}
}
