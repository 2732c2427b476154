package scheduler

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
	"github.com/dmarshall/agent-orchestrator/internal/domain/entity"
	"github.com/dmarshall/agent-orchestrator/internal/domain/event"
	"github.com/dmarshall/agent-orchestrator/internal/domain/task"
)

// fakeQueue records enqueued jobs and honors dedup keys
type fakeQueue struct {
	mu   sync.Mutex
	jobs []queuedJob
	seen map[string]string
}

type queuedJob struct {
	jobType string
	payload string
	opts    port.EnqueueOptions
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{seen: make(map[string]string)}
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobType string, payload string, opts port.EnqueueOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if opts.DedupKey != "" {
		if id, ok := q.seen[opts.DedupKey]; ok {
			return id, nil
		}
	}
	id := fmt.Sprintf("job-%d", len(q.jobs)+1)
	q.jobs = append(q.jobs, queuedJob{jobType: jobType, payload: payload, opts: opts})
	if opts.DedupKey != "" {
		q.seen[opts.DedupKey] = id
	}
	return id, nil
}

func (q *fakeQueue) Claim(ctx context.Context, limit int) ([]*port.Job, error) {
	return nil, nil
}

func (q *fakeQueue) Complete(ctx context.Context, jobID string) error { return nil }

func (q *fakeQueue) Fail(ctx context.Context, jobID string, errMsg string, retryIn time.Duration) error {
	return nil
}

// fakeSweepTasks serves only the sweep-facing parts of TaskRepository
type fakeSweepTasks struct {
	pastSLA  []*task.Instance
	stale    []*task.Instance
	orgIDs   []string
	attempts map[string]int

	mu       sync.Mutex
	statuses map[string]task.Status
	notes    map[string][]task.Note
}

func newFakeSweepTasks() *fakeSweepTasks {
	return &fakeSweepTasks{
		attempts: make(map[string]int),
		statuses: make(map[string]task.Status),
		notes:    make(map[string][]task.Note),
	}
}

func (r *fakeSweepTasks) GetByID(ctx context.Context, taskID, orgID string) (*task.Instance, error) {
	return nil, fmt.Errorf("task %s not found", taskID)
}
func (r *fakeSweepTasks) Create(ctx context.Context, t *task.Instance) error { return nil }
func (r *fakeSweepTasks) UpdateStatus(ctx context.Context, taskID, orgID string, status task.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[taskID] = status
	return nil
}
func (r *fakeSweepTasks) UpdateStage(ctx context.Context, taskID, orgID string, stageKey string) error {
	return nil
}
func (r *fakeSweepTasks) AssignPipeline(ctx context.Context, taskID, orgID string, pipelineKey, stageKey string) error {
	return nil
}
func (r *fakeSweepTasks) UpdateAssignee(ctx context.Context, taskID, orgID string, userID string) error {
	return nil
}
func (r *fakeSweepTasks) UpdateTags(ctx context.Context, taskID, orgID string, tags []string) error {
	return nil
}
func (r *fakeSweepTasks) AppendNote(ctx context.Context, taskID, orgID string, note task.Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes[taskID] = append(r.notes[taskID], note)
	return nil
}
func (r *fakeSweepTasks) SetEscalation(ctx context.Context, taskID, orgID string, esc *task.Escalation) error {
	return nil
}
func (r *fakeSweepTasks) RecordAgentDecision(ctx context.Context, taskID, orgID string, decisionID string) error {
	return nil
}
func (r *fakeSweepTasks) IncrementRetryAttempts(ctx context.Context, taskID, orgID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[taskID]++
	return r.attempts[taskID], nil
}
func (r *fakeSweepTasks) CountOpenByAssignee(ctx context.Context, orgID string, userIDs []string) (map[string]int, error) {
	return nil, nil
}
func (r *fakeSweepTasks) CountByStatus(ctx context.Context, orgID string) (map[task.Status]int, error) {
	return nil, nil
}
func (r *fakeSweepTasks) ListPastSLA(ctx context.Context, now time.Time, limit int) ([]*task.Instance, error) {
	return r.pastSLA, nil
}
func (r *fakeSweepTasks) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*task.Instance, error) {
	return r.stale, nil
}
func (r *fakeSweepTasks) ListOrgIDs(ctx context.Context) ([]string, error) {
	return r.orgIDs, nil
}

type fakeReminders struct {
	due []*entity.Reminder

	mu       sync.Mutex
	statuses map[string]string
}

func newFakeReminders(due ...*entity.Reminder) *fakeReminders {
	return &fakeReminders{due: due, statuses: make(map[string]string)}
}

func (r *fakeReminders) Create(ctx context.Context, rem *entity.Reminder) error { return nil }
func (r *fakeReminders) ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.Reminder, error) {
	return r.due, nil
}
func (r *fakeReminders) UpdateStatus(ctx context.Context, id string, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = status
	return nil
}

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

func (r *eventRecorder) ofType(t event.Type) []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*event.Event
	for _, evt := range r.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

func newTestScheduler(tasks *fakeSweepTasks, reminders *fakeReminders, queue *fakeQueue) (*Scheduler, *eventRecorder, func()) {
	rec := &eventRecorder{}
	bus := dispatcher.New()
	bus.On(event.TypeAny, rec.record)

	s := New(DefaultConfig(), tasks, reminders, queue, bus, zap.NewNop())
	s.ctx = context.Background()
	return s, rec, func() { _ = bus.Close() }
}

func staleTask(id string, attempts int) *task.Instance {
	return &task.Instance{
		ID:            id,
		OrgID:         "org-1",
		Title:         "Quiet task",
		Status:        task.StatusInProgress,
		RetryAttempts: attempts,
	}
}

func TestSweepSLAEnqueuesOneCheckPerTask(t *testing.T) {
	deadline := time.Now().Add(-time.Hour)
	tasks := newFakeSweepTasks()
	tasks.pastSLA = []*task.Instance{
		{ID: "t-1", OrgID: "org-1", Status: task.StatusNew, SLADeadline: &deadline},
		{ID: "t-2", OrgID: "org-1", Status: task.StatusInProgress, SLADeadline: &deadline},
	}
	queue := newFakeQueue()
	s, rec, done := newTestScheduler(tasks, newFakeReminders(), queue)

	require.NoError(t, s.sweepSLA(context.Background()))
	done()

	require.Len(t, queue.jobs, 2)
	assert.Equal(t, port.JobSLACheckTask, queue.jobs[0].jobType)
	assert.Equal(t, "sla:org-1:t-1", queue.jobs[0].opts.DedupKey)
	assert.Len(t, rec.ofType(event.TypeSLABreachDetected), 2)
}

func TestSweepSLADedupAcrossRuns(t *testing.T) {
	deadline := time.Now().Add(-time.Hour)
	tasks := newFakeSweepTasks()
	tasks.pastSLA = []*task.Instance{
		{ID: "t-1", OrgID: "org-1", Status: task.StatusNew, SLADeadline: &deadline},
	}
	queue := newFakeQueue()
	s, _, done := newTestScheduler(tasks, newFakeReminders(), queue)
	defer done()

	require.NoError(t, s.sweepSLA(context.Background()))
	require.NoError(t, s.sweepSLA(context.Background()))

	// The dedup key collapses the second sweep's enqueue.
	assert.Len(t, queue.jobs, 1)
}

func TestSweepRemindersQueuesAndMarks(t *testing.T) {
	reminders := newFakeReminders(&entity.Reminder{
		ID:      "r-1",
		OrgID:   "org-1",
		TaskID:  "t-1",
		Message: "follow up",
		DueAt:   time.Now().Add(-time.Minute),
		Status:  entity.ReminderStatusPending,
	})
	queue := newFakeQueue()
	s, rec, done := newTestScheduler(newFakeSweepTasks(), reminders, queue)

	require.NoError(t, s.sweepReminders(context.Background()))
	done()

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, port.JobDeliverReminder, queue.jobs[0].jobType)
	assert.Equal(t, "reminder:r-1", queue.jobs[0].opts.DedupKey)
	assert.Equal(t, entity.ReminderStatusQueued, reminders.statuses["r-1"])
	assert.Len(t, rec.ofType(event.TypeReminderDue), 1)
}

func TestSweepStatsEnqueuesPerOrg(t *testing.T) {
	tasks := newFakeSweepTasks()
	tasks.orgIDs = []string{"org-1", "org-2"}
	queue := newFakeQueue()
	s, _, done := newTestScheduler(tasks, newFakeReminders(), queue)
	defer done()

	require.NoError(t, s.sweepStats(context.Background()))

	require.Len(t, queue.jobs, 2)
	assert.Equal(t, port.JobAggregateStats, queue.jobs[0].jobType)
	assert.Equal(t, "stats:org-1", queue.jobs[0].opts.DedupKey)
	assert.Equal(t, "stats:org-2", queue.jobs[1].opts.DedupKey)
}

func TestSweepStaleNudgesWithinBudget(t *testing.T) {
	tasks := newFakeSweepTasks()
	tasks.stale = []*task.Instance{staleTask("t-1", 0)}
	queue := newFakeQueue()
	s, rec, done := newTestScheduler(tasks, newFakeReminders(), queue)

	require.NoError(t, s.sweepStale(context.Background()))
	done()

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, port.JobProcessInput, queue.jobs[0].jobType)
	assert.Equal(t, "stale:org-1:t-1", queue.jobs[0].opts.DedupKey)
	assert.Contains(t, queue.jobs[0].payload, "stale_task")
	assert.Empty(t, rec.ofType(event.TypeTaskMarkedStale))
	assert.Empty(t, tasks.statuses)
}

func TestSweepStaleCancelsPastBudget(t *testing.T) {
	tasks := newFakeSweepTasks()
	tasks.stale = []*task.Instance{staleTask("t-1", 0)}
	tasks.attempts["t-1"] = 3
	queue := newFakeQueue()
	s, rec, done := newTestScheduler(tasks, newFakeReminders(), queue)

	require.NoError(t, s.sweepStale(context.Background()))
	done()

	assert.Empty(t, queue.jobs)
	assert.Equal(t, task.StatusCancelled, tasks.statuses["t-1"])
	require.Len(t, tasks.notes["t-1"], 1)
	assert.Contains(t, tasks.notes["t-1"][0].Note, "Cancelled after 3 automatic retries")
	assert.Equal(t, "SYSTEM", tasks.notes["t-1"][0].By)
	assert.Len(t, rec.ofType(event.TypeTaskMarkedStale), 1)
}

func TestRunSweepReportsFailure(t *testing.T) {
	queue := newFakeQueue()
	s, rec, done := newTestScheduler(newFakeSweepTasks(), newFakeReminders(), queue)

	s.runSweep("broken_sweep", func(ctx context.Context) error {
		return errors.New("listing failed")
	})
	done()

	completed := rec.ofType(event.TypeSweepCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "broken_sweep", completed[0].GetPayloadString("sweep"))
	assert.Equal(t, "FAILED", completed[0].GetPayloadString("state"))
}

func TestRunSweepReportsSuccess(t *testing.T) {
	queue := newFakeQueue()
	s, rec, done := newTestScheduler(newFakeSweepTasks(), newFakeReminders(), queue)

	s.runSweep("noop_sweep", func(ctx context.Context) error { return nil })
	done()

	completed := rec.ofType(event.TypeSweepCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "COMPLETED", completed[0].GetPayloadString("state"))
}
