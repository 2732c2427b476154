package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dmarshall/agent-orchestrator/internal/application/dispatcher"
	"github.com/dmarshall/agent-orchestrator/internal/application/port"
	"github.com/dmarshall/agent-orchestrator/internal/application/service"
	"github.com/dmarshall/agent-orchestrator/internal/application/taskexec"
	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
	"github.com/dmarshall/agent-orchestrator/internal/domain/entity"
	"github.com/dmarshall/agent-orchestrator/internal/domain/event"
	"go.uber.org/zap"
)

// JobWorkerConfig holds configuration for the job worker
type JobWorkerConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	ProcessTimeout time.Duration
	RetryDelay     time.Duration
}

// DefaultJobWorkerConfig returns default configuration
func DefaultJobWorkerConfig() JobWorkerConfig {
	return JobWorkerConfig{
		PollInterval:   5 * time.Second,
		BatchSize:      10,
		ProcessTimeout: 120 * time.Second,
		RetryDelay:     30 * time.Second,
	}
}

// ProcessInputPayload is the wire form of a process_input job
type ProcessInputPayload struct {
	Input *agent.Input `json:"input"`
	OrgID string       `json:"org_id"`
}

// TaskActionsPayload is the wire form of a task_actions job
type TaskActionsPayload struct {
	TaskID     string          `json:"task_id"`
	OrgID      string          `json:"org_id"`
	DecisionID string          `json:"decision_id,omitempty"`
	DryRun     bool            `json:"dry_run,omitempty"`
	Actions    []*agent.Action `json:"actions"`
}

// SLACheckPayload is the wire form of an sla_check_task job
type SLACheckPayload struct {
	TaskID      string `json:"task_id"`
	OrgID       string `json:"org_id"`
	SLADeadline string `json:"sla_deadline,omitempty"`
}

// ReminderPayload is the wire form of a deliver_reminder job
type ReminderPayload struct {
	ReminderID string `json:"reminder_id"`
	TaskID     string `json:"task_id"`
	OrgID      string `json:"org_id"`
	Message    string `json:"message"`
}

// StatsPayload is the wire form of an aggregate_stats job
type StatsPayload struct {
	OrgID string `json:"org_id"`
}

// JobWorker drains the work queue and dispatches each job to the
// matching pipeline. Delivery is at-least-once; every handler is
// idempotent or checks current state before mutating.
type JobWorker struct {
	config JobWorkerConfig

	queue     port.JobQueue
	agents    service.AgentService
	taskExec  *taskexec.Executor
	tasks     port.TaskRepository
	reminders port.ReminderRepository
	bus       dispatcher.Dispatcher
	logger    *zap.Logger

	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	isRunning      bool
	processedCount int
	failedCount    int
}

// NewJobWorker creates a new job worker
func NewJobWorker(
	config JobWorkerConfig,
	queue port.JobQueue,
	agents service.AgentService,
	taskExec *taskexec.Executor,
	tasks port.TaskRepository,
	reminders port.ReminderRepository,
	bus dispatcher.Dispatcher,
	logger *zap.Logger,
) *JobWorker {
	return &JobWorker{
		config:    config,
		queue:     queue,
		agents:    agents,
		taskExec:  taskExec,
		tasks:     tasks,
		reminders: reminders,
		bus:       bus,
		logger:    logger,
	}
}

// Start begins the worker polling loop
func (w *JobWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("job worker already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("JobWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop()

	return nil
}

// Stop gracefully terminates the worker
func (w *JobWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}

	w.isRunning = false
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}

	w.logger.Info("JobWorker stopped",
		zap.Int("processed_count", w.processedCount),
		zap.Int("failed_count", w.failedCount))

	return nil
}

// Name returns the worker name for identification
func (w *JobWorker) Name() string {
	return "JobWorker"
}

// pollLoop runs the main polling loop in background
func (w *JobWorker) pollLoop() {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("Poll loop context cancelled")
			return

		case <-ticker.C:
			if err := w.drainOnce(); err != nil {
				w.logger.Error("Failed to drain job queue", zap.Error(err))
			}
		}
	}
}

// drainOnce claims and processes one batch of due jobs
func (w *JobWorker) drainOnce() error {
	jobs, err := w.queue.Claim(w.ctx, w.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim jobs: %w", err)
	}

	for _, job := range jobs {
		w.processJob(job)
	}
	return nil
}

// processJob runs one job with a timeout and settles it on the queue
func (w *JobWorker) processJob(job *port.Job) {
	ctx, cancel := context.WithTimeout(w.ctx, w.config.ProcessTimeout)
	defer cancel()

	w.logger.Info("Processing job",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempts))

	err := w.dispatch(ctx, job)

	w.mu.Lock()
	if err != nil {
		w.failedCount++
	} else {
		w.processedCount++
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Job failed",
			zap.String("job_id", job.ID),
			zap.String("job_type", job.Type),
			zap.Error(err))
		if failErr := w.queue.Fail(ctx, job.ID, err.Error(), w.config.RetryDelay); failErr != nil {
			w.logger.Error("Failed to settle failed job", zap.Error(failErr))
		}
		return
	}

	if err := w.queue.Complete(ctx, job.ID); err != nil {
		w.logger.Error("Failed to complete job",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
}

// dispatch routes a job to its handler by type
func (w *JobWorker) dispatch(ctx context.Context, job *port.Job) error {
	switch job.Type {
	case port.JobProcessInput:
		return w.handleProcessInput(ctx, job)
	case port.JobTaskActions:
		return w.handleTaskActions(ctx, job)
	case port.JobSLACheckTask:
		return w.handleSLACheck(ctx, job)
	case port.JobDeliverReminder:
		return w.handleDeliverReminder(ctx, job)
	case port.JobAggregateStats:
		return w.handleAggregateStats(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (w *JobWorker) handleProcessInput(ctx context.Context, job *port.Job) error {
	var payload ProcessInputPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("malformed process_input payload: %w", err)
	}
	if payload.Input == nil {
		return fmt.Errorf("process_input payload missing input")
	}

	_, _, err := w.agents.ProcessInput(ctx, payload.Input, payload.OrgID)
	return err
}

func (w *JobWorker) handleTaskActions(ctx context.Context, job *port.Job) error {
	var payload TaskActionsPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("malformed task_actions payload: %w", err)
	}

	results := w.taskExec.ExecuteActions(ctx, payload.Actions, taskexec.TaskContext{
		TaskID:     payload.TaskID,
		OrgID:      payload.OrgID,
		DecisionID: payload.DecisionID,
		DryRun:     payload.DryRun,
	})

	for _, res := range results {
		if !res.Success {
			return fmt.Errorf("task action %s failed: %s", res.ActionType, res.Error)
		}
	}
	return nil
}

// handleSLACheck routes an SLA breach through the decision pipeline so
// the agent decides how to react (escalate, reassign, notify)
func (w *JobWorker) handleSLACheck(ctx context.Context, job *port.Job) error {
	var payload SLACheckPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("malformed sla_check_task payload: %w", err)
	}

	t, err := w.tasks.GetByID(ctx, payload.TaskID, payload.OrgID)
	if err != nil {
		return err
	}
	if !t.Status.IsOpen() {
		// Breach resolved between sweep and processing
		w.logger.Debug("Skipping SLA check for closed task",
			zap.String("task_id", payload.TaskID))
		return nil
	}

	input := &agent.Input{
		Source: agent.SourceWorker,
		Type:   "sla_breach",
		StructuredData: map[string]interface{}{
			"task_id":      t.ID,
			"task_title":   t.Title,
			"status":       string(t.Status),
			"assignee":     t.AssignedToUserID,
			"sla_deadline": payload.SLADeadline,
		},
		Timestamp: time.Now(),
	}

	_, _, err = w.agents.ProcessInput(ctx, input, payload.OrgID)
	return err
}

func (w *JobWorker) handleDeliverReminder(ctx context.Context, job *port.Job) error {
	var payload ReminderPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("malformed deliver_reminder payload: %w", err)
	}

	res := w.taskExec.ExecuteAction(ctx, &agent.Action{
		Type: agent.ActionPingCustomer,
		Params: map[string]interface{}{
			"message": payload.Message,
		},
	}, taskexec.TaskContext{
		TaskID: payload.TaskID,
		OrgID:  payload.OrgID,
	})
	if !res.Success {
		return fmt.Errorf("reminder delivery failed: %s", res.Error)
	}

	return w.reminders.UpdateStatus(ctx, payload.ReminderID, entity.ReminderStatusDelivered)
}

func (w *JobWorker) handleAggregateStats(ctx context.Context, job *port.Job) error {
	var payload StatsPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("malformed aggregate_stats payload: %w", err)
	}

	counts, err := w.tasks.CountByStatus(ctx, payload.OrgID)
	if err != nil {
		return err
	}

	byStatus := make(map[string]interface{}, len(counts))
	for status, count := range counts {
		byStatus[string(status)] = count
	}

	if w.bus != nil {
		w.bus.Emit(ctx, event.New(event.TypeStatsAggregated, map[string]interface{}{
			"org_id":    payload.OrgID,
			"by_status": byStatus,
		}))
	}

	w.logger.Info("Task stats aggregated",
		zap.String("org_id", payload.OrgID),
		zap.Int("statuses", len(counts)))
	return nil
}
