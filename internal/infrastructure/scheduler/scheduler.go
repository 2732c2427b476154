package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dmarshall/agent-orchestrator/internal/application/dispatcher"
	"github.com/dmarshall/agent-orchestrator/internal/application/port"
	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
	"github.com/dmarshall/agent-orchestrator/internal/domain/entity"
	"github.com/dmarshall/agent-orchestrator/internal/domain/event"
	"github.com/dmarshall/agent-orchestrator/internal/domain/task"
	"github.com/dmarshall/agent-orchestrator/internal/domain/workflow"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Config holds the sweep schedules and limits
type Config struct {
	SLASchedule      string
	ReminderSchedule string
	StatsSchedule    string
	StaleSchedule    string

	StaleAfter      time.Duration
	MaxStaleRetries int
	BatchSize       int
	SweepTimeout    time.Duration
}

// DefaultConfig returns the default sweep configuration
func DefaultConfig() Config {
	return Config{
		SLASchedule:      "@every 15m",
		ReminderSchedule: "@every 1m",
		StatsSchedule:    "@every 15m",
		StaleSchedule:    "@every 1h",
		StaleAfter:       72 * time.Hour,
		MaxStaleRetries:  3,
		BatchSize:        100,
		SweepTimeout:     60 * time.Second,
	}
}

// Scheduler runs the periodic sweeps on a cron runner. Sweeps only
// observe state and enqueue follow-up jobs; all mutation happens in the
// queue consumers, so an overlapping or repeated sweep is harmless.
type Scheduler struct {
	config Config

	cron      *cron.Cron
	tasks     port.TaskRepository
	reminders port.ReminderRepository
	queue     port.JobQueue
	bus       dispatcher.Dispatcher
	logger    *zap.Logger

	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
}

// New creates a scheduler with the given sweep configuration
func New(
	config Config,
	tasks port.TaskRepository,
	reminders port.ReminderRepository,
	queue port.JobQueue,
	bus dispatcher.Dispatcher,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		config:    config,
		cron:      cron.New(),
		tasks:     tasks,
		reminders: reminders,
		queue:     queue,
		bus:       bus,
		logger:    logger,
	}
}

// Start registers the sweeps and starts the cron runner
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true
	s.mu.Unlock()

	sweeps := []struct {
		name     string
		schedule string
		fn       func(ctx context.Context) error
	}{
		{"sla_monitor", s.config.SLASchedule, s.sweepSLA},
		{"reminder_scan", s.config.ReminderSchedule, s.sweepReminders},
		{"stats_aggregator", s.config.StatsSchedule, s.sweepStats},
		{"stale_cleanup", s.config.StaleSchedule, s.sweepStale},
	}

	for _, sweep := range sweeps {
		sweep := sweep
		_, err := s.cron.AddFunc(sweep.schedule, func() {
			s.runSweep(sweep.name, sweep.fn)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", sweep.name, err)
		}
		s.logger.Info("Sweep scheduled",
			zap.String("sweep", sweep.name),
			zap.String("schedule", sweep.schedule))
	}

	s.cron.Start()
	s.logger.Info("Scheduler started")
	return nil
}

// Stop stops the cron runner and waits for in-flight sweeps
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.logger.Info("Scheduler stopped")
	return nil
}

// Name returns the worker name for identification
func (s *Scheduler) Name() string {
	return "Scheduler"
}

// runSweep drives one sweep run through its state machine and records
// the outcome
func (s *Scheduler) runSweep(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.SweepTimeout)
	defer cancel()

	machine := workflow.NewRunMachine()
	if err := machine.Fire(ctx, workflow.TriggerStart); err != nil {
		s.logger.Error("Failed to start sweep run",
			zap.String("sweep", name),
			zap.Error(err))
		return
	}

	started := time.Now()
	err := fn(ctx)

	if err != nil {
		_ = machine.Fire(ctx, workflow.TriggerFail)
		s.logger.Error("Sweep failed",
			zap.String("sweep", name),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
	} else {
		_ = machine.Fire(ctx, workflow.TriggerComplete)
		s.logger.Info("Sweep completed",
			zap.String("sweep", name),
			zap.Duration("elapsed", time.Since(started)))
	}

	s.bus.Emit(ctx, event.New(event.TypeSweepCompleted, map[string]interface{}{
		"sweep":       name,
		"state":       string(machine.State()),
		"duration_ms": time.Since(started).Milliseconds(),
	}))
}

// sweepSLA finds open tasks past their SLA deadline and queues a check
// per task. The dedup key keeps one pending check per task no matter how
// often the sweep fires.
func (s *Scheduler) sweepSLA(ctx context.Context) error {
	breached, err := s.tasks.ListPastSLA(ctx, time.Now(), s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list tasks past SLA: %w", err)
	}

	for _, t := range breached {
		deadline := ""
		if t.SLADeadline != nil {
			deadline = t.SLADeadline.Format(time.RFC3339)
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"task_id":      t.ID,
			"org_id":       t.OrgID,
			"sla_deadline": deadline,
		})

		_, err := s.queue.Enqueue(ctx, port.JobSLACheckTask, string(payload), port.EnqueueOptions{
			Priority: 3,
			DedupKey: "sla:" + t.OrgID + ":" + t.ID,
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue SLA check for task %s: %w", t.ID, err)
		}

		s.bus.Emit(ctx, event.NewForTask(event.TypeSLABreachDetected, t.ID, t.OrgID, map[string]interface{}{
			"sla_deadline": deadline,
			"status":       string(t.Status),
		}))
	}

	if len(breached) > 0 {
		s.logger.Info("SLA breaches detected", zap.Int("count", len(breached)))
	}
	return nil
}

// sweepReminders queues delivery for due reminders and marks them
// QUEUED so the next scan skips them
func (s *Scheduler) sweepReminders(ctx context.Context) error {
	due, err := s.reminders.ListDue(ctx, time.Now(), s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list due reminders: %w", err)
	}

	for _, rem := range due {
		payload, _ := json.Marshal(map[string]interface{}{
			"reminder_id": rem.ID,
			"task_id":     rem.TaskID,
			"org_id":      rem.OrgID,
			"message":     rem.Message,
		})

		_, err := s.queue.Enqueue(ctx, port.JobDeliverReminder, string(payload), port.EnqueueOptions{
			Priority: 2,
			DedupKey: "reminder:" + rem.ID,
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue reminder %s: %w", rem.ID, err)
		}

		if err := s.reminders.UpdateStatus(ctx, rem.ID, entity.ReminderStatusQueued); err != nil {
			return fmt.Errorf("failed to mark reminder queued: %w", err)
		}

		s.bus.Emit(ctx, event.NewForTask(event.TypeReminderDue, rem.TaskID, rem.OrgID, map[string]interface{}{
			"reminder_id": rem.ID,
		}))
	}

	if len(due) > 0 {
		s.logger.Info("Reminders queued for delivery", zap.Int("count", len(due)))
	}
	return nil
}

// sweepStats queues one aggregation job per org
func (s *Scheduler) sweepStats(ctx context.Context) error {
	orgIDs, err := s.tasks.ListOrgIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list org ids: %w", err)
	}

	for _, orgID := range orgIDs {
		payload, _ := json.Marshal(map[string]interface{}{"org_id": orgID})
		_, err := s.queue.Enqueue(ctx, port.JobAggregateStats, string(payload), port.EnqueueOptions{
			DedupKey: "stats:" + orgID,
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue stats for org %s: %w", orgID, err)
		}
	}
	return nil
}

// sweepStale nudges open tasks that have gone quiet. Each stale hit
// burns one retry attempt; once the budget is spent the task is
// cancelled with a note instead of being retried forever.
func (s *Scheduler) sweepStale(ctx context.Context) error {
	cutoff := time.Now().Add(-s.config.StaleAfter)
	stale, err := s.tasks.ListStale(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list stale tasks: %w", err)
	}

	for _, t := range stale {
		attempts, err := s.tasks.IncrementRetryAttempts(ctx, t.ID, t.OrgID)
		if err != nil {
			return err
		}

		if attempts > s.config.MaxStaleRetries {
			if err := s.cancelStaleTask(ctx, t, attempts); err != nil {
				return err
			}
			continue
		}

		input := &agent.Input{
			Source: agent.SourceWorker,
			Type:   "stale_task",
			StructuredData: map[string]interface{}{
				"task_id":    t.ID,
				"task_title": t.Title,
				"status":     string(t.Status),
				"assignee":   t.AssignedToUserID,
				"attempt":    attempts,
			},
			Timestamp: time.Now(),
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"input":  input,
			"org_id": t.OrgID,
		})

		_, err = s.queue.Enqueue(ctx, port.JobProcessInput, string(payload), port.EnqueueOptions{
			DedupKey: "stale:" + t.OrgID + ":" + t.ID,
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue stale nudge for task %s: %w", t.ID, err)
		}
	}

	if len(stale) > 0 {
		s.logger.Info("Stale tasks swept", zap.Int("count", len(stale)))
	}
	return nil
}

// cancelStaleTask closes out a task whose retry budget is exhausted
func (s *Scheduler) cancelStaleTask(ctx context.Context, t *task.Instance, attempts int) error {
	if err := s.tasks.UpdateStatus(ctx, t.ID, t.OrgID, task.StatusCancelled); err != nil {
		return fmt.Errorf("failed to cancel stale task %s: %w", t.ID, err)
	}

	note := task.Note{
		Note:      fmt.Sprintf("Cancelled after %d automatic retries without activity", attempts-1),
		Timestamp: time.Now(),
		By:        "SYSTEM",
	}
	if err := s.tasks.AppendNote(ctx, t.ID, t.OrgID, note); err != nil {
		return fmt.Errorf("failed to note stale cancellation: %w", err)
	}

	s.bus.Emit(ctx, event.NewForTask(event.TypeTaskMarkedStale, t.ID, t.OrgID, map[string]interface{}{
		"from":     string(t.Status),
		"to":       string(task.StatusCancelled),
		"attempts": attempts,
		"reason":   "retry budget exhausted",
	}))

	s.logger.Warn("Stale task cancelled",
		zap.String("task_id", t.ID),
		zap.Int("attempts", attempts))
	return nil
}
