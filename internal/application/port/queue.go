package port

import (
	"context"
	"time"
)

// Job types dispatched through the work queue
const (
	JobProcessInput    = "process_input"
	JobTaskActions     = "task_actions"
	JobSLACheckTask    = "sla_check_task"
	JobDeliverReminder = "deliver_reminder"
	JobAggregateStats  = "aggregate_stats"
)

// Job status constants
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// Job is one unit of queued work. Delivery is at-least-once: consumers
// must be idempotent or check current state before mutating.
type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Payload     string    `json:"payload"`
	Priority    int       `json:"priority"`
	DedupKey    string    `json:"dedup_key,omitempty"`
	RunAt       time.Time `json:"run_at"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Status      string    `json:"status"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EnqueueOptions tunes job dispatch
type EnqueueOptions struct {
	Priority    int
	Delay       time.Duration
	DedupKey    string
	MaxAttempts int
}

// JobQueue is the external at-least-once job dispatch facility. A dedup
// key collapses concurrent enqueues of the same logical job; it does not
// prevent duplicate delivery.
type JobQueue interface {
	// Enqueue pushes a job; returns the job id. Enqueueing with a dedup
	// key already pending is a silent no-op returning the existing id.
	Enqueue(ctx context.Context, jobType string, payload string, opts EnqueueOptions) (string, error)

	// Claim atomically claims up to limit due jobs for processing
	Claim(ctx context.Context, limit int) ([]*Job, error)

	// Complete marks a claimed job as done
	Complete(ctx context.Context, jobID string) error

	// Fail records a failure; the job is retried after retryIn unless its
	// attempt budget is exhausted, in which case it is marked FAILED
	Fail(ctx context.Context, jobID string, errMsg string, retryIn time.Duration) error
}
