package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmarshall/agent-orchestrator/internal/application/port"
	"github.com/dmarshall/agent-orchestrator/internal/infrastructure/persistence/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobQueue implements port.JobQueue on SQLite. Claiming marks jobs
// RUNNING inside one transaction, which gives at-least-once delivery
// with a single consumer process; a crashed consumer's jobs are
// reclaimed once their claim expires.
type JobQueue struct {
	db         *sql.DB
	tx         port.TransactionManager
	claimTTL   time.Duration
	defaultMax int
	logger     *zap.Logger
}

// NewJobQueue creates a new SQLite-backed job queue. claimTTL bounds
// how long a RUNNING job stays invisible before it is reclaimed.
func NewJobQueue(db *sql.DB, tx port.TransactionManager, claimTTL time.Duration, logger *zap.Logger) *JobQueue {
	if claimTTL <= 0 {
		claimTTL = 5 * time.Minute
	}
	return &JobQueue{
		db:         db,
		tx:         tx,
		claimTTL:   claimTTL,
		defaultMax: 3,
		logger:     logger,
	}
}

// Enqueue pushes a job; returns the job id. Enqueueing with a dedup
// key already pending is a silent no-op returning the existing id.
func (q *JobQueue) Enqueue(ctx context.Context, jobType string, payload string, opts port.EnqueueOptions) (string, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.defaultMax
	}
	runAt := time.Now().Add(opts.Delay)
	id := uuid.NewString()

	err := q.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if opts.DedupKey != "" {
			var existing string
			err := sqlite.ExecutorFor(ctx, q.db).QueryRowContext(ctx,
				`SELECT id FROM jobs WHERE dedup_key = ? AND status IN (?, ?)`,
				opts.DedupKey, port.JobStatusPending, port.JobStatusRunning,
			).Scan(&existing)
			if err == nil {
				id = existing
				return nil
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("dedup lookup failed: %w", err)
			}
		}

		_, err := sqlite.ExecutorFor(ctx, q.db).ExecContext(ctx, `
			INSERT INTO jobs (id, type, payload, priority, dedup_key, run_at, attempts, max_attempts, status)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		`, id, jobType, payload, opts.Priority, nullString(opts.DedupKey), runAt, maxAttempts, port.JobStatusPending)
		if err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
		return nil
	})
	if err != nil {
		q.logger.Error("Failed to enqueue job",
			zap.String("job_type", jobType),
			zap.Error(err))
		return "", err
	}

	return id, nil
}

// Claim atomically claims up to limit due jobs for processing. Due
// means run_at has passed and the job is PENDING, or RUNNING past its
// claim TTL (a reclaimed crash).
func (q *JobQueue) Claim(ctx context.Context, limit int) ([]*port.Job, error) {
	var jobs []*port.Job

	err := q.tx.WithTransaction(ctx, func(ctx context.Context) error {
		now := time.Now()
		rows, err := sqlite.ExecutorFor(ctx, q.db).QueryContext(ctx, `
			SELECT id, type, payload, priority, dedup_key, run_at, attempts, max_attempts, status, last_error, created_at
			FROM jobs
			WHERE (status = ? AND run_at <= ?)
			   OR (status = ? AND claimed_at <= ?)
			ORDER BY priority DESC, run_at
			LIMIT ?
		`, port.JobStatusPending, now, port.JobStatusRunning, now.Add(-q.claimTTL), limit)
		if err != nil {
			return fmt.Errorf("failed to select due jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var j port.Job
			var dedupKey, lastError sql.NullString
			if err := rows.Scan(&j.ID, &j.Type, &j.Payload, &j.Priority, &dedupKey, &j.RunAt,
				&j.Attempts, &j.MaxAttempts, &j.Status, &lastError, &j.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan job: %w", err)
			}
			j.DedupKey = dedupKey.String
			j.LastError = lastError.String
			jobs = append(jobs, &j)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, j := range jobs {
			_, err := sqlite.ExecutorFor(ctx, q.db).ExecContext(ctx, `
				UPDATE jobs SET status = ?, attempts = attempts + 1, claimed_at = ? WHERE id = ?
			`, port.JobStatusRunning, now, j.ID)
			if err != nil {
				return fmt.Errorf("failed to claim job %s: %w", j.ID, err)
			}
			j.Status = port.JobStatusRunning
			j.Attempts++
		}
		return nil
	})
	if err != nil {
		q.logger.Error("Failed to claim jobs", zap.Error(err))
		return nil, err
	}

	return jobs, nil
}

// Complete marks a claimed job as done
func (q *JobQueue) Complete(ctx context.Context, jobID string) error {
	_, err := sqlite.ExecutorFor(ctx, q.db).ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE id = ?`, port.JobStatusCompleted, jobID)
	if err != nil {
		q.logger.Error("Failed to complete job",
			zap.String("job_id", jobID),
			zap.Error(err))
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Fail records a failure; the job is retried after retryIn unless its
// attempt budget is exhausted, in which case it is marked FAILED
func (q *JobQueue) Fail(ctx context.Context, jobID string, errMsg string, retryIn time.Duration) error {
	return q.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var attempts, maxAttempts int
		err := sqlite.ExecutorFor(ctx, q.db).QueryRowContext(ctx,
			`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, jobID,
		).Scan(&attempts, &maxAttempts)
		if err != nil {
			return fmt.Errorf("failed to load job %s: %w", jobID, err)
		}

		if attempts >= maxAttempts {
			_, err = sqlite.ExecutorFor(ctx, q.db).ExecContext(ctx,
				`UPDATE jobs SET status = ?, last_error = ? WHERE id = ?`,
				port.JobStatusFailed, errMsg, jobID)
			if err != nil {
				return fmt.Errorf("failed to mark job failed: %w", err)
			}
			q.logger.Warn("Job exhausted its attempt budget",
				zap.String("job_id", jobID),
				zap.Int("attempts", attempts),
				zap.String("error", errMsg))
			return nil
		}

		_, err = sqlite.ExecutorFor(ctx, q.db).ExecContext(ctx,
			`UPDATE jobs SET status = ?, last_error = ?, run_at = ? WHERE id = ?`,
			port.JobStatusPending, errMsg, time.Now().Add(retryIn), jobID)
		if err != nil {
			return fmt.Errorf("failed to reschedule job: %w", err)
		}
		return nil
	})
}

// nullString maps "" to NULL
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Verify interface compliance
var _ port.JobQueue = (*JobQueue)(nil)
