package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmarshall/agent-orchestrator/internal/application/port"
	"github.com/dmarshall/agent-orchestrator/internal/domain/entity"
	"github.com/dmarshall/agent-orchestrator/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// ReminderRepository implements port.ReminderRepository on SQLite
type ReminderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReminderRepository creates a new reminder repository
func NewReminderRepository(db *sql.DB, logger *zap.Logger) port.ReminderRepository {
	return &ReminderRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new reminder
func (r *ReminderRepository) Create(ctx context.Context, rem *entity.Reminder) error {
	query := `
		INSERT INTO reminders (id, org_id, task_id, message, due_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		rem.ID, rem.OrgID, rem.TaskID, rem.Message, rem.DueAt, rem.Status,
	)
	if err != nil {
		r.logger.Error("Failed to create reminder",
			zap.String("reminder_id", rem.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	return nil
}

// ListDue returns pending reminders whose due time has passed
func (r *ReminderRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.Reminder, error) {
	query := `
		SELECT id, org_id, task_id, message, due_at, status, created_at
		FROM reminders
		WHERE status = ? AND due_at <= ?
		ORDER BY due_at
		LIMIT ?
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, entity.ReminderStatusPending, now, limit)
	if err != nil {
		r.logger.Error("Failed to list due reminders", zap.Error(err))
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*entity.Reminder
	for rows.Next() {
		var rem entity.Reminder
		if err := rows.Scan(&rem.ID, &rem.OrgID, &rem.TaskID, &rem.Message, &rem.DueAt, &rem.Status, &rem.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, &rem)
	}
	return reminders, rows.Err()
}

// UpdateStatus writes a new reminder status
func (r *ReminderRepository) UpdateStatus(ctx context.Context, id string, status string) error {
	query := `UPDATE reminders SET status = ? WHERE id = ?`

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, status, id)
	if err != nil {
		r.logger.Error("Failed to update reminder status",
			zap.String("reminder_id", id),
			zap.String("status", status),
			zap.Error(err))
		return fmt.Errorf("failed to update reminder status: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.ReminderRepository = (*ReminderRepository)(nil)
