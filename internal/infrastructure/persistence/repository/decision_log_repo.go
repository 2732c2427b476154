package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmarshall/agent-orchestrator/internal/application/port"
	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
	"github.com/dmarshall/agent-orchestrator/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const decisionColumns = `id, correlation_id, source, input_type, intent, confidence,
	routing, actions_json, outcome_json, status, created_at, updated_at`

// DecisionLogRepository implements port.DecisionLogRepository on SQLite
type DecisionLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDecisionLogRepository creates a new decision log repository
func NewDecisionLogRepository(db *sql.DB, logger *zap.Logger) port.DecisionLogRepository {
	return &DecisionLogRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new decision log entry
func (r *DecisionLogRepository) Create(ctx context.Context, log *agent.DecisionLog) error {
	query := `
		INSERT INTO decision_logs (
			id, correlation_id, source, input_type, intent, confidence,
			routing, actions_json, outcome_json, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var actionsJSON, outcomeJSON sql.NullString
	if log.ActionsJSON != "" {
		actionsJSON = sql.NullString{String: log.ActionsJSON, Valid: true}
	}
	if log.OutcomeJSON != "" {
		outcomeJSON = sql.NullString{String: log.OutcomeJSON, Valid: true}
	}

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		log.ID,
		log.CorrelationID,
		string(log.Source),
		log.InputType,
		log.Intent,
		log.Confidence,
		log.Routing,
		actionsJSON,
		outcomeJSON,
		log.Status,
	)
	if err != nil {
		r.logger.Error("Failed to create decision log",
			zap.String("decision_id", log.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create decision log: %w", err)
	}

	return nil
}

// GetByID retrieves a decision log by id
func (r *DecisionLogRepository) GetByID(ctx context.Context, id string) (*agent.DecisionLog, error) {
	query := `SELECT ` + decisionColumns + ` FROM decision_logs WHERE id = ?`

	log, err := r.scanLog(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("decision %s not found", id)
	}
	if err != nil {
		r.logger.Error("Failed to get decision log",
			zap.String("decision_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get decision log: %w", err)
	}

	return log, nil
}

// UpdateOutcome records the execution outcome and final status
func (r *DecisionLogRepository) UpdateOutcome(ctx context.Context, id string, status string, outcomeJSON string) error {
	query := `
		UPDATE decision_logs
		SET status = ?, outcome_json = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, status, outcomeJSON, id)
	if err != nil {
		r.logger.Error("Failed to update decision outcome",
			zap.String("decision_id", id),
			zap.String("status", status),
			zap.Error(err))
		return fmt.Errorf("failed to update decision outcome: %w", err)
	}

	return nil
}

// ListRecentByCorrelation returns the newest decisions sharing a
// correlation id, newest first
func (r *DecisionLogRepository) ListRecentByCorrelation(ctx context.Context, correlationID string, limit int) ([]*agent.DecisionLog, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM decision_logs
		WHERE correlation_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, correlationID, limit)
	if err != nil {
		r.logger.Error("Failed to list decisions by correlation",
			zap.String("correlation_id", correlationID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var logs []*agent.DecisionLog
	for rows.Next() {
		log, err := r.scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// scanLog scans a single decision log row
func (r *DecisionLogRepository) scanLog(row rowScanner) (*agent.DecisionLog, error) {
	var log agent.DecisionLog
	var source string
	var actionsJSON, outcomeJSON sql.NullString

	err := row.Scan(
		&log.ID,
		&log.CorrelationID,
		&source,
		&log.InputType,
		&log.Intent,
		&log.Confidence,
		&log.Routing,
		&actionsJSON,
		&outcomeJSON,
		&log.Status,
		&log.CreatedAt,
		&log.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	log.Source = agent.Source(source)
	log.ActionsJSON = actionsJSON.String
	log.OutcomeJSON = outcomeJSON.String
	return &log, nil
}

// Verify interface compliance
var _ port.DecisionLogRepository = (*DecisionLogRepository)(nil)
