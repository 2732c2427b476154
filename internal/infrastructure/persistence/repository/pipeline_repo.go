package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dmarshall/agent-orchestrator/internal/application/port"
	"github.com/dmarshall/agent-orchestrator/internal/domain/entity"
	"github.com/dmarshall/agent-orchestrator/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// PipelineRepository implements port.PipelineRepository on SQLite.
// Stage definitions are stored as a JSON array per pipeline.
type PipelineRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPipelineRepository creates a new pipeline repository
func NewPipelineRepository(db *sql.DB, logger *zap.Logger) port.PipelineRepository {
	return &PipelineRepository{
		db:     db,
		logger: logger,
	}
}

// GetByKey retrieves a pipeline by its key within an org
func (r *PipelineRepository) GetByKey(ctx context.Context, key, orgID string) (*entity.Pipeline, error) {
	query := `SELECT key, org_id, name, stages, created_at FROM pipelines WHERE key = ? AND org_id = ?`

	var p entity.Pipeline
	var stages string
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, key, orgID).Scan(
		&p.Key, &p.OrgID, &p.Name, &stages, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pipeline %s not found", key)
	}
	if err != nil {
		r.logger.Error("Failed to get pipeline",
			zap.String("key", key),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}

	if err := json.Unmarshal([]byte(stages), &p.Stages); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline stages: %w", err)
	}
	return &p, nil
}

// ListByOrg retrieves all pipelines for an org
func (r *PipelineRepository) ListByOrg(ctx context.Context, orgID string) ([]*entity.Pipeline, error) {
	query := `SELECT key, org_id, name, stages, created_at FROM pipelines WHERE org_id = ? ORDER BY key`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, orgID)
	if err != nil {
		r.logger.Error("Failed to list pipelines",
			zap.String("org_id", orgID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []*entity.Pipeline
	for rows.Next() {
		var p entity.Pipeline
		var stages string
		if err := rows.Scan(&p.Key, &p.OrgID, &p.Name, &stages, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		if err := json.Unmarshal([]byte(stages), &p.Stages); err != nil {
			return nil, fmt.Errorf("failed to decode pipeline stages: %w", err)
		}
		pipelines = append(pipelines, &p)
	}
	return pipelines, rows.Err()
}

// Verify interface compliance
var _ port.PipelineRepository = (*PipelineRepository)(nil)
