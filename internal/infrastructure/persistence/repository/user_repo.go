package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmarshall/agent-orchestrator/internal/application/port"
	"github.com/dmarshall/agent-orchestrator/internal/domain/entity"
	"github.com/dmarshall/agent-orchestrator/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// UserRepository implements port.UserRepository on SQLite
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, logger *zap.Logger) port.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// ListActiveStaff returns active users, optionally filtered by role.
// Rows come back in insertion order so assignment tie-breaks are stable.
func (r *UserRepository) ListActiveStaff(ctx context.Context, orgID string, role string) ([]*entity.User, error) {
	query := `SELECT id, org_id, name, email, role, active, created_at FROM users WHERE org_id = ? AND active = TRUE`
	args := []interface{}{orgID}
	if role != "" {
		query += ` AND role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY rowid`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list active staff",
			zap.String("org_id", orgID),
			zap.String("role", role),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list active staff: %w", err)
	}
	defer rows.Close()

	var users []*entity.User
	for rows.Next() {
		var u entity.User
		var email sql.NullString
		if err := rows.Scan(&u.ID, &u.OrgID, &u.Name, &email, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Email = email.String
		users = append(users, &u)
	}
	return users, rows.Err()
}

// Verify interface compliance
var _ port.UserRepository = (*UserRepository)(nil)
