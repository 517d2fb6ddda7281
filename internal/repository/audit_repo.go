package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/checkfix-tools/keyra-auth/internal/models"
)

// PostgresAuditRepository implements AuditRepository for PostgreSQL
// #IMPLEMENTATION_DECISION: Append-only; audit rows are never read on the hot path
type PostgresAuditRepository struct {
	q sqlx.ExtContext
}

const insertAuditLogQuery = `
	INSERT INTO audit_logs (id, user_id, event, ip, user_agent, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

// Create creates a new audit log entry
func (r *PostgresAuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	log.BeforeCreate()
	_, err := r.q.ExecContext(ctx, insertAuditLogQuery,
		log.ID, log.UserID, log.Event, log.IP, log.UserAgent, log.CreatedAt)
	return err
}

// Ensure PostgresAuditRepository implements AuditRepository
var _ AuditRepository = (*PostgresAuditRepository)(nil)
