package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/checkfix-tools/keyra-auth/internal/models"
)

// PostgresSessionRepository implements SessionRepository for PostgreSQL
// #ORM_INTEGRATION: sqlx-based repository implementation
type PostgresSessionRepository struct {
	q sqlx.ExtContext
}

const insertSessionQuery = `
	INSERT INTO sessions
		(id, user_id, refresh_token_hash, refresh_expires_at, rotated_from_session_id,
		 revoked_at, created_at, last_seen_at, ip, user_agent)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const selectSessionColumns = `id, user_id, refresh_token_hash, refresh_expires_at,
	rotated_from_session_id, revoked_at, created_at, last_seen_at, ip, user_agent`

// Create creates a new session
func (r *PostgresSessionRepository) Create(ctx context.Context, session *models.Session) error {
	session.BeforeCreate()
	_, err := r.q.ExecContext(ctx, insertSessionQuery,
		session.ID, session.UserID, session.RefreshTokenHash, session.RefreshExpiresAt,
		session.RotatedFromSessionID, session.RevokedAt, session.CreatedAt,
		session.LastSeenAt, session.IP, session.UserAgent)
	if isUniqueViolation(err) {
		return models.ErrAlreadyExists
	}
	return err
}

// LockByTokenHash locks the session with the given refresh-token digest.
// The row is returned regardless of its state; revocation and expiry checks
// belong to the state machine.
func (r *PostgresSessionRepository) LockByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	var session models.Session
	err := sqlx.GetContext(ctx, r.q, &session,
		`SELECT `+selectSessionColumns+`
		 FROM sessions
		 WHERE refresh_token_hash = $1
		 FOR UPDATE`, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Revoke marks a session revoked. Monotonic: an already-set revoked_at is preserved.
func (r *PostgresSessionRepository) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// RevokeMany marks every listed session revoked in one statement
func (r *PostgresSessionRepository) RevokeMany(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.q.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = COALESCE(revoked_at, $2) WHERE id = ANY($1::uuid[])`,
		pq.Array(uuidStrings(ids)), at)
	return err
}

// RevokeAllForUser revokes every active session owned by the user
func (r *PostgresSessionRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, at)
	return err
}

// ListChildIDs returns the ids of sessions rotated from any of the given parents
func (r *PostgresSessionRepository) ListChildIDs(ctx context.Context, parentIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var ids []uuid.UUID
	err := sqlx.SelectContext(ctx, r.q, &ids,
		`SELECT id FROM sessions WHERE rotated_from_session_id = ANY($1::uuid[])`,
		pq.Array(uuidStrings(parentIDs)))
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Ensure PostgresSessionRepository implements SessionRepository
var _ SessionRepository = (*PostgresSessionRepository)(nil)
