package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/checkfix-tools/keyra-auth/internal/models"
)

// PostgresChallengeRepository implements ChallengeRepository for PostgreSQL
// #ORM_INTEGRATION: sqlx-based repository implementation
type PostgresChallengeRepository struct {
	q sqlx.ExtContext
}

const insertChallengeQuery = `
	INSERT INTO login_challenges
		(id, email, token_hash, expires_at, used_at, request_ip, request_user_agent, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const selectChallengeColumns = `id, email, token_hash, expires_at, used_at, request_ip, request_user_agent, created_at`

// Create creates a new login challenge
func (r *PostgresChallengeRepository) Create(ctx context.Context, challenge *models.LoginChallenge) error {
	challenge.BeforeCreate()
	_, err := r.q.ExecContext(ctx, insertChallengeQuery,
		challenge.ID, challenge.Email, challenge.TokenHash, challenge.ExpiresAt,
		challenge.UsedAt, challenge.RequestIP, challenge.RequestUserAgent, challenge.CreatedAt)
	if isUniqueViolation(err) {
		return models.ErrAlreadyExists
	}
	return err
}

// LockValidByTokenHash locks the unused, unexpired challenge with the given digest.
// FOR UPDATE serializes concurrent presentations of the same token: the second
// presenter blocks here and then finds no row once used_at is committed.
func (r *PostgresChallengeRepository) LockValidByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*models.LoginChallenge, error) {
	var challenge models.LoginChallenge
	err := sqlx.GetContext(ctx, r.q, &challenge,
		`SELECT `+selectChallengeColumns+`
		 FROM login_challenges
		 WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		 FOR UPDATE`, tokenHash, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &challenge, nil
}

// MarkUsed consumes a challenge. Monotonic: an already-set used_at is preserved.
func (r *PostgresChallengeRepository) MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE login_challenges SET used_at = COALESCE(used_at, $2) WHERE id = $1`, id, usedAt)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrChallengeNotFound
	}
	return nil
}

// DeleteExpired removes challenges past their expiry
func (r *PostgresChallengeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx,
		`DELETE FROM login_challenges WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ensure PostgresChallengeRepository implements ChallengeRepository
var _ ChallengeRepository = (*PostgresChallengeRepository)(nil)
