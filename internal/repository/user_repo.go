package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/checkfix-tools/keyra-auth/internal/models"
)

// PostgresUserRepository implements UserRepository for PostgreSQL
// #ORM_INTEGRATION: sqlx-based repository implementation
type PostgresUserRepository struct {
	q sqlx.ExtContext
}

const insertUserQuery = `
	INSERT INTO users (id, email, email_verified_at, created_at)
	VALUES ($1, $2, $3, $4)`

const selectUserColumns = `id, email, email_verified_at, created_at`

// Create creates a new user
func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) error {
	user.BeforeCreate()
	_, err := r.q.ExecContext(ctx, insertUserQuery,
		user.ID, user.Email, user.EmailVerifiedAt, user.CreatedAt)
	if isUniqueViolation(err) {
		return models.ErrEmailAlreadyExists
	}
	return err
}

// GetByID finds a user by ID
func (r *PostgresUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, r.q, &user,
		`SELECT `+selectUserColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail finds a user by normalized email
func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, r.q, &user,
		`SELECT `+selectUserColumns+` FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Ensure PostgresUserRepository implements UserRepository
var _ UserRepository = (*PostgresUserRepository)(nil)
