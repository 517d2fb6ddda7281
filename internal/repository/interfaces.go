// Package repository defines interfaces for data access and their PostgreSQL implementations
// #ORM_PATTERN: Repository pattern with interfaces for testability and abstraction
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/checkfix-tools/keyra-auth/internal/models"
)

// UserRepository defines operations for users
// #QUERY_INTERFACE: User data access patterns
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *models.User) error

	// GetByID finds a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetByEmail finds a user by normalized email
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// ChallengeRepository defines operations for login challenges
// #QUERY_INTERFACE: Challenge lookups are by token digest only
type ChallengeRepository interface {
	// Create creates a new login challenge
	Create(ctx context.Context, challenge *models.LoginChallenge) error

	// LockValidByTokenHash locks the unused, unexpired challenge with the given
	// digest for the remainder of the transaction. Serializes concurrent
	// presentations of the same token.
	LockValidByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*models.LoginChallenge, error)

	// MarkUsed consumes a challenge (single-use)
	MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error

	// DeleteExpired removes challenges past their expiry, returning the count
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionRepository defines operations for sessions and the rotation chain
// #QUERY_INTERFACE: Session lookups are by refresh-token digest only
type SessionRepository interface {
	// Create creates a new session
	Create(ctx context.Context, session *models.Session) error

	// LockByTokenHash locks the session with the given refresh-token digest
	// for the remainder of the transaction, regardless of its state.
	LockByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)

	// Revoke marks a session revoked. Idempotent; an already-set revocation
	// timestamp is preserved.
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error

	// RevokeMany marks every listed session revoked in one statement,
	// preserving already-set revocation timestamps.
	RevokeMany(ctx context.Context, ids []uuid.UUID, at time.Time) error

	// RevokeAllForUser revokes every active session owned by the user
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) error

	// ListChildIDs returns the ids of sessions rotated from any of the given
	// parents. Used by chain traversal.
	ListChildIDs(ctx context.Context, parentIDs []uuid.UUID) ([]uuid.UUID, error)
}

// AuditRepository defines operations for audit log management
// #IMPLEMENTATION_DECISION: Audit logs are append-only, no update/delete operations
type AuditRepository interface {
	// Create creates a new audit log entry
	Create(ctx context.Context, log *models.AuditLog) error
}

// Store bundles the repositories over a single database handle and provides
// the transactional boundary for multi-step operations.
// #INTEGRATION_POINT: The auth state machine runs each entry point inside one WithTx call
type Store interface {
	Users() UserRepository
	Challenges() ChallengeRepository
	Sessions() SessionRepository
	Audit() AuditRepository

	// WithTx runs fn against a transaction-bound Store. The transaction is
	// rolled back when fn returns an error, committed otherwise.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
