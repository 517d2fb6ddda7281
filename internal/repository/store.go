// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/checkfix-tools/keyra-auth/internal/database"
)

// postgresStore implements Store over either the pooled handle or a transaction
// #IMPLEMENTATION_DECISION: Repositories run against sqlx.ExtContext so the same
// implementations serve both pooled and transaction-bound access
type postgresStore struct {
	q      sqlx.ExtContext
	client *database.Client
}

// NewPostgresStore creates a Store backed by the database client
func NewPostgresStore(client *database.Client) Store {
	return &postgresStore{
		q:      client.DB(),
		client: client,
	}
}

// Users returns the user repository
func (s *postgresStore) Users() UserRepository {
	return &PostgresUserRepository{q: s.q}
}

// Challenges returns the login challenge repository
func (s *postgresStore) Challenges() ChallengeRepository {
	return &PostgresChallengeRepository{q: s.q}
}

// Sessions returns the session repository
func (s *postgresStore) Sessions() SessionRepository {
	return &PostgresSessionRepository{q: s.q}
}

// Audit returns the audit log repository
func (s *postgresStore) Audit() AuditRepository {
	return &PostgresAuditRepository{q: s.q}
}

// WithTx runs fn against a transaction-bound Store
func (s *postgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.client == nil {
		// Already inside a transaction; the core never nests
		return fn(s)
	}
	return s.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&postgresStore{q: tx})
	})
}

// isUniqueViolation reports whether err is a Postgres unique-constraint violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// uuidStrings converts ids for use with = ANY($1::uuid[])
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
