package database

import (
	"context"
	"fmt"
)

// Schema statements executed in order at startup
// #IMPLEMENTATION_DECISION: Schema ensured on application startup, idempotent DDL
// #CODE_ASSUMPTION: Dedicated migration tooling is out of scope; the schema is small and additive
var schemaStatements = []struct {
	name string
	stmt string
}{
	{
		name: "users table",
		stmt: `CREATE TABLE IF NOT EXISTS users (
			id                 uuid PRIMARY KEY,
			email              text NOT NULL UNIQUE,
			email_verified_at  timestamptz,
			created_at         timestamptz NOT NULL
		)`,
	},
	{
		name: "login_challenges table",
		stmt: `CREATE TABLE IF NOT EXISTS login_challenges (
			id                  uuid PRIMARY KEY,
			email               text NOT NULL,
			token_hash          text NOT NULL UNIQUE,
			expires_at          timestamptz NOT NULL,
			used_at             timestamptz,
			request_ip          text,
			request_user_agent  text,
			created_at          timestamptz NOT NULL
		)`,
	},
	{
		name: "login_challenges email index",
		stmt: `CREATE INDEX IF NOT EXISTS ix_login_challenges_email ON login_challenges (email)`,
	},
	{
		name: "login_challenges expiry index",
		stmt: `CREATE INDEX IF NOT EXISTS ix_login_challenges_expires_at ON login_challenges (expires_at)`,
	},
	{
		name: "sessions table",
		stmt: `CREATE TABLE IF NOT EXISTS sessions (
			id                        uuid PRIMARY KEY,
			user_id                   uuid NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			refresh_token_hash        text NOT NULL UNIQUE,
			refresh_expires_at        timestamptz NOT NULL,
			rotated_from_session_id   uuid REFERENCES sessions(id) ON DELETE SET NULL,
			revoked_at                timestamptz,
			created_at                timestamptz NOT NULL,
			last_seen_at              timestamptz,
			ip                        text,
			user_agent                text
		)`,
	},
	{
		name: "sessions user index",
		stmt: `CREATE INDEX IF NOT EXISTS ix_sessions_user_id ON sessions (user_id)`,
	},
	{
		name: "sessions expiry index",
		stmt: `CREATE INDEX IF NOT EXISTS ix_sessions_refresh_expires_at ON sessions (refresh_expires_at)`,
	},
	{
		name: "sessions revocation index",
		stmt: `CREATE INDEX IF NOT EXISTS ix_sessions_revoked_at ON sessions (revoked_at)`,
	},
	{
		name: "sessions user recency index",
		stmt: `CREATE INDEX IF NOT EXISTS ix_sessions_user_id_created_at ON sessions (user_id, created_at)`,
	},
	{
		name: "sessions rotation parent index",
		stmt: `CREATE INDEX IF NOT EXISTS ix_sessions_rotated_from ON sessions (rotated_from_session_id)`,
	},
	{
		name: "audit_logs table",
		stmt: `CREATE TABLE IF NOT EXISTS audit_logs (
			id          uuid PRIMARY KEY,
			user_id     uuid REFERENCES users(id) ON DELETE SET NULL,
			event       text NOT NULL,
			ip          text,
			user_agent  text,
			created_at  timestamptz NOT NULL
		)`,
	},
	{
		name: "audit_logs user index",
		stmt: `CREATE INDEX IF NOT EXISTS ix_audit_logs_user_id ON audit_logs (user_id)`,
	},
	{
		name: "audit_logs recency index",
		stmt: `CREATE INDEX IF NOT EXISTS ix_audit_logs_created_at ON audit_logs (created_at DESC)`,
	},
}

// EnsureSchema creates all required tables and indexes
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, s := range schemaStatements {
		if _, err := c.db.ExecContext(ctx, s.stmt); err != nil {
			return fmt.Errorf("failed to ensure %s: %w", s.name, err)
		}
	}
	return nil
}
