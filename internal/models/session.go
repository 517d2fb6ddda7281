package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents a refresh credential and its place in a rotation chain.
// RotatedFromSessionID points at the session this one was rotated from; following
// it from any node reaches the root session minted at magic-link verification.
// #DATA_ASSUMPTION: Only the SHA-256 digest of the refresh token is persisted
// #DATA_ASSUMPTION: A new row may only reference an already-existing row, so the
// rotation graph is a forest and chain traversal always terminates
type Session struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	UserID               uuid.UUID  `db:"user_id" json:"user_id"`
	RefreshTokenHash     string     `db:"refresh_token_hash" json:"refresh_token_hash"`
	RefreshExpiresAt     time.Time  `db:"refresh_expires_at" json:"refresh_expires_at"`
	RotatedFromSessionID *uuid.UUID `db:"rotated_from_session_id" json:"rotated_from_session_id,omitempty"`
	RevokedAt            *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	LastSeenAt           *time.Time `db:"last_seen_at" json:"last_seen_at,omitempty"`
	IP                   *string    `db:"ip" json:"ip,omitempty"`
	UserAgent            *string    `db:"user_agent" json:"user_agent,omitempty"`
}

// TableName returns the Postgres table name for sessions
func (Session) TableName() string {
	return "sessions"
}

// BeforeCreate sets default values before inserting a new session
func (s *Session) BeforeCreate() {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
}

// IsRevoked returns true if the session has been revoked
func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

// IsExpired returns true if the refresh credential has expired
func (s *Session) IsExpired(now time.Time) bool {
	return !s.RefreshExpiresAt.After(now)
}

// IsActive returns true if the session can still be refreshed
func (s *Session) IsActive(now time.Time) bool {
	return !s.IsRevoked() && !s.IsExpired(now)
}

// Revoke marks the session revoked. Monotonic: a set RevokedAt never changes.
func (s *Session) Revoke(at time.Time) {
	if s.RevokedAt == nil {
		s.RevokedAt = &at
	}
}
