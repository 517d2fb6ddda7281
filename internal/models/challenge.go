package models

import (
	"time"

	"github.com/google/uuid"
)

// LoginChallenge represents a single-use magic-link token for passwordless authentication.
// #DATA_ASSUMPTION: Only the SHA-256 digest of the token is persisted, never the plaintext
// #DATA_ASSUMPTION: Challenges expire ChallengeExpiryDuration (10 minutes) after issuance unless a different TTL is configured
type LoginChallenge struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	TokenHash        string     `db:"token_hash" json:"token_hash"`
	ExpiresAt        time.Time  `db:"expires_at" json:"expires_at"`
	UsedAt           *time.Time `db:"used_at" json:"used_at,omitempty"`
	RequestIP        *string    `db:"request_ip" json:"request_ip,omitempty"`
	RequestUserAgent *string    `db:"request_user_agent" json:"request_user_agent,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// TableName returns the Postgres table name for login challenges
func (LoginChallenge) TableName() string {
	return "login_challenges"
}

// ChallengeExpiryDuration is the default validity window for a magic-link challenge
const ChallengeExpiryDuration = 10 * time.Minute

// BeforeCreate sets default values before inserting a new login challenge
func (lc *LoginChallenge) BeforeCreate() {
	now := time.Now().UTC()
	if lc.ID == uuid.Nil {
		lc.ID = uuid.New()
	}
	if lc.CreatedAt.IsZero() {
		lc.CreatedAt = now
	}
	if lc.ExpiresAt.IsZero() {
		lc.ExpiresAt = now.Add(ChallengeExpiryDuration)
	}
}

// IsExpired returns true if the challenge has expired
func (lc *LoginChallenge) IsExpired(now time.Time) bool {
	return !lc.ExpiresAt.After(now)
}

// IsUsed returns true if the challenge has already been consumed
func (lc *LoginChallenge) IsUsed() bool {
	return lc.UsedAt != nil
}

// CanBeUsed returns true if the challenge can still be exchanged for a session
func (lc *LoginChallenge) CanBeUsed(now time.Time) bool {
	return !lc.IsUsed() && !lc.IsExpired(now)
}

// MarkUsed consumes the challenge. Monotonic: a set UsedAt is never cleared.
func (lc *LoginChallenge) MarkUsed(at time.Time) {
	if lc.UsedAt == nil {
		lc.UsedAt = &at
	}
}
