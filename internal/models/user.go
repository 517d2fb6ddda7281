package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User represents an account identified solely by its email address.
// #DATA_ASSUMPTION: Email is unique across the entire system
// #DATA_ASSUMPTION: Accounts are created lazily on the first successful magic-link verification
type User struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Email           string     `db:"email" json:"email"`
	EmailVerifiedAt *time.Time `db:"email_verified_at" json:"email_verified_at"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// TableName returns the Postgres table name for users
func (User) TableName() string {
	return "users"
}

// BeforeCreate sets default values before inserting a new user
func (u *User) BeforeCreate() {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
}

// NormalizeEmail canonicalizes an email address for lookup and storage.
// All lookups go through the normalized form; the raw input is never persisted.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
