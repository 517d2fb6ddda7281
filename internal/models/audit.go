package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent represents the type of event in an audit log
// #IMPLEMENTATION_DECISION: Dotted lowercase tags, stable across releases
type AuditEvent string

const (
	AuditEventMagicRequested   AuditEvent = "magic.requested"
	AuditEventMagicRateLimited AuditEvent = "magic.rate_limited"
	AuditEventMagicVerified    AuditEvent = "magic.verified"
	AuditEventRefreshRotated   AuditEvent = "refresh.rotated"
	AuditEventRefreshReuse     AuditEvent = "refresh.reuse_detected"
	AuditEventRefreshHijack    AuditEvent = "refresh.hijack_detected"
	AuditEventLogout           AuditEvent = "logout"
	AuditEventLogoutAll        AuditEvent = "logout_all"
)

// IsValid checks if the AuditEvent is a valid value
func (e AuditEvent) IsValid() bool {
	switch e {
	case AuditEventMagicRequested, AuditEventMagicRateLimited, AuditEventMagicVerified,
		AuditEventRefreshRotated, AuditEventRefreshReuse, AuditEventRefreshHijack,
		AuditEventLogout, AuditEventLogoutAll:
		return true
	}
	return false
}

// AuditLog represents an append-only record of an authentication event
// #DATA_ASSUMPTION: Audit logs are append-only, never modified or deleted
// #DATA_ASSUMPTION: UserID is null for events with no resolved account (e.g. rate-limited requests)
type AuditLog struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	UserID    *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	Event     AuditEvent `db:"event" json:"event"`
	IP        *string    `db:"ip" json:"ip,omitempty"`
	UserAgent *string    `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// TableName returns the Postgres table name for audit logs
func (AuditLog) TableName() string {
	return "audit_logs"
}

// BeforeCreate sets default values before inserting a new audit log
func (a *AuditLog) BeforeCreate() {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
}
