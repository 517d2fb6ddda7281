// Package services provides business logic implementations.
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/checkfix-tools/keyra-auth/internal/models"
	"github.com/checkfix-tools/keyra-auth/internal/repository"
)

// AuditService handles append-only auth event logging
// #INTEGRATION_POINT: Observes every auth state-machine entry point
type AuditService interface {
	// Record creates an audit log entry
	Record(ctx context.Context, entry AuditEntry) error

	// RecordAsync records without blocking the caller's success path
	RecordAsync(entry AuditEntry)
}

// AuditEntry represents an audit log entry to be created
type AuditEntry struct {
	UserID    *uuid.UUID
	Event     models.AuditEvent
	IP        string
	UserAgent string
}

// auditService implements AuditService
type auditService struct {
	auditRepo repository.AuditRepository
	logChan   chan AuditEntry
	logger    *zap.SugaredLogger
}

// NewAuditService creates a new audit service
func NewAuditService(auditRepo repository.AuditRepository, logger *zap.SugaredLogger) AuditService {
	svc := &auditService{
		auditRepo: auditRepo,
		logChan:   make(chan AuditEntry, 1000), // Buffer for async logging
		logger:    logger,
	}

	// Start async worker
	go svc.asyncWorker()

	return svc
}

// asyncWorker processes audit entries asynchronously
func (s *auditService) asyncWorker() {
	for entry := range s.logChan {
		ctx := context.Background()
		if err := s.Record(ctx, entry); err != nil {
			s.logger.Errorw("failed to record audit entry", "event", entry.Event, "error", err)
		}
	}
}

// Record creates an audit log entry
func (s *auditService) Record(ctx context.Context, entry AuditEntry) error {
	auditLog := &models.AuditLog{
		UserID:    entry.UserID,
		Event:     entry.Event,
		IP:        nullable(entry.IP),
		UserAgent: nullable(entry.UserAgent),
	}

	if err := s.auditRepo.Create(ctx, auditLog); err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	return nil
}

// RecordAsync records without blocking. Audit failures never fail the auth path.
func (s *auditService) RecordAsync(entry AuditEntry) {
	select {
	case s.logChan <- entry:
		// Successfully queued
	default:
		// Channel full, record on a separate goroutine so the caller never waits
		s.logger.Warnw("audit channel full, recording in background", "event", entry.Event)
		go func() {
			if err := s.Record(context.Background(), entry); err != nil {
				s.logger.Errorw("failed to record audit entry", "event", entry.Event, "error", err)
			}
		}()
	}
}

// nullable converts an empty string to a null column value
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Ensure auditService implements AuditService
var _ AuditService = (*auditService)(nil)
