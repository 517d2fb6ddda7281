// Package services provides business logic implementations.
// delivery_service.go emits magic-link tokens on the out-of-band delivery channel.
package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// MagicLinkSender delivers a challenge token out of band.
// #INTEGRATION_POINT: Production deployments wire an email transport here
type MagicLinkSender interface {
	SendMagicLink(ctx context.Context, email, token string) error
}

// LogMagicLinkSender records magic links on the service log instead of sending
// email. The email channel itself is external to this service.
type LogMagicLinkSender struct {
	baseURL string
	logger  *zap.SugaredLogger
}

// NewLogMagicLinkSender creates a log-based magic link sender
func NewLogMagicLinkSender(baseURL string, logger *zap.SugaredLogger) *LogMagicLinkSender {
	return &LogMagicLinkSender{
		baseURL: baseURL,
		logger:  logger,
	}
}

// SendMagicLink logs the verification URL for the issued token
func (s *LogMagicLinkSender) SendMagicLink(ctx context.Context, email, token string) error {
	s.logger.Infow("magic link generated",
		"email", email,
		"url", fmt.Sprintf("%s/auth/verify/%s", s.baseURL, token),
	)
	return nil
}

// Ensure LogMagicLinkSender implements MagicLinkSender
var _ MagicLinkSender = (*LogMagicLinkSender)(nil)
