// Package services provides business logic implementations.
// #IMPLEMENTATION_DECISION: Services orchestrate repositories and external services
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/checkfix-tools/keyra-auth/internal/auth"
	"github.com/checkfix-tools/keyra-auth/internal/models"
	"github.com/checkfix-tools/keyra-auth/internal/ratelimit"
	"github.com/checkfix-tools/keyra-auth/internal/repository"
	"github.com/checkfix-tools/keyra-auth/internal/token"
)

// Auth-denied errors. The error text is the wire tag; the transport maps these
// 1:1 to HTTP status + error code and never invents its own.
var (
	ErrInvalidOrExpiredToken = errors.New("invalid_or_expired_token")
	ErrInvalidRefreshToken   = errors.New("invalid_refresh_token")
	ErrRefreshTokenExpired   = errors.New("refresh_token_expired")
	ErrRefreshTokenReuse     = errors.New("refresh_token_reuse")
	ErrSessionHijacking      = errors.New("session_hijacking")
	ErrUnauthorized          = errors.New("unauthorized")
)

// RequestMeta carries the caller-side context of an auth request
type RequestMeta struct {
	IP        string
	UserAgent string
}

// AuthService is the authentication state machine
// #INTEGRATION_POINT: Used by the auth handler for all login/logout flows
type AuthService interface {
	// RequestMagicLink issues a login challenge for the email. Always succeeds
	// from the caller's perspective; rate-limit denials are silent.
	RequestMagicLink(ctx context.Context, emailRaw string, meta RequestMeta) error

	// VerifyMagicLink exchanges a challenge token for a session and token pair
	VerifyMagicLink(ctx context.Context, challengeToken string, meta RequestMeta) (*auth.TokenPair, error)

	// RefreshSession rotates a refresh token, detecting reuse and hijack
	RefreshSession(ctx context.Context, refreshToken string, meta RequestMeta) (*auth.TokenPair, error)

	// Logout revokes the session identified by the refresh token
	Logout(ctx context.Context, refreshToken string, meta RequestMeta) error

	// LogoutAll revokes every active session of the user
	LogoutAll(ctx context.Context, userID uuid.UUID, meta RequestMeta) error

	// GetUser returns the user for an authenticated subject
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// authService implements AuthService
type authService struct {
	store      repository.Store
	jwtService auth.JWTService
	limiter    ratelimit.Limiter
	sender     MagicLinkSender
	audit      AuditService
	logger     *zap.SugaredLogger

	challengeTTL time.Duration
	refreshTTL   time.Duration
	accessTTL    time.Duration
}

// AuthServiceConfig holds configuration for the auth service
type AuthServiceConfig struct {
	ChallengeTTL    time.Duration
	RefreshTokenTTL time.Duration
	AccessTokenTTL  time.Duration
}

// NewAuthService creates a new auth service instance
// #IMPLEMENTATION_DECISION: Constructor injection for testability
func NewAuthService(
	store repository.Store,
	jwtService auth.JWTService,
	limiter ratelimit.Limiter,
	sender MagicLinkSender,
	audit AuditService,
	logger *zap.SugaredLogger,
	cfg AuthServiceConfig,
) AuthService {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = models.ChallengeExpiryDuration
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	return &authService{
		store:        store,
		jwtService:   jwtService,
		limiter:      limiter,
		sender:       sender,
		audit:        audit,
		logger:       logger,
		challengeTTL: cfg.ChallengeTTL,
		refreshTTL:   cfg.RefreshTokenTTL,
		accessTTL:    cfg.AccessTokenTTL,
	}
}

// RequestMagicLink issues a single-use login challenge.
// #SECURITY_CONCERN: The response is identical for known and unknown emails,
// and for admitted and rate-limited requests - no enumeration surface.
func (s *authService) RequestMagicLink(ctx context.Context, emailRaw string, meta RequestMeta) error {
	email := models.NormalizeEmail(emailRaw)

	if !s.limiter.Admit(ctx, email, meta.IP) {
		s.logger.Warnw("magic link rate limit hit", "email", email, "ip", meta.IP)
		s.audit.RecordAsync(AuditEntry{
			Event:     models.AuditEventMagicRateLimited,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		})
		return nil
	}

	plaintext, err := token.GenerateChallengeToken()
	if err != nil {
		return fmt.Errorf("failed to generate challenge token: %w", err)
	}

	challenge := &models.LoginChallenge{
		Email:            email,
		TokenHash:        token.Digest(plaintext),
		ExpiresAt:        time.Now().UTC().Add(s.challengeTTL),
		RequestIP:        nullable(meta.IP),
		RequestUserAgent: nullable(meta.UserAgent),
	}

	if err := s.store.Challenges().Create(ctx, challenge); err != nil {
		return fmt.Errorf("failed to create login challenge: %w", err)
	}

	// Delivery is a side channel; the challenge is already committed, so a
	// send failure is logged and does not surface to the caller.
	if err := s.sender.SendMagicLink(ctx, email, plaintext); err != nil {
		s.logger.Errorw("failed to deliver magic link", "email", email, "error", err)
	}

	s.audit.RecordAsync(AuditEntry{
		Event:     models.AuditEventMagicRequested,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})

	return nil
}

// VerifyMagicLink exchanges a challenge token for a new session.
// Runs in one transaction beginning with a row lock on the challenge digest.
func (s *authService) VerifyMagicLink(ctx context.Context, challengeToken string, meta RequestMeta) (*auth.TokenPair, error) {
	digest := token.Digest(challengeToken)

	var (
		pair   *auth.TokenPair
		userID uuid.UUID
	)

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		now := time.Now().UTC()

		challenge, err := tx.Challenges().LockValidByTokenHash(ctx, digest, now)
		if err != nil {
			if models.IsNotFoundError(err) {
				return ErrInvalidOrExpiredToken
			}
			return err
		}

		if err := tx.Challenges().MarkUsed(ctx, challenge.ID, now); err != nil {
			return err
		}

		user, err := s.findOrCreateUser(ctx, tx, challenge.Email)
		if err != nil {
			return err
		}

		session, refreshToken, err := s.newSession(ctx, tx, user.ID, nil, meta, now)
		if err != nil {
			return err
		}

		pair, err = s.mintPair(user.ID, refreshToken, session.RefreshExpiresAt)
		if err != nil {
			return err
		}

		userID = user.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.RecordAsync(AuditEntry{
		UserID:    &userID,
		Event:     models.AuditEventMagicVerified,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})

	return pair, nil
}

// RefreshSession rotates the refresh credential.
// A presented token whose session is revoked, expired, or arriving from a
// different client is treated as compromise: the whole descendant chain is
// revoked, the revocation commits, and only then does the tagged failure
// surface.
func (s *authService) RefreshSession(ctx context.Context, refreshToken string, meta RequestMeta) (*auth.TokenPair, error) {
	digest := token.Digest(refreshToken)

	var (
		pair    *auth.TokenPair
		userID  *uuid.UUID
		failure error
	)

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		now := time.Now().UTC()

		current, err := tx.Sessions().LockByTokenHash(ctx, digest)
		if err != nil {
			if models.IsNotFoundError(err) {
				failure = ErrInvalidRefreshToken
				return nil
			}
			return err
		}
		userID = &current.UserID

		if current.IsRevoked() {
			failure = ErrRefreshTokenReuse
			return s.revokeChain(ctx, tx, current.ID, now)
		}

		if current.IsExpired(now) {
			failure = ErrRefreshTokenExpired
			return s.revokeChain(ctx, tx, current.ID, now)
		}

		// Strict equality only when both sides are recorded; a session created
		// without an IP or user agent never trips the check.
		if current.IP != nil && meta.IP != "" && *current.IP != meta.IP {
			failure = ErrSessionHijacking
			return s.revokeChain(ctx, tx, current.ID, now)
		}
		if current.UserAgent != nil && meta.UserAgent != "" && *current.UserAgent != meta.UserAgent {
			failure = ErrSessionHijacking
			return s.revokeChain(ctx, tx, current.ID, now)
		}

		next, newRefreshToken, err := s.newSession(ctx, tx, current.UserID, &current.ID, meta, now)
		if err != nil {
			return err
		}

		if err := tx.Sessions().Revoke(ctx, current.ID, now); err != nil {
			return err
		}

		pair, err = s.mintPair(current.UserID, newRefreshToken, next.RefreshExpiresAt)
		return err
	})
	if err != nil {
		return nil, err
	}

	if failure != nil {
		s.recordRefreshFailure(failure, userID, meta)
		return nil, failure
	}

	s.audit.RecordAsync(AuditEntry{
		UserID:    userID,
		Event:     models.AuditEventRefreshRotated,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})

	return pair, nil
}

// Logout revokes the session identified by the refresh token.
// Idempotent: revoking an already-revoked session succeeds and preserves the
// original revocation time.
func (s *authService) Logout(ctx context.Context, refreshToken string, meta RequestMeta) error {
	digest := token.Digest(refreshToken)

	var userID *uuid.UUID
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		session, err := tx.Sessions().LockByTokenHash(ctx, digest)
		if err != nil {
			if models.IsNotFoundError(err) {
				return ErrInvalidRefreshToken
			}
			return err
		}
		userID = &session.UserID
		return tx.Sessions().Revoke(ctx, session.ID, time.Now().UTC())
	})
	if err != nil {
		return err
	}

	s.audit.RecordAsync(AuditEntry{
		UserID:    userID,
		Event:     models.AuditEventLogout,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})

	return nil
}

// LogoutAll revokes every active session of the user
func (s *authService) LogoutAll(ctx context.Context, userID uuid.UUID, meta RequestMeta) error {
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		return tx.Sessions().RevokeAllForUser(ctx, userID, time.Now().UTC())
	})
	if err != nil {
		return err
	}

	s.audit.RecordAsync(AuditEntry{
		UserID:    &userID,
		Event:     models.AuditEventLogoutAll,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})

	return nil
}

// GetUser returns the user for an authenticated subject
func (s *authService) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		if models.IsNotFoundError(err) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return user, nil
}

// findOrCreateUser looks up the account by normalized email, creating it on
// first login. A concurrent insert loses to the unique constraint and falls
// back to the lookup.
func (s *authService) findOrCreateUser(ctx context.Context, tx repository.Store, email string) (*models.User, error) {
	user, err := tx.Users().GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, models.ErrUserNotFound) {
		return nil, err
	}

	user = &models.User{Email: email}
	if err := tx.Users().Create(ctx, user); err != nil {
		if errors.Is(err, models.ErrEmailAlreadyExists) {
			return tx.Users().GetByEmail(ctx, email)
		}
		return nil, err
	}
	return user, nil
}

// newSession mints a refresh token and inserts the session row carrying its digest
func (s *authService) newSession(
	ctx context.Context,
	tx repository.Store,
	userID uuid.UUID,
	rotatedFrom *uuid.UUID,
	meta RequestMeta,
	now time.Time,
) (*models.Session, string, error) {
	refreshToken, err := token.GenerateRefreshToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate refresh token: %w", err)
	}

	session := &models.Session{
		UserID:               userID,
		RefreshTokenHash:     token.Digest(refreshToken),
		RefreshExpiresAt:     now.Add(s.refreshTTL),
		RotatedFromSessionID: rotatedFrom,
		LastSeenAt:           &now,
		IP:                   nullable(meta.IP),
		UserAgent:            nullable(meta.UserAgent),
	}

	if err := tx.Sessions().Create(ctx, session); err != nil {
		return nil, "", fmt.Errorf("failed to create session: %w", err)
	}

	return session, refreshToken, nil
}

// mintPair mints the access token and assembles the credential pair
func (s *authService) mintPair(userID uuid.UUID, refreshToken string, refreshExpiresAt time.Time) (*auth.TokenPair, error) {
	accessToken, expiresAt, err := s.jwtService.MintAccessToken(userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to mint access token: %w", err)
	}

	return &auth.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  expiresAt,
		AccessExpiresIn:  int64(s.accessTTL.Seconds()),
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// revokeChain revokes the session and all its descendants in one update.
// Breadth-first over rotated_from_session_id children; the rotation graph is a
// forest (a row only references pre-existing rows), so traversal terminates.
func (s *authService) revokeChain(ctx context.Context, tx repository.Store, rootID uuid.UUID, at time.Time) error {
	ids := []uuid.UUID{rootID}
	seen := map[uuid.UUID]bool{rootID: true}

	frontier := []uuid.UUID{rootID}
	for len(frontier) > 0 {
		children, err := tx.Sessions().ListChildIDs(ctx, frontier)
		if err != nil {
			return err
		}
		frontier = frontier[:0]
		for _, id := range children {
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
			frontier = append(frontier, id)
		}
	}

	return tx.Sessions().RevokeMany(ctx, ids, at)
}

// recordRefreshFailure emits the audit event matching a refresh denial
func (s *authService) recordRefreshFailure(failure error, userID *uuid.UUID, meta RequestMeta) {
	var event models.AuditEvent
	switch {
	case errors.Is(failure, ErrRefreshTokenReuse):
		event = models.AuditEventRefreshReuse
	case errors.Is(failure, ErrSessionHijacking):
		event = models.AuditEventRefreshHijack
	default:
		return
	}

	s.logger.Warnw("refresh denied", "reason", failure.Error(), "ip", meta.IP)
	s.audit.RecordAsync(AuditEntry{
		UserID:    userID,
		Event:     event,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
}
