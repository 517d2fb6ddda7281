package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/checkfix-tools/keyra-auth/internal/auth"
	"github.com/checkfix-tools/keyra-auth/internal/models"
	"github.com/checkfix-tools/keyra-auth/internal/repository"
	"github.com/checkfix-tools/keyra-auth/internal/token"
)

// fakeStore is an in-memory Store honoring the repository contracts
type fakeStore struct {
	mu         sync.Mutex
	users      map[uuid.UUID]*models.User
	challenges map[uuid.UUID]*models.LoginChallenge
	sessions   map[uuid.UUID]*models.Session
	auditLogs  []models.AuditLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      make(map[uuid.UUID]*models.User),
		challenges: make(map[uuid.UUID]*models.LoginChallenge),
		sessions:   make(map[uuid.UUID]*models.Session),
	}
}

func (s *fakeStore) Users() repository.UserRepository           { return &fakeUserRepo{s} }
func (s *fakeStore) Challenges() repository.ChallengeRepository { return &fakeChallengeRepo{s} }
func (s *fakeStore) Sessions() repository.SessionRepository     { return &fakeSessionRepo{s} }
func (s *fakeStore) Audit() repository.AuditRepository          { return &fakeAuditRepo{s} }

func (s *fakeStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return fn(s)
}

type fakeUserRepo struct{ s *fakeStore }

func (r *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user.BeforeCreate()
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return models.ErrEmailAlreadyExists
		}
	}
	cp := *user
	r.s.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrUserNotFound
}

type fakeChallengeRepo struct{ s *fakeStore }

func (r *fakeChallengeRepo) Create(ctx context.Context, challenge *models.LoginChallenge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	challenge.BeforeCreate()
	for _, c := range r.s.challenges {
		if c.TokenHash == challenge.TokenHash {
			return models.ErrAlreadyExists
		}
	}
	cp := *challenge
	r.s.challenges[challenge.ID] = &cp
	return nil
}

func (r *fakeChallengeRepo) LockValidByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*models.LoginChallenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.challenges {
		if c.TokenHash == tokenHash && c.CanBeUsed(now) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, models.ErrChallengeNotFound
}

func (r *fakeChallengeRepo) MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.challenges[id]
	if !ok {
		return models.ErrChallengeNotFound
	}
	c.MarkUsed(usedAt)
	return nil
}

func (r *fakeChallengeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var deleted int64
	for id, c := range r.s.challenges {
		if c.IsExpired(now) {
			delete(r.s.challenges, id)
			deleted++
		}
	}
	return deleted, nil
}

type fakeSessionRepo struct{ s *fakeStore }

func (r *fakeSessionRepo) Create(ctx context.Context, session *models.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	session.BeforeCreate()
	for _, existing := range r.s.sessions {
		if existing.RefreshTokenHash == session.RefreshTokenHash {
			return models.ErrAlreadyExists
		}
	}
	cp := *session
	r.s.sessions[session.ID] = &cp
	return nil
}

func (r *fakeSessionRepo) LockByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sess := range r.s.sessions {
		if sess.RefreshTokenHash == tokenHash {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, models.ErrSessionNotFound
}

func (r *fakeSessionRepo) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return models.ErrSessionNotFound
	}
	sess.Revoke(at)
	return nil
}

func (r *fakeSessionRepo) RevokeMany(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		if sess, ok := r.s.sessions[id]; ok {
			sess.Revoke(at)
		}
	}
	return nil
}

func (r *fakeSessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sess := range r.s.sessions {
		if sess.UserID == userID {
			sess.Revoke(at)
		}
	}
	return nil
}

func (r *fakeSessionRepo) ListChildIDs(ctx context.Context, parentIDs []uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	parents := make(map[uuid.UUID]bool, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = true
	}
	var children []uuid.UUID
	for _, sess := range r.s.sessions {
		if sess.RotatedFromSessionID != nil && parents[*sess.RotatedFromSessionID] {
			children = append(children, sess.ID)
		}
	}
	return children, nil
}

type fakeAuditRepo struct{ s *fakeStore }

func (r *fakeAuditRepo) Create(ctx context.Context, log *models.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	log.BeforeCreate()
	r.s.auditLogs = append(r.s.auditLogs, *log)
	return nil
}

// fakeLimiter admits or denies every request
type fakeLimiter struct{ allow bool }

func (l *fakeLimiter) Admit(ctx context.Context, email, ip string) bool { return l.allow }

// fakeSender captures issued tokens
type fakeSender struct {
	mu     sync.Mutex
	emails []string
	tokens []string
}

func (f *fakeSender) SendMagicLink(ctx context.Context, email, tok string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, email)
	f.tokens = append(f.tokens, tok)
	return nil
}

func (f *fakeSender) lastToken(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tokens) == 0 {
		t.Fatal("no magic link was sent")
	}
	return f.tokens[len(f.tokens)-1]
}

// fakeAudit records entries synchronously for assertions
type fakeAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (f *fakeAudit) Record(ctx context.Context, entry AuditEntry) error {
	f.RecordAsync(entry)
	return nil
}

func (f *fakeAudit) RecordAsync(entry AuditEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeAudit) hasEvent(event models.AuditEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.Event == event {
			return true
		}
	}
	return false
}

type testEnv struct {
	svc     AuthService
	store   *fakeStore
	sender  *fakeSender
	audit   *fakeAudit
	limiter *fakeLimiter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:            "test-signing-secret",
		Algorithm:         "HS256",
		AccessTokenExpiry: 15 * time.Minute,
		Issuer:            "test",
	})
	if err != nil {
		t.Fatalf("Failed to create JWT service: %v", err)
	}

	env := &testEnv{
		store:   newFakeStore(),
		sender:  &fakeSender{},
		audit:   &fakeAudit{},
		limiter: &fakeLimiter{allow: true},
	}
	env.svc = NewAuthService(
		env.store,
		jwtService,
		env.limiter,
		env.sender,
		env.audit,
		zap.NewNop().Sugar(),
		AuthServiceConfig{
			ChallengeTTL:    10 * time.Minute,
			RefreshTokenTTL: 30 * 24 * time.Hour,
			AccessTokenTTL:  15 * time.Minute,
		},
	)
	return env
}

var testMeta = RequestMeta{IP: "10.0.0.1", UserAgent: "test-agent"}

// login runs the full request+verify flow and returns the token pair
func (env *testEnv) login(t *testing.T, email string, meta RequestMeta) *auth.TokenPair {
	t.Helper()
	ctx := context.Background()

	if err := env.svc.RequestMagicLink(ctx, email, meta); err != nil {
		t.Fatalf("RequestMagicLink() error = %v", err)
	}

	pair, err := env.svc.VerifyMagicLink(ctx, env.sender.lastToken(t), meta)
	if err != nil {
		t.Fatalf("VerifyMagicLink() error = %v", err)
	}
	return pair
}

func (env *testEnv) sessionByToken(t *testing.T, refreshToken string) *models.Session {
	t.Helper()
	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	digest := token.Digest(refreshToken)
	for _, sess := range env.store.sessions {
		if sess.RefreshTokenHash == digest {
			cp := *sess
			return &cp
		}
	}
	t.Fatalf("no session found for refresh token")
	return nil
}

func TestRequestMagicLink_CreatesChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svc.RequestMagicLink(ctx, "  Alice@Example.Com ", testMeta); err != nil {
		t.Fatalf("RequestMagicLink() error = %v", err)
	}

	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	if len(env.store.challenges) != 1 {
		t.Fatalf("challenge count = %d, want 1", len(env.store.challenges))
	}
	for _, c := range env.store.challenges {
		if c.Email != "alice@example.com" {
			t.Errorf("challenge email = %q, want normalized", c.Email)
		}
		if c.TokenHash == env.sender.tokens[0] {
			t.Error("plaintext token was persisted")
		}
		if c.TokenHash != token.Digest(env.sender.tokens[0]) {
			t.Error("persisted hash does not match issued token digest")
		}
	}
}

func TestRequestMagicLink_RateLimitedIsSilent(t *testing.T) {
	env := newTestEnv(t)
	env.limiter.allow = false
	ctx := context.Background()

	if err := env.svc.RequestMagicLink(ctx, "alice@example.com", testMeta); err != nil {
		t.Fatalf("RequestMagicLink() error = %v, want silent success", err)
	}

	env.store.mu.Lock()
	challengeCount := len(env.store.challenges)
	env.store.mu.Unlock()

	if challengeCount != 0 {
		t.Errorf("challenge count = %d, want 0 when rate limited", challengeCount)
	}
	if !env.audit.hasEvent(models.AuditEventMagicRateLimited) {
		t.Error("rate-limited request did not record an audit event")
	}
}

func TestVerifyMagicLink_HappyPath(t *testing.T) {
	env := newTestEnv(t)

	pair := env.login(t, "Alice@Example.Com", testMeta)

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("login returned empty credentials")
	}

	env.store.mu.Lock()
	defer env.store.mu.Unlock()

	if len(env.store.users) != 1 {
		t.Fatalf("user count = %d, want 1", len(env.store.users))
	}
	for _, u := range env.store.users {
		if u.Email != "alice@example.com" {
			t.Errorf("user email = %q, want normalized", u.Email)
		}
		if u.EmailVerifiedAt != nil {
			t.Error("EmailVerifiedAt must stay null on verification")
		}
	}

	if len(env.store.sessions) != 1 {
		t.Fatalf("session count = %d, want 1", len(env.store.sessions))
	}
	for _, sess := range env.store.sessions {
		if sess.RotatedFromSessionID != nil {
			t.Error("initial session must be a rotation root")
		}
		if sess.RefreshTokenHash != token.Digest(pair.RefreshToken) {
			t.Error("session hash does not match issued refresh token")
		}
	}

	for _, c := range env.store.challenges {
		if !c.IsUsed() {
			t.Error("challenge was not marked used")
		}
	}
}

func TestVerifyMagicLink_Replay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.login(t, "alice@example.com", testMeta)
	replayed := env.sender.lastToken(t)

	_, err := env.svc.VerifyMagicLink(ctx, replayed, testMeta)
	if !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("replayed verify error = %v, want ErrInvalidOrExpiredToken", err)
	}

	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	if len(env.store.sessions) != 1 {
		t.Errorf("session count = %d, want 1 after replay", len(env.store.sessions))
	}
}

func TestVerifyMagicLink_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	plaintext, err := token.GenerateChallengeToken()
	if err != nil {
		t.Fatalf("GenerateChallengeToken() error = %v", err)
	}
	expired := &models.LoginChallenge{
		Email:     "alice@example.com",
		TokenHash: token.Digest(plaintext),
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	if err := env.store.Challenges().Create(ctx, expired); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := env.svc.VerifyMagicLink(ctx, plaintext, testMeta); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Errorf("expired verify error = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestVerifyMagicLink_UnknownToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.VerifyMagicLink(context.Background(), "no-such-token-at-all", testMeta)
	if !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Errorf("unknown token error = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestVerifyMagicLink_ExistingUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	existing := &models.User{Email: "alice@example.com"}
	if err := env.store.Users().Create(ctx, existing); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	env.login(t, "alice@example.com", testMeta)

	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	if len(env.store.users) != 1 {
		t.Errorf("user count = %d, want 1 (no duplicate account)", len(env.store.users))
	}
	for _, sess := range env.store.sessions {
		if sess.UserID != existing.ID {
			t.Errorf("session user = %v, want %v", sess.UserID, existing.ID)
		}
	}
}

func TestRefreshSession_Rotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair := env.login(t, "alice@example.com", testMeta)
	oldSession := env.sessionByToken(t, pair.RefreshToken)

	newPair, err := env.svc.RefreshSession(ctx, pair.RefreshToken, testMeta)
	if err != nil {
		t.Fatalf("RefreshSession() error = %v", err)
	}
	if newPair.RefreshToken == pair.RefreshToken {
		t.Error("rotation returned the same refresh token")
	}

	rotated := env.sessionByToken(t, newPair.RefreshToken)
	if rotated.RotatedFromSessionID == nil || *rotated.RotatedFromSessionID != oldSession.ID {
		t.Error("rotated session does not reference its parent")
	}

	old := env.sessionByToken(t, pair.RefreshToken)
	if !old.IsRevoked() {
		t.Error("parent session was not revoked at rotation")
	}
	if !env.audit.hasEvent(models.AuditEventRefreshRotated) {
		t.Error("rotation did not record an audit event")
	}
}

func TestRefreshSession_ReuseRevokesChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair := env.login(t, "alice@example.com", testMeta)
	newPair, err := env.svc.RefreshSession(ctx, pair.RefreshToken, testMeta)
	if err != nil {
		t.Fatalf("RefreshSession() error = %v", err)
	}

	// Present the pre-rotation token again
	_, err = env.svc.RefreshSession(ctx, pair.RefreshToken, testMeta)
	if !errors.Is(err, ErrRefreshTokenReuse) {
		t.Fatalf("reuse error = %v, want ErrRefreshTokenReuse", err)
	}

	if !env.sessionByToken(t, pair.RefreshToken).IsRevoked() {
		t.Error("reused session not revoked")
	}
	if !env.sessionByToken(t, newPair.RefreshToken).IsRevoked() {
		t.Error("descendant session not revoked after reuse detection")
	}
	if !env.audit.hasEvent(models.AuditEventRefreshReuse) {
		t.Error("reuse detection did not record an audit event")
	}

	// The revoked descendant now trips reuse detection too
	if _, err := env.svc.RefreshSession(ctx, newPair.RefreshToken, testMeta); !errors.Is(err, ErrRefreshTokenReuse) {
		t.Errorf("descendant refresh error = %v, want ErrRefreshTokenReuse", err)
	}
}

func TestRefreshSession_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := &models.User{Email: "alice@example.com"}
	if err := env.store.Users().Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	refreshToken, err := token.GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	expired := &models.Session{
		UserID:           user.ID,
		RefreshTokenHash: token.Digest(refreshToken),
		RefreshExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := env.store.Sessions().Create(ctx, expired); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := env.svc.RefreshSession(ctx, refreshToken, testMeta); !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("expired refresh error = %v, want ErrRefreshTokenExpired", err)
	}
	if !env.sessionByToken(t, refreshToken).IsRevoked() {
		t.Error("expired session not revoked")
	}
}

func TestRefreshSession_HijackByIP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair := env.login(t, "alice@example.com", RequestMeta{IP: "10.0.0.1", UserAgent: "test-agent"})

	_, err := env.svc.RefreshSession(ctx, pair.RefreshToken, RequestMeta{IP: "10.0.0.2", UserAgent: "test-agent"})
	if !errors.Is(err, ErrSessionHijacking) {
		t.Fatalf("hijack error = %v, want ErrSessionHijacking", err)
	}
	if !env.sessionByToken(t, pair.RefreshToken).IsRevoked() {
		t.Error("hijacked session not revoked")
	}
	if !env.audit.hasEvent(models.AuditEventRefreshHijack) {
		t.Error("hijack detection did not record an audit event")
	}
}

func TestRefreshSession_HijackByUserAgent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair := env.login(t, "alice@example.com", RequestMeta{IP: "10.0.0.1", UserAgent: "agent-a"})

	_, err := env.svc.RefreshSession(ctx, pair.RefreshToken, RequestMeta{IP: "10.0.0.1", UserAgent: "agent-b"})
	if !errors.Is(err, ErrSessionHijacking) {
		t.Errorf("hijack error = %v, want ErrSessionHijacking", err)
	}
}

func TestRefreshSession_MissingStoredIPSkipsCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Session created with no recorded IP or user agent
	pair := env.login(t, "alice@example.com", RequestMeta{})

	if _, err := env.svc.RefreshSession(ctx, pair.RefreshToken, RequestMeta{IP: "10.0.0.9", UserAgent: "late-agent"}); err != nil {
		t.Errorf("RefreshSession() error = %v, want success when stored IP is null", err)
	}
}

func TestRefreshSession_UnknownToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.RefreshSession(context.Background(), "unknown-refresh-token", testMeta)
	if !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("unknown refresh error = %v, want ErrInvalidRefreshToken", err)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair := env.login(t, "alice@example.com", testMeta)

	if err := env.svc.Logout(ctx, pair.RefreshToken, testMeta); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	first := env.sessionByToken(t, pair.RefreshToken).RevokedAt
	if first == nil {
		t.Fatal("logout did not revoke the session")
	}

	if err := env.svc.Logout(ctx, pair.RefreshToken, testMeta); err != nil {
		t.Fatalf("second Logout() error = %v, want idempotent success", err)
	}
	second := env.sessionByToken(t, pair.RefreshToken).RevokedAt
	if !second.Equal(*first) {
		t.Errorf("second logout changed RevokedAt from %v to %v", first, second)
	}
}

func TestLogout_UnknownToken(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.Logout(context.Background(), "unknown-refresh-token", testMeta)
	if !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("unknown logout error = %v, want ErrInvalidRefreshToken", err)
	}
}

func TestLogoutAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.login(t, "alice@example.com", testMeta)
	second := env.login(t, "alice@example.com", testMeta)

	var userID uuid.UUID
	env.store.mu.Lock()
	for _, u := range env.store.users {
		userID = u.ID
	}
	env.store.mu.Unlock()

	if err := env.svc.LogoutAll(ctx, userID, testMeta); err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}

	if !env.sessionByToken(t, first.RefreshToken).IsRevoked() {
		t.Error("first session not revoked by logout-all")
	}
	if !env.sessionByToken(t, second.RefreshToken).IsRevoked() {
		t.Error("second session not revoked by logout-all")
	}
	if !env.audit.hasEvent(models.AuditEventLogoutAll) {
		t.Error("logout-all did not record an audit event")
	}

	// Idempotent: a second call is a no-op success
	if err := env.svc.LogoutAll(ctx, userID, testMeta); err != nil {
		t.Errorf("second LogoutAll() error = %v, want success", err)
	}
}

func TestGetUser_Unknown(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.GetUser(context.Background(), uuid.New())
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("GetUser() error = %v, want ErrUnauthorized", err)
	}
}
