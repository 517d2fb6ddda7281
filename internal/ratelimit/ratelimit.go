// Package ratelimit provides distributed fixed-window admission counters.
// #IMPLEMENTATION_DECISION: Redis INCR + EXPIRE NX; the window starts at the first increment
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// unknownIPBucket is the shared bucket for requesters with no resolvable IP
const unknownIPBucket = "unknown"

// Limiter admits or denies magic-link requests
// #INTEGRATION_POINT: Consulted by the auth state machine before challenge issuance
type Limiter interface {
	// Admit increments the per-email and per-IP counters and reports whether
	// the request is within limits. Denials are silent at the API surface.
	Admit(ctx context.Context, email, ip string) bool
}

// Config holds rate limiter tunables
type Config struct {
	Max     int64
	Window  time.Duration
	Timeout time.Duration
}

// DefaultConfig returns the default admission limits
func DefaultConfig() Config {
	return Config{
		Max:     5,
		Window:  10 * time.Minute,
		Timeout: 200 * time.Millisecond,
	}
}

// RedisLimiter implements Limiter over a shared Redis instance
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	logger *zap.SugaredLogger
}

// NewRedisLimiter creates a new Redis-backed limiter
func NewRedisLimiter(client *redis.Client, cfg Config, logger *zap.SugaredLogger) *RedisLimiter {
	if cfg.Max <= 0 {
		cfg.Max = DefaultConfig().Max
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &RedisLimiter{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Admit increments both counters in one pipeline and denies when either
// exceeds the window maximum.
// #SECURITY_CONCERN: Fails open on Redis outage - denying all logins on infra
// failure is worse than a briefly relaxed limit. Revisit if abuse observed.
func (l *RedisLimiter) Admit(ctx context.Context, email, ip string) bool {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	pipe := l.client.Pipeline()
	emailCount := pipe.Incr(ctx, emailKey(email))
	pipe.ExpireNX(ctx, emailKey(email), l.cfg.Window)
	ipCount := pipe.Incr(ctx, ipKey(ip))
	pipe.ExpireNX(ctx, ipKey(ip), l.cfg.Window)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warnw("rate limit check failed, admitting", "error", err)
		return true
	}

	return emailCount.Val() <= l.cfg.Max && ipCount.Val() <= l.cfg.Max
}

func emailKey(email string) string {
	return "rl:magic:email:" + email
}

func ipKey(ip string) string {
	if ip == "" {
		ip = unknownIPBucket
	}
	return "rl:magic:ip:" + ip
}

// Ensure RedisLimiter implements Limiter
var _ Limiter = (*RedisLimiter)(nil)
