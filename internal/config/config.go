// Package config provides configuration loading from environment variables.
// #IMPLEMENTATION_DECISION: Using envconfig for type-safe environment variable parsing
// #CODE_ASSUMPTION: All secrets provided via environment variables (no secret manager integration)
package config

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
// #INTEGRATION_POINT: All services depend on this configuration
type Config struct {
	// Database configuration
	DatabaseURL          string        `envconfig:"DATABASE_URL" required:"true"`
	DatabaseMaxOpenConns int           `envconfig:"DATABASE_MAX_OPEN_CONNS" default:"25"`
	DatabaseMaxIdleConns int           `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"25"`
	DatabaseConnLifetime time.Duration `envconfig:"DATABASE_CONN_LIFETIME" default:"5m"`
	StatementTimeout     time.Duration `envconfig:"STATEMENT_TIMEOUT" default:"2s"`

	// Redis configuration
	RedisURL string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`

	// JWT configuration
	JWTSecret             string `envconfig:"JWT_SECRET" required:"true"`
	JWTAlgorithm          string `envconfig:"JWT_ALGORITHM" default:"HS256"`
	AccessTokenTTLMinutes int    `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"15"`
	RefreshTokenTTLDays   int    `envconfig:"REFRESH_TOKEN_TTL_DAYS" default:"30"`

	// Cookie configuration
	CookieSecure   bool   `envconfig:"COOKIE_SECURE" default:"true"`
	CookieSameSite string `envconfig:"COOKIE_SAMESITE" default:"lax"`
	CookieDomain   string `envconfig:"COOKIE_DOMAIN"`

	// Server configuration
	ServerPort  string `envconfig:"SERVER_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Magic link configuration
	MagicLinkBaseURL string        `envconfig:"MAGIC_LINK_BASE_URL" default:"http://localhost:3000"`
	MagicLinkExpiry  time.Duration `envconfig:"MAGIC_LINK_EXPIRY" default:"10m"`

	// CORS configuration
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`

	// Rate limiting
	RateLimitMax     int           `envconfig:"RATE_LIMIT_MAX" default:"5"`
	RateLimitWindow  time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"10m"`
	RateLimitTimeout time.Duration `envconfig:"RATE_LIMIT_TIMEOUT" default:"200ms"`
}

var (
	instance *Config
	once     sync.Once
	errInit  error
)

// Load loads configuration from environment variables.
// #IMPLEMENTATION_DECISION: Singleton pattern ensures config is loaded once
func Load() (*Config, error) {
	once.Do(func() {
		instance = &Config{}
		errInit = envconfig.Process("KEYRA", instance)
		if errInit != nil {
			return
		}

		switch instance.JWTAlgorithm {
		case "HS256", "HS384", "HS512":
		default:
			errInit = fmt.Errorf("unsupported JWT algorithm: %s", instance.JWTAlgorithm)
			return
		}

		switch strings.ToLower(instance.CookieSameSite) {
		case "lax", "strict", "none":
		default:
			errInit = fmt.Errorf("invalid cookie samesite mode: %s", instance.CookieSameSite)
		}
	})

	return instance, errInit
}

// GetConfig returns the loaded configuration.
// Panics if configuration has not been loaded.
func GetConfig() *Config {
	if instance == nil {
		panic("config: Load() must be called before GetConfig()")
	}
	return instance
}

// AccessTokenTTL returns the access-token lifetime as a duration
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// RefreshTokenTTL returns the refresh-token lifetime as a duration
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLDays) * 24 * time.Hour
}

// CookieSameSiteMode maps the configured samesite name to its http constant
func (c *Config) CookieSameSiteMode() http.SameSite {
	switch strings.ToLower(c.CookieSameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
