// Package main is the entry point for the Keyra authentication service.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/checkfix-tools/keyra-auth/internal/auth"
	"github.com/checkfix-tools/keyra-auth/internal/config"
	"github.com/checkfix-tools/keyra-auth/internal/database"
	"github.com/checkfix-tools/keyra-auth/internal/handlers"
	"github.com/checkfix-tools/keyra-auth/internal/middleware"
	"github.com/checkfix-tools/keyra-auth/internal/ratelimit"
	"github.com/checkfix-tools/keyra-auth/internal/repository"
	"github.com/checkfix-tools/keyra-auth/internal/services"
)

// Build-time variables (set via ldflags)
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck // Flush on shutdown; stderr sync errors are benign
	sugar := logger.Sugar()

	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database connection
	ctx := context.Background()
	dbClient, err := database.NewClient(database.Config{
		URL:              cfg.DatabaseURL,
		MaxOpenConns:     cfg.DatabaseMaxOpenConns,
		MaxIdleConns:     cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime:  cfg.DatabaseConnLifetime,
		ConnectTimeout:   10 * time.Second,
		StatementTimeout: cfg.StatementTimeout,
	})
	if err != nil {
		sugar.Fatalw("failed to connect to database", "error", err)
	}
	defer func() {
		if closeErr := dbClient.Close(); closeErr != nil {
			sugar.Errorw("error closing database connection", "error", closeErr)
		}
	}()

	// Ensure schema
	sugar.Info("ensuring database schema")
	if schemaErr := dbClient.EnsureSchema(ctx); schemaErr != nil {
		sugar.Fatalw("failed to ensure schema", "error", schemaErr)
	}

	// Initialize Redis connection for rate limiting
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		sugar.Fatalw("invalid redis URL", "error", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			sugar.Errorw("error closing redis connection", "error", closeErr)
		}
	}()

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
		// Rate limiting fails open, so a cold Redis only degrades limits
		sugar.Warnw("redis unreachable at startup", "error", pingErr)
	}
	cancelPing()

	// Initialize JWT service
	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:            cfg.JWTSecret,
		Algorithm:         cfg.JWTAlgorithm,
		AccessTokenExpiry: cfg.AccessTokenTTL(),
		Issuer:            "keyra-auth",
	})
	if err != nil {
		sugar.Fatalw("failed to initialize JWT service", "error", err)
	}

	// Initialize store and services
	store := repository.NewPostgresStore(dbClient)

	limiter := ratelimit.NewRedisLimiter(redisClient, ratelimit.Config{
		Max:     int64(cfg.RateLimitMax),
		Window:  cfg.RateLimitWindow,
		Timeout: cfg.RateLimitTimeout,
	}, sugar)

	auditService := services.NewAuditService(store.Audit(), sugar)
	sender := services.NewLogMagicLinkSender(cfg.MagicLinkBaseURL, sugar)

	authService := services.NewAuthService(
		store,
		jwtService,
		limiter,
		sender,
		auditService,
		sugar,
		services.AuthServiceConfig{
			ChallengeTTL:    cfg.MagicLinkExpiry,
			RefreshTokenTTL: cfg.RefreshTokenTTL(),
			AccessTokenTTL:  cfg.AccessTokenTTL(),
		},
	)

	// Initialize handlers
	cookieCfg := handlers.CookieConfig{
		Secure:        cfg.CookieSecure,
		SameSite:      cfg.CookieSameSiteMode(),
		Domain:        cfg.CookieDomain,
		AccessMaxAge:  int(cfg.AccessTokenTTL().Seconds()),
		RefreshMaxAge: int(cfg.RefreshTokenTTL().Seconds()),
	}
	authHandler := handlers.NewAuthHandler(authService, cookieCfg, sugar)
	healthHandler := handlers.NewHealthHandler(dbClient, redisClient, Version)

	// Create Gin router
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(middleware.SecureHeaders())
	router.Use(middleware.BearerAuth(jwtService))

	// Register routes
	healthHandler.RegisterRoutes(router)
	authHandler.RegisterRoutes(&router.RouterGroup)

	// Background sweep of expired login challenges
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	go sweepExpiredChallenges(sweepCtx, store, sugar)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		sugar.Infow("starting keyra-auth server",
			"version", Version,
			"commit", GitCommit,
			"port", cfg.ServerPort,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("shutting down server")
	cancelSweep()

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown server gracefully
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("server forced to shutdown", "error", err)
	}

	sugar.Info("server shutdown complete")
}

// newLogger builds the process logger for the configured environment
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// sweepExpiredChallenges periodically deletes expired login challenges.
// Expired rows are already unusable; this keeps the table from growing unbounded.
func sweepExpiredChallenges(ctx context.Context, store repository.Store, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := store.Challenges().DeleteExpired(ctx, time.Now().UTC())
			if err != nil {
				logger.Warnw("failed to sweep expired challenges", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Infow("swept expired login challenges", "deleted", deleted)
			}
		}
	}
}
