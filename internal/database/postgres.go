// Package database provides PostgreSQL connection and initialization utilities
// #SCHEMA_IMPLEMENTATION: Using sqlx over lib/pq with connection pooling
package database

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Config holds PostgreSQL connection configuration
type Config struct {
	URL              string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
}

// DefaultConfig returns default PostgreSQL configuration
func DefaultConfig() Config {
	return Config{
		URL:              "postgres://localhost:5432/keyra?sslmode=disable",
		MaxOpenConns:     25,
		MaxIdleConns:     25,
		ConnMaxLifetime:  5 * time.Minute,
		ConnectTimeout:   10 * time.Second,
		StatementTimeout: 2 * time.Second,
	}
}

// Client wraps the sqlx database handle with helper methods
type Client struct {
	db     *sqlx.DB
	config Config
}

// NewClient connects to PostgreSQL and verifies the connection
func NewClient(cfg Config) (*Client, error) {
	dsn, err := withStatementTimeout(cfg.URL, cfg.StatementTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	// #IMPLEMENTATION_DECISION: Pool sizes bounded; auth traffic is short transactions
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{
		db:     db,
		config: cfg,
	}, nil
}

// DB returns the underlying sqlx database handle
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Ping verifies the database connection
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the connection pool
func (c *Client) Close() error {
	return c.db.Close()
}

// WithTx executes a function within a database transaction.
// The transaction is rolled back when fn returns an error or panics,
// committed otherwise.
// #IMPLEMENTATION_DECISION: All multi-step auth operations own exactly one transaction
func (c *Client) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// HealthCheck performs a health check on the database connection
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var one int
	if err := c.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// withStatementTimeout appends a server-side statement_timeout to the DSN so
// every statement carries a bounded timeout without per-query plumbing.
func withStatementTimeout(rawURL string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return rawURL, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	if q.Get("statement_timeout") == "" {
		q.Set("statement_timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
