// Package main provides a CLI tool to generate a magic link for user authentication.
// Usage: go run cmd/generate-magic-link/main.go -email "user@example.com"
// This is useful for development when no email transport is wired.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/checkfix-tools/keyra-auth/internal/models"
	"github.com/checkfix-tools/keyra-auth/internal/token"
)

func main() {
	// Define command line flags
	email := flag.String("email", "", "Email to generate a magic link for (required)")
	envFile := flag.String("env", "", "Path to .env file (defaults to .env in current dir)")
	baseURL := flag.String("base-url", "", "Override KEYRA_MAGIC_LINK_BASE_URL from environment")
	ttl := flag.Duration("ttl", models.ChallengeExpiryDuration, "Challenge validity window")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generates a magic link for passwordless login (development use).\n\n")
		fmt.Fprintf(os.Stderr, "Configuration is loaded from .env file and/or environment variables.\n\n")
		fmt.Fprintf(os.Stderr, "Config (via .env or environment):\n")
		fmt.Fprintf(os.Stderr, "  KEYRA_DATABASE_URL        PostgreSQL connection URL (required)\n")
		fmt.Fprintf(os.Stderr, "  KEYRA_MAGIC_LINK_BASE_URL Frontend base URL for magic links (default http://localhost:3000)\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -email \"user@example.com\"\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -email \"user@example.com\" -base-url \"http://localhost:3000\"\n", os.Args[0])
	}

	flag.Parse()

	// Load .env file
	loadEnvFile(*envFile)

	// Validate required flags
	if *email == "" {
		log.Fatal("Error: -email is required")
	}

	// Validate email format
	if !isValidEmail(*email) {
		log.Fatalf("Error: invalid email format: %s", *email)
	}

	// Load database configuration from environment
	dbURL := os.Getenv("KEYRA_DATABASE_URL")
	if dbURL == "" {
		log.Fatal("Error: KEYRA_DATABASE_URL environment variable is required")
	}

	// Get magic link base URL
	magicLinkBaseURL := *baseURL
	if magicLinkBaseURL == "" {
		magicLinkBaseURL = os.Getenv("KEYRA_MAGIC_LINK_BASE_URL")
	}
	if magicLinkBaseURL == "" {
		magicLinkBaseURL = "http://localhost:3000" // Default for development
	}

	// Connect to PostgreSQL
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()

	// Mint the challenge. Accounts are created lazily at verification, so the
	// email does not need to belong to an existing user.
	normalized := models.NormalizeEmail(*email)

	plaintext, err := token.GenerateChallengeToken()
	if err != nil {
		log.Fatalf("Failed to generate challenge token: %v", err)
	}

	now := time.Now().UTC()
	challenge := models.LoginChallenge{
		Email:     normalized,
		TokenHash: token.Digest(plaintext),
		ExpiresAt: now.Add(*ttl),
	}
	challenge.BeforeCreate()

	_, err = db.ExecContext(ctx,
		`INSERT INTO login_challenges
			(id, email, token_hash, expires_at, used_at, request_ip, request_user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		challenge.ID, challenge.Email, challenge.TokenHash, challenge.ExpiresAt,
		challenge.UsedAt, challenge.RequestIP, challenge.RequestUserAgent, challenge.CreatedAt)
	if err != nil {
		log.Fatalf("Failed to create login challenge: %v", err)
	}

	magicLinkURL := fmt.Sprintf("%s/auth/verify/%s", magicLinkBaseURL, plaintext)

	// Output results
	fmt.Println()
	fmt.Println("=== Magic Link Generated ===")
	fmt.Printf("  Email:   %s\n", challenge.Email)
	fmt.Printf("  Expires: %s (%d minutes)\n", challenge.ExpiresAt.Format(time.RFC3339), int(ttl.Minutes()))
	fmt.Println()
	fmt.Println("Magic Link URL:")
	fmt.Println(magicLinkURL)
	fmt.Println()
	fmt.Println("Token (for POST /auth/magic/verify):")
	fmt.Println(plaintext)
	fmt.Println()
	fmt.Println("Note: This link can only be used once.")
}

// isValidEmail performs basic email validation
func isValidEmail(email string) bool {
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	matched, _ := regexp.MatchString(pattern, email)
	return matched
}

// loadEnvFile loads environment variables from a .env file
func loadEnvFile(path string) {
	if path == "" {
		cwd, _ := os.Getwd()
		if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
			path = ".env"
		}
	}

	if path != "" {
		if err := godotenv.Load(path); err != nil {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	}
}
