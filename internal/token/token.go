// Package token generates opaque credentials and their persisted digests.
// #SECURITY_CONCERN: Plaintext tokens exist only in responses; stores compare digests
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Token sizes in bytes before encoding
// #IMPLEMENTATION_DECISION: 32 bytes for challenges (256-bit entropy), 48 for refresh tokens
const (
	challengeTokenBytes = 32
	refreshTokenBytes   = 48
)

// GenerateChallengeToken returns a URL-safe magic-link token from a
// cryptographically secure source.
func GenerateChallengeToken() (string, error) {
	return generate(challengeTokenBytes)
}

// GenerateRefreshToken returns a URL-safe refresh token from a
// cryptographically secure source.
func GenerateRefreshToken() (string, error) {
	return generate(refreshTokenBytes)
}

// Digest returns the lowercase hex SHA-256 digest of a token.
// Deterministic; this is the only form of a token that reaches persistence.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generate(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
