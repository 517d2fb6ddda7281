// Package auth provides JWT HMAC access-token signing services.
// #IMPLEMENTATION_DECISION: Symmetric HS256-family signing - single service verifies its own tokens
// #SECURITY_ASSUMPTION: Signing secret provided via environment, never persisted
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Custom errors
var (
	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenExpired         = errors.New("token has expired")
	ErrInvalidClaims        = errors.New("invalid token claims")
	ErrEmptySecret          = errors.New("signing secret must not be empty")
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
)

// Claims represents the JWT claims for access tokens: {sub, iat, exp}.
// The subject carries the user ID; no further authorization data is embedded.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenPair represents an access and refresh credential pair returned to clients.
// The refresh token is an opaque value managed by the session store, not a JWT.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	AccessExpiresIn  int64     `json:"access_expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// JWTService handles access-token minting and verification
// #IMPLEMENTATION_DECISION: Service interface for testability
type JWTService interface {
	// MintAccessToken creates a signed access token naming the user as subject
	MintAccessToken(userID string) (string, time.Time, error)

	// VerifyAccessToken validates signature and expiry, returning the subject.
	// No stateful revocation: refresh-side revocation is the kill switch.
	VerifyAccessToken(tokenString string) (string, error)
}

// jwtService implements JWTService
type jwtService struct {
	secret            []byte
	method            *jwt.SigningMethodHMAC
	accessTokenExpiry time.Duration
	issuer            string
}

// JWTConfig holds JWT service configuration
type JWTConfig struct {
	Secret            string
	Algorithm         string
	AccessTokenExpiry time.Duration
	Issuer            string
}

// NewJWTService creates a new JWT service instance
// #LIBRARY_CHOICE: golang-jwt/jwt/v5 - well-maintained, supports the HS256 family
func NewJWTService(cfg JWTConfig) (JWTService, error) {
	if cfg.Secret == "" {
		return nil, ErrEmptySecret
	}

	method, err := hmacMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	return &jwtService{
		secret:            []byte(cfg.Secret),
		method:            method,
		accessTokenExpiry: cfg.AccessTokenExpiry,
		issuer:            cfg.Issuer,
	}, nil
}

// MintAccessToken creates a new access token for the given subject
func (s *jwtService) MintAccessToken(userID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessTokenExpiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(s.method, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// VerifyAccessToken validates an access token and returns its subject
func (s *jwtService) VerifyAccessToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidClaims
	}

	if claims.Subject == "" {
		return "", ErrInvalidClaims
	}

	return claims.Subject, nil
}

// hmacMethod resolves a configured algorithm name to an HMAC signing method
func hmacMethod(name string) (*jwt.SigningMethodHMAC, error) {
	switch name {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, name)
	}
}
