// Package middleware provides HTTP middleware for Gin framework.
// #IMPLEMENTATION_DECISION: Middleware chain for authentication, correlation, and logging
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/checkfix-tools/keyra-auth/internal/auth"
)

// Context keys for storing authenticated request data
// #INTEGRATION_POINT: Handlers extract the subject using these keys
const (
	ContextKeyUserID = "user_id"
)

// AccessTokenCookie is the cookie carrying the access token
const AccessTokenCookie = "access_token"

// BearerAuth decodes the access token and attaches the subject to the request
// context. It is a pure decoder: missing or invalid credentials never fail the
// request here - downstream handlers decide whether authentication is required.
// #IMPLEMENTATION_DECISION: Cookie first, Authorization header as fallback
func BearerAuth(jwtService auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString != "" {
			if subject, err := jwtService.VerifyAccessToken(tokenString); err == nil {
				if userID, parseErr := uuid.Parse(subject); parseErr == nil {
					c.Set(ContextKeyUserID, userID)
				}
			}
		}
		c.Next()
	}
}

// extractToken reads the access token from the cookie or the Authorization header
func extractToken(c *gin.Context) string {
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie != "" {
		return cookie
	}

	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// CurrentUserID extracts the authenticated subject from context.
// Fails closed: callers treat a missing subject as unauthorized.
func CurrentUserID(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return uuid.Nil, false
	}

	userID, ok := val.(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, false
	}

	return userID, true
}
