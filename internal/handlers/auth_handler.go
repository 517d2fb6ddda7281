// Package handlers provides HTTP handlers for API endpoints.
// #IMPLEMENTATION_DECISION: Handlers are thin - delegate business logic to services
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/checkfix-tools/keyra-auth/internal/auth"
	"github.com/checkfix-tools/keyra-auth/internal/middleware"
	"github.com/checkfix-tools/keyra-auth/internal/services"
)

// Cookie names for the credential pair
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// CookieConfig holds the attributes applied to auth cookies
type CookieConfig struct {
	Secure        bool
	SameSite      http.SameSite
	Domain        string
	AccessMaxAge  int
	RefreshMaxAge int
}

// AuthHandler handles authentication endpoints
// #INTEGRATION_POINT: Frontend auth flow uses these endpoints
type AuthHandler struct {
	authService services.AuthService
	cookies     CookieConfig
	logger      *zap.SugaredLogger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService services.AuthService, cookies CookieConfig, logger *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		cookies:     cookies,
		logger:      logger,
	}
}

// StatusResponse is the constant success shape
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// okResponse is returned on every success path
var okResponse = StatusResponse{Status: "ok"}

// RequestMagicLinkRequest represents the magic link request body
type RequestMagicLinkRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// RequestMagicLink handles POST /auth/magic/request
// #SECURITY_CONCERN: Response is byte-identical for existing, unknown, and
// rate-limited emails to prevent enumeration
func (h *AuthHandler) RequestMagicLink(c *gin.Context) {
	var req RequestMagicLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_email"})
		return
	}

	if err := h.authService.RequestMagicLink(c.Request.Context(), req.Email, requestMeta(c)); err != nil {
		// Internal failures (storage, token generation) are logged and answered
		// with 500; rate-limited and unknown emails still return the ok shape
		h.logger.Errorw("magic link request failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		return
	}

	c.JSON(http.StatusOK, okResponse)
}

// VerifyMagicLinkRequest represents the verify request body
type VerifyMagicLinkRequest struct {
	Token string `json:"token" binding:"required,min=10,max=512"`
}

// VerifyMagicLink handles POST /auth/magic/verify
func (h *AuthHandler) VerifyMagicLink(c *gin.Context) {
	var req VerifyMagicLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_token"})
		return
	}

	pair, err := h.authService.VerifyMagicLink(c.Request.Context(), req.Token, requestMeta(c))
	if err != nil {
		if errors.Is(err, services.ErrInvalidOrExpiredToken) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Errorw("magic link verification failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		return
	}

	h.setAuthCookies(c, pair)
	c.JSON(http.StatusOK, okResponse)
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	refreshToken, err := c.Cookie(RefreshTokenCookie)
	if err != nil || refreshToken == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing_refresh_token"})
		return
	}

	pair, err := h.authService.RefreshSession(c.Request.Context(), refreshToken, requestMeta(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidRefreshToken),
			errors.Is(err, services.ErrRefreshTokenExpired),
			errors.Is(err, services.ErrRefreshTokenReuse),
			errors.Is(err, services.ErrSessionHijacking):
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
		default:
			h.logger.Errorw("refresh failed", "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		}
		return
	}

	h.setAuthCookies(c, pair)
	c.JSON(http.StatusOK, okResponse)
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	refreshToken, err := c.Cookie(RefreshTokenCookie)
	if err != nil || refreshToken == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing_refresh_token"})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), refreshToken, requestMeta(c)); err != nil {
		if errors.Is(err, services.ErrInvalidRefreshToken) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Errorw("logout failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		return
	}

	h.clearAuthCookies(c)
	c.JSON(http.StatusOK, okResponse)
}

// LogoutAll handles POST /auth/logout-all
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	if err := h.authService.LogoutAll(c.Request.Context(), userID, requestMeta(c)); err != nil {
		h.logger.Errorw("logout-all failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		return
	}

	h.clearAuthCookies(c)
	c.JSON(http.StatusOK, okResponse)
}

// GetMeResponse is the public projection of the current user
type GetMeResponse struct {
	ID              string  `json:"id"`
	Email           string  `json:"email"`
	EmailVerifiedAt *string `json:"email_verified_at"`
	CreatedAt       string  `json:"created_at"`
}

// GetMe handles GET /auth/me
func (h *AuthHandler) GetMe(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	user, err := h.authService.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		h.logger.Errorw("get me failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		return
	}

	resp := GetMeResponse{
		ID:        user.ID.String(),
		Email:     user.Email,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
	}
	if user.EmailVerifiedAt != nil {
		verified := user.EmailVerifiedAt.UTC().Format(time.RFC3339)
		resp.EmailVerifiedAt = &verified
	}

	c.JSON(http.StatusOK, resp)
}

// RegisterRoutes registers auth handler routes
func (h *AuthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	authGroup := rg.Group("/auth")
	{
		authGroup.POST("/magic/request", h.RequestMagicLink)
		authGroup.POST("/magic/verify", h.VerifyMagicLink)
		authGroup.POST("/refresh", h.Refresh)
		authGroup.POST("/logout", h.Logout)
		authGroup.POST("/logout-all", h.LogoutAll)
		authGroup.GET("/me", h.GetMe)
	}
}

// setAuthCookies attaches the credential pair as HttpOnly cookies
func (h *AuthHandler) setAuthCookies(c *gin.Context, pair *auth.TokenPair) {
	c.SetSameSite(h.cookies.SameSite)
	c.SetCookie(AccessTokenCookie, pair.AccessToken, h.cookies.AccessMaxAge, "/", h.cookies.Domain, h.cookies.Secure, true)
	c.SetCookie(RefreshTokenCookie, pair.RefreshToken, h.cookies.RefreshMaxAge, "/", h.cookies.Domain, h.cookies.Secure, true)
}

// clearAuthCookies expires both credential cookies
func (h *AuthHandler) clearAuthCookies(c *gin.Context) {
	c.SetSameSite(h.cookies.SameSite)
	c.SetCookie(AccessTokenCookie, "", -1, "/", h.cookies.Domain, h.cookies.Secure, true)
	c.SetCookie(RefreshTokenCookie, "", -1, "/", h.cookies.Domain, h.cookies.Secure, true)
}

// requestMeta captures the caller-side context of a request
func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
