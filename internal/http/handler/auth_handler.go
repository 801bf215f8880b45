package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tracknest/tracknest-auth/internal/domain"
	"github.com/tracknest/tracknest-auth/internal/http/middleware"
	"github.com/tracknest/tracknest-auth/internal/service"
)

// AuthHandler exposes the authentication endpoints.
type AuthHandler struct {
	Auth   *service.AuthService
	OAuth  *service.OAuthService
	Logger *zap.Logger
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService, oauth *service.OAuthService, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &AuthHandler{Auth: auth, OAuth: oauth, Logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type principalResponse struct {
	ID            int64         `json:"id,string"`
	Email         string        `json:"email"`
	EmailVerified bool          `json:"email_verified"`
	Name          string        `json:"name"`
	AvatarURL     string        `json:"avatar_url,omitempty"`
	Roles         []domain.Role `json:"roles"`
}

func toPrincipalResponse(p domain.Principal) principalResponse {
	return principalResponse{
		ID:            p.ID,
		Email:         p.Email,
		EmailVerified: p.EmailVerified,
		Name:          p.Name,
		AvatarURL:     p.AvatarURL,
		Roles:         p.Roles,
	}
}

// Register creates a new principal and returns its first token pair.
func (h *AuthHandler) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email and password are required."})
		return
	}

	principal, pair, err := h.Auth.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Registration rejected."})
			return
		}
		h.serverError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"principal": toPrincipalResponse(principal), "tokens": pair})
}

// Login authenticates with email/password and returns a token pair.
func (h *AuthHandler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email and password are required."})
		return
	}

	principal, pair, err := h.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.authError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"principal": toPrincipalResponse(principal), "tokens": pair})
}

// Refresh rotates the token pair using a refresh token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "refresh_token is required."})
		return
	}

	pair, err := h.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.authError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tokens": pair})
}

// Logout revokes all keys for the authenticated principal.
func (h *AuthHandler) Logout(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication failed."})
		return
	}

	if err := h.Auth.Logout(c.Request.Context(), principal.ID); err != nil {
		h.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the authenticated principal's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication failed."})
		return
	}
	c.JSON(http.StatusOK, toPrincipalResponse(principal))
}

// OAuthStart prepares the Google authorization redirect.
func (h *AuthHandler) OAuthStart(c *gin.Context) {
	output, err := h.OAuth.StartAuthorization(c.Request.Context())
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authorization_url": output.AuthorizationURL,
		"state":             output.State,
	})
}

// OAuthCallback consumes the provider redirect and issues tokens.
func (h *AuthHandler) OAuthCallback(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	state := strings.TrimSpace(c.Query("state"))

	principal, pair, err := h.OAuth.HandleCallback(c.Request.Context(), code, state)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidState):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid or expired state."})
		case errors.Is(err, domain.ErrOAuthExchange), errors.Is(err, domain.ErrProfileFetch):
			// Provider detail stays in the logs.
			h.serverError(c, err)
		default:
			h.serverError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"principal": toPrincipalResponse(principal), "tokens": pair})
}

// authError maps authentication-class failures to one generic 401.
func (h *AuthHandler) authError(c *gin.Context, err error) {
	if domain.AuthFailure(err) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication failed."})
		return
	}
	h.serverError(c, err)
}

func (h *AuthHandler) serverError(c *gin.Context, err error) {
	h.Logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Something went wrong."})
}
