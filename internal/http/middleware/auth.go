package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tracknest/tracknest-auth/internal/domain"
	"github.com/tracknest/tracknest-auth/internal/service"
	"github.com/tracknest/tracknest-auth/internal/token"
)

const (
	principalKey = "authPrincipal"
	claimsKey    = "authClaims"
)

// Auth is the authentication gate: it extracts the bearer token,
// verifies it, and attaches the resolved principal to the request.
// Requests failing any step never reach the handler.
type Auth struct {
	AuthService *service.AuthService
}

// RequireAuth validates the Authorization header for the given token
// purpose. All authentication failures produce the same generic 401
// body so callers cannot distinguish expired from revoked
// credentials.
func (m *Auth) RequireAuth(purpose domain.KeyPurpose) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abortUnauthenticated(c)
			return
		}

		principal, claims, err := m.AuthService.Authenticate(c.Request.Context(), raw, purpose)
		if err != nil {
			if domain.AuthFailure(err) {
				abortUnauthenticated(c)
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":             "server_error",
				"error_description": "Something went wrong.",
			})
			return
		}

		c.Set(principalKey, principal)
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", domain.ErrCredentialMissing
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", domain.ErrCredentialMissing
	}
	return parts[1], nil
}

func abortUnauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":             "invalid_token",
		"error_description": "Authentication failed.",
	})
}

// GetPrincipal exposes the authenticated principal to handlers.
func GetPrincipal(c *gin.Context) (domain.Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return domain.Principal{}, false
	}
	principal, ok := value.(domain.Principal)
	return principal, ok
}

// GetClaims returns the verified token claims.
func GetClaims(c *gin.Context) (token.Claims, bool) {
	value, ok := c.Get(claimsKey)
	if !ok {
		return token.Claims{}, false
	}
	claims, ok := value.(token.Claims)
	return claims, ok
}
