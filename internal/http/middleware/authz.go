package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tracknest/tracknest-auth/internal/domain"
)

// RequireRole passes when the authenticated principal holds at least
// one of the required roles. It must run after RequireAuth.
func RequireRole(required ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			abortUnauthenticated(c)
			return
		}
		if !principal.HasAnyRole(required...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":             "insufficient_role",
				"error_description": "Role not permitted for this resource.",
			})
			return
		}
		c.Next()
	}
}

// ResourcePredicate decides whether the principal may act on the
// resource addressed by the request. Routes supply the
// business-specific ownership check; the gate only composes it.
type ResourcePredicate func(ctx context.Context, principal domain.Principal, c *gin.Context) (bool, error)

// RequireResource evaluates the route's ownership predicate and
// short-circuits with 403 when it does not hold. It must run after
// RequireAuth.
func RequireResource(predicate ResourcePredicate) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			abortUnauthenticated(c)
			return
		}

		allowed, err := predicate(c.Request.Context(), principal, c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":             "server_error",
				"error_description": "Something went wrong.",
			})
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":             "forbidden",
				"error_description": "Permission denied for this resource.",
			})
			return
		}
		c.Next()
	}
}
