package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tracknest/tracknest-auth/internal/config"
	"github.com/tracknest/tracknest-auth/internal/domain"
	"github.com/tracknest/tracknest-auth/internal/http/handler"
	httpmiddleware "github.com/tracknest/tracknest-auth/internal/http/middleware"
	"github.com/tracknest/tracknest-auth/internal/middleware"
)

// NewRouter wires Gin routes and middleware. Protected routes compose
// the fixed pipeline: authentication gate, then role gate, then any
// route-specific resource gate, then the handler.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authMiddleware.RequireAuth(domain.PurposeAccess), authHandler.Logout)
		authGroup.GET("/me", authMiddleware.RequireAuth(domain.PurposeAccess), authHandler.Me)

		oauth := authGroup.Group("/oauth/google")
		{
			oauth.GET("/start", authHandler.OAuthStart)
			oauth.GET("/callback", authHandler.OAuthCallback)
		}
	}

	admin := r.Group("/admin",
		authMiddleware.RequireAuth(domain.PurposeAccess),
		httpmiddleware.RequireRole(domain.RoleAdmin),
	)
	{
		admin.GET("/ping", func(c *gin.Context) {
			c.JSON(200, gin.H{"status": "ok"})
		})
	}

	return r
}
