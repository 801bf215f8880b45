package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tracknest/tracknest-auth/internal/config"
)

// CORS applies the configured cross-origin policy.
func CORS(cfg config.Config) gin.HandlerFunc {
	joinedMethods := strings.Join(cfg.CORSAllowedMethods, ", ")
	joinedHeaders := strings.Join(cfg.CORSAllowedHeaders, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if !originAllowed(origin, cfg.CORSAllowedOrigins) {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.Next()
			return
		}

		header := c.Writer.Header()
		header.Set("Vary", "Origin")
		header.Set("Access-Control-Allow-Methods", joinedMethods)
		header.Set("Access-Control-Allow-Headers", joinedHeaders)
		if cfg.CORSAllowCredentials {
			header.Set("Access-Control-Allow-Credentials", "true")
		}

		if containsWildcard(cfg.CORSAllowedOrigins) && !cfg.CORSAllowCredentials {
			header.Set("Access-Control-Allow-Origin", "*")
		} else {
			header.Set("Access-Control-Allow-Origin", origin)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return true
		}
	}
	return false
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
