package rbac

import (
	"net/http"

	"sales-pipeline/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireIdentity ensures an authenticated username exists in context.
// Lead changes are attributed to it, so anonymous requests never reach a handler.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := auth.Username(c.Request.Context())
		if err != nil || u == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "username required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// admin bypasses all checks.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
