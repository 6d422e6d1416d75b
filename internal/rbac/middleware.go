package rbac

import (
	"net/http"

	"omnichat-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireCompany enforces the multi-tenant invariant: the caller identity must
// be scoped to a company.
func RequireCompany() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := auth.FromContext(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "company_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// admin passes every check; unknown roles are always denied.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		id, err := auth.FromContext(c.Request.Context())
		if err != nil || id.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !Known(id.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		if IsAdmin(id.Role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[id.Role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
