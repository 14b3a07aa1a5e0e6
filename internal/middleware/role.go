package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/campus-numbers/backend/internal/access"
	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/pkg/response"
)

// RequireRole returns a middleware that allows only the given global roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{})
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		id, ok := IdentityFromGin(c)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if _, ok := allowed[id.Role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireElevated allows super admins and school admins whose scope resolved
// cleanly. Must run after LoadScope.
func RequireElevated() gin.HandlerFunc {
	return func(c *gin.Context) {
		ac, ok := access.FromGin(c)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if !ac.Elevated() {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
