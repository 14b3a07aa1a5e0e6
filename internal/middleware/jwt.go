package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campus-numbers/backend/internal/auth"
	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/pkg/response"
)

// ContextIdentity is the key for the caller's models.Identity in gin context.
const ContextIdentity = "identity"

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWT returns a middleware that requires a valid bearer token and stores the
// caller's identity in context.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return bearer(validator, true)
}

// OptionalJWT stores the identity when a token is sent and lets anonymous
// requests through. A token that is sent but invalid is still rejected.
func OptionalJWT(validator TokenValidator) gin.HandlerFunc {
	return bearer(validator, false)
}

func bearer(validator TokenValidator, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if required {
				response.Unauthorized(c, "missing authorization header")
				c.Abort()
				return
			}
			c.Next()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := validator.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextIdentity, claims.Identity())
		c.Next()
	}
}

// IdentityFromGin returns the identity stored by JWT or OptionalJWT.
func IdentityFromGin(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	return id, ok
}
