package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campus-numbers/backend/internal/access"
	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/pkg/response"
)

// ScopeResolver computes a caller's data scope.
type ScopeResolver interface {
	Resolve(ctx context.Context, id models.Identity) (*access.AuthContext, error)
}

// LoadScope resolves the identity set by JWT into an access.AuthContext.
// Requests without an identity pass through untouched.
func LoadScope(resolver ScopeResolver, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		id, ok := IdentityFromGin(c)
		if !ok {
			c.Next()
			return
		}
		ac, err := resolver.Resolve(c.Request.Context(), id)
		if err != nil {
			logger.Error("resolve scope", zap.String("user_id", id.UserID.String()), zap.Error(err))
			response.Internal(c, "failed to resolve access scope")
			c.Abort()
			return
		}
		c.Set(access.ContextAuth, ac)
		c.Next()
	}
}
