package access

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/pkg/response"
)

// ContextAuth is the gin context key holding *AuthContext.
const ContextAuth = "auth_context"

// FromGin returns the AuthContext stored by the auth-context middleware.
func FromGin(c *gin.Context) (*AuthContext, bool) {
	v, ok := c.Get(ContextAuth)
	if !ok {
		return nil, false
	}
	ac, ok := v.(*AuthContext)
	return ac, ok && ac != nil
}

// Handler handles scope and membership endpoints.
type Handler struct {
	assigner    *Assigner
	memberships MembershipStore
}

// NewHandler creates an access handler.
func NewHandler(assigner *Assigner, memberships MembershipStore) *Handler {
	return &Handler{assigner: assigner, memberships: memberships}
}

// AssignRequest is the body for PUT /users/:id/organizations.
type AssignRequest struct {
	OrganizationIDs []uuid.UUID `json:"organization_ids"`
	Role            models.Role `json:"role" binding:"required"`
}

// MyScope handles GET /me/scope.
func (h *Handler) MyScope(c *gin.Context) {
	ac, ok := FromGin(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	response.OK(c, gin.H{
		"user_id":           ac.Identity.UserID,
		"role":              ac.Identity.Role,
		"filter":            ac.Filter,
		"validationWarning": ac.Filter.ValidationWarning,
	})
}

// AssignMemberships handles PUT /users/:id/organizations.
func (h *Handler) AssignMemberships(c *gin.Context) {
	ac, ok := FromGin(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	var body AssignRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "organization_ids and role required")
		return
	}
	res, err := h.assigner.AssignMemberships(c.Request.Context(), ac, userID, body.OrganizationIDs, body.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// ListMemberships handles GET /users/:id/organizations. Only memberships in
// the caller's scope are returned.
func (h *Handler) ListMemberships(c *gin.Context) {
	ac, ok := FromGin(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	ms, err := h.memberships.ListByUser(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to load memberships")
		return
	}
	out := make([]models.Membership, 0, len(ms))
	for _, m := range ms {
		if ac.Filter.Contains(m.OrganizationID) {
			out = append(out, m)
		}
	}
	response.OK(c, out)
}
