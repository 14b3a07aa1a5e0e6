package organizations

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campus-numbers/backend/internal/access"
	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/pkg/response"
)

// Handler handles organization HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates an organizations handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// CreateOrganizationRequest is the body for POST /organizations.
type CreateOrganizationRequest struct {
	Name     string         `json:"name" binding:"required"`
	Kind     models.OrgKind `json:"kind" binding:"required,oneof=SCHOOL DEPARTMENT"`
	ParentID *uuid.UUID     `json:"parent_id"`
}

// RenameOrganizationRequest is the body for PATCH /organizations/:id.
type RenameOrganizationRequest struct {
	Name string `json:"name" binding:"required"`
}

func orgID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return uuid.Nil, false
	}
	return id, true
}

// ListOrganizations handles GET /organizations.
func (h *Handler) ListOrganizations(c *gin.Context) {
	ac, ok := access.FromGin(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	response.OK(c, h.svc.List(ac))
}

// CreateOrganization handles POST /organizations.
func (h *Handler) CreateOrganization(c *gin.Context) {
	ac, ok := access.FromGin(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var body CreateOrganizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name and kind required")
		return
	}
	org, err := h.svc.Create(c.Request.Context(), ac, body.Name, body.Kind, body.ParentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, org)
}

// RenameOrganization handles PATCH /organizations/:id.
func (h *Handler) RenameOrganization(c *gin.Context) {
	ac, ok := access.FromGin(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	id, ok := orgID(c)
	if !ok {
		return
	}
	var body RenameOrganizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name required")
		return
	}
	org, err := h.svc.Rename(c.Request.Context(), ac, id, body.Name)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, org)
}

// DeleteOrganization handles DELETE /organizations/:id.
func (h *Handler) DeleteOrganization(c *gin.Context) {
	ac, ok := access.FromGin(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	id, ok := orgID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), ac, id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
