package importer

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campus-numbers/backend/internal/access"
	"github.com/campus-numbers/backend/pkg/response"
)

// maxBatchBytes caps pasted text per request.
const maxBatchBytes = 2 << 20

// ImportRequest is the body for POST /admin/numbers/import.
type ImportRequest struct {
	Text         string     `json:"text" binding:"required"`
	Layout       Layout     `json:"layout"`
	Columns      []Column   `json:"columns"`
	SchoolID     *uuid.UUID `json:"school_id"`
	DepartmentID *uuid.UUID `json:"department_id"`
}

// Handler handles import endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates an import handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Import handles POST /admin/numbers/import.
func (h *Handler) Import(c *gin.Context) {
	ac, ok := access.FromGin(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if len(req.Text) > maxBatchBytes {
		response.BadRequest(c, "batch too large")
		return
	}
	res, err := h.svc.ImportBatch(c.Request.Context(), ac, Request{
		Text:         req.Text,
		Layout:       req.Layout,
		Columns:      req.Columns,
		SchoolID:     req.SchoolID,
		DepartmentID: req.DepartmentID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// ArchiveURL handles GET /admin/imports/:id/archive.
func (h *Handler) ArchiveURL(c *gin.Context) {
	ac, ok := access.FromGin(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid batch id")
		return
	}
	url, err := h.svc.ArchiveURL(c.Request.Context(), ac, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"url": url})
}
