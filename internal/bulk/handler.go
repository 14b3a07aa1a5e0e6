package bulk

import (
	"github.com/gin-gonic/gin"

	"github.com/campus-numbers/backend/internal/access"
	"github.com/campus-numbers/backend/pkg/response"
)

// ActionRequest is the body for POST /admin/bulk.
type ActionRequest struct {
	Action  Action `json:"action" binding:"required,oneof=CLEAR_ALL BAN_PREFIX UNBAN_PREFIX"`
	Payload struct {
		Prefix string `json:"prefix"`
	} `json:"payload"`
}

// Handler handles bulk action endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a bulk handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Execute handles POST /admin/bulk.
func (h *Handler) Execute(c *gin.Context) {
	ac, ok := access.FromGin(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Execute(c.Request.Context(), ac, req.Action, req.Payload.Prefix)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}
