package numbers

import (
	"context"
	"io"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-numbers/backend/internal/access"
	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/pkg/events"
	"github.com/campus-numbers/backend/pkg/response"
)

var mobileRe = regexp.MustCompile(`^1[3-9]\d{9}$`)

// IsMobile reports whether s is an 11-digit mainland mobile number.
func IsMobile(s string) bool { return mobileRe.MatchString(s) }

// RegisterValidators adds the cnmobile binding rule to gin's validator.
func RegisterValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("cnmobile", func(fl validator.FieldLevel) bool {
			return IsMobile(fl.Field().String())
		})
	}
}

const keepAlive = 25 * time.Second

// Subscriber streams number events.
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(events.NumberEvent)) (cancel func(), err error)
}

// ClaimRequest is the body for POST /numbers/:id/claim.
type ClaimRequest struct {
	CustomerName    string  `json:"customer_name" binding:"required"`
	CustomerContact string  `json:"customer_contact" binding:"required"`
	PaymentAmount   float64 `json:"payment_amount" binding:"required,gt=0"`
	ShippingAddress string  `json:"shipping_address"`
	PaymentMethod   string  `json:"payment_method"`
	TransactionID   string  `json:"transaction_id"`
}

// CreateRequest is the body for POST /admin/numbers.
type CreateRequest struct {
	NumberValue   string     `json:"number_value" binding:"required,cnmobile"`
	IsPremium     bool       `json:"is_premium"`
	PremiumReason *string    `json:"premium_reason"`
	SchoolID      *uuid.UUID `json:"school_id"`
	DepartmentID  *uuid.UUID `json:"department_id"`
}

type listQuery struct {
	Search       string `form:"search"`
	SchoolID     string `form:"school_id"`
	DepartmentID string `form:"department_id"`
	HideReserved bool   `form:"hide_reserved"`
	Page         int    `form:"page"`
	PageSize     int    `form:"page_size"`
}

// Handler handles phone number endpoints.
type Handler struct {
	svc    *Service
	sub    Subscriber
	logger *zap.Logger
}

// NewHandler creates a numbers handler. sub may be nil when Redis is off.
func NewHandler(svc *Service, sub Subscriber, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, sub: sub, logger: logger}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid number id")
		return uuid.Nil, false
	}
	return id, true
}

func mustAuth(c *gin.Context) (*access.AuthContext, bool) {
	ac, ok := access.FromGin(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
	}
	return ac, ok
}

// Claim handles POST /numbers/:id/claim (public).
func (h *Handler) Claim(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	n, err := h.svc.Claim(c.Request.Context(), id, models.Claim{
		CustomerName:    req.CustomerName,
		CustomerContact: req.CustomerContact,
		PaymentAmount:   req.PaymentAmount,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		TransactionID:   req.TransactionID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, n)
}

// List handles GET /numbers. Authenticated callers get their scoped full
// records; anonymous callers get the public view.
func (h *Handler) List(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "invalid query: "+err.Error())
		return
	}
	p := models.ListParams{Search: q.Search, HideReserved: q.HideReserved, Page: q.Page, PageSize: q.PageSize}
	if q.SchoolID != "" {
		id, err := uuid.Parse(q.SchoolID)
		if err != nil {
			response.BadRequest(c, "invalid school_id")
			return
		}
		p.SchoolID = &id
	}
	if q.DepartmentID != "" {
		id, err := uuid.Parse(q.DepartmentID)
		if err != nil {
			response.BadRequest(c, "invalid department_id")
			return
		}
		p.DepartmentID = &id
	}

	ac, authed := access.FromGin(c)
	if !authed {
		ac = nil
	}
	page, err := h.svc.List(c.Request.Context(), ac, p)
	if err != nil {
		response.Error(c, err)
		return
	}
	if authed {
		response.OK(c, page)
		return
	}
	items := make([]models.PublicNumber, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, page.Items[i].ToPublic())
	}
	response.OK(c, gin.H{"items": items, "total": page.Total, "page": page.Page, "page_size": page.PageSize})
}

// Get handles GET /numbers/:id (public view).
func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	n, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, n.ToPublic())
}

// AdminGet handles GET /admin/numbers/:id.
func (h *Handler) AdminGet(c *gin.Context) {
	ac, ok := mustAuth(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	n, err := h.svc.GetScoped(c.Request.Context(), ac, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, n)
}

// Create handles POST /admin/numbers.
func (h *Handler) Create(c *gin.Context) {
	ac, ok := mustAuth(c)
	if !ok {
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	n := &models.PhoneNumber{
		NumberValue:   req.NumberValue,
		IsPremium:     req.IsPremium,
		PremiumReason: req.PremiumReason,
		SchoolID:      req.SchoolID,
		DepartmentID:  req.DepartmentID,
	}
	if err := h.svc.Create(c.Request.Context(), ac, n); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, n)
}

// Patch handles PATCH /admin/numbers/:id. Unknown and identity fields in the
// body are ignored.
func (h *Handler) Patch(c *gin.Context) {
	ac, ok := mustAuth(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	var p models.NumberPatch
	if err := c.ShouldBindJSON(&p); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	n, err := h.svc.Patch(c.Request.Context(), ac, id, p)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, n)
}

// Delete handles DELETE /admin/numbers/:id.
func (h *Handler) Delete(c *gin.Context) {
	ac, ok := mustAuth(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), ac, id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Release handles POST /admin/numbers/:id/release.
func (h *Handler) Release(c *gin.Context) {
	ac, ok := mustAuth(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	n, err := h.svc.Release(c.Request.Context(), ac, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, n)
}

// Sweep handles POST /admin/numbers/sweep.
func (h *Handler) Sweep(c *gin.Context) {
	count, err := h.svc.SweepExpired(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"released": count})
}

// Events handles GET /numbers/events as a server-sent event stream.
func (h *Handler) Events(c *gin.Context) {
	if h.sub == nil {
		response.ServiceUnavailable(c, "live events unavailable")
		return
	}
	ctx := c.Request.Context()
	ch := make(chan events.NumberEvent, 32)
	cancel, err := h.sub.Subscribe(ctx, func(ev events.NumberEvent) {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("slow event listener, dropping event", zap.String("number_id", ev.NumberID.String()))
		}
	})
	if err != nil {
		h.logger.Warn("event subscribe failed", zap.Error(err))
		response.ServiceUnavailable(c, "live events unavailable")
		return
	}
	defer cancel()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev := <-ch:
			c.SSEvent(ev.Type, ev)
			return true
		case t := <-ticker.C:
			c.SSEvent("ping", strconv.FormatInt(t.Unix(), 10))
			return true
		}
	})
}
