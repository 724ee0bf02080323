package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kevin07696/escrow-service/internal/domain"
	svcports "github.com/kevin07696/escrow-service/internal/services/ports"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DisputeHandler serves the dispute endpoints
type DisputeHandler struct {
	svc    svcports.DisputeService
	logger *zap.Logger
}

// NewDisputeHandler creates a dispute handler
func NewDisputeHandler(svc svcports.DisputeService, logger *zap.Logger) *DisputeHandler {
	return &DisputeHandler{svc: svc, logger: logger}
}

type createDisputeRequest struct {
	PurchaseID  string             `json:"purchase_id"`
	Type        domain.DisputeType `json:"type"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Evidence    []string           `json:"evidence"`
}

type respondRequest struct {
	Message  string   `json:"message"`
	Evidence []string `json:"evidence"`
}

type assignRequest struct {
	AdminID string `json:"admin_id"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	Resolution string           `json:"resolution"`
	Amount     *decimal.Decimal `json:"amount"`
	Notes      string           `json:"notes"`
}

// Create handles POST /v1/disputes. The disputer is always the caller.
func (h *DisputeHandler) Create(c *gin.Context) {
	var req createDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	d, err := h.svc.Create(c.Request.Context(), currentActor(c), domain.DisputeDraft{
		PurchaseID:  req.PurchaseID,
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
		Evidence:    req.Evidence,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// Get handles GET /v1/disputes/:id
func (h *DisputeHandler) Get(c *gin.Context) {
	view, err := h.svc.Get(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Respond handles POST /v1/disputes/:id/responses
func (h *DisputeHandler) Respond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.reply(c)(h.svc.Respond(c.Request.Context(), currentActor(c), svcports.RespondRequest{
		DisputeID: c.Param("id"),
		Message:   req.Message,
		Evidence:  req.Evidence,
	}))
}

// Assign handles POST /v1/disputes/:id/assign
func (h *DisputeHandler) Assign(c *gin.Context) {
	var req assignRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	h.reply(c)(h.svc.Assign(c.Request.Context(), currentActor(c), svcports.AssignRequest{
		DisputeID: c.Param("id"),
		AdminID:   req.AdminID,
	}))
}

// Escalate handles POST /v1/disputes/:id/escalate
func (h *DisputeHandler) Escalate(c *gin.Context) {
	var req reasonRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	h.reply(c)(h.svc.Escalate(c.Request.Context(), currentActor(c), c.Param("id"), req.Reason))
}

// Resolve handles POST /v1/disputes/:id/resolve
func (h *DisputeHandler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.reply(c)(h.svc.Resolve(c.Request.Context(), currentActor(c), svcports.ResolveRequest{
		DisputeID:  c.Param("id"),
		Resolution: req.Resolution,
		Amount:     req.Amount,
		Notes:      req.Notes,
	}))
}

// Withdraw handles POST /v1/disputes/:id/withdraw
func (h *DisputeHandler) Withdraw(c *gin.Context) {
	var req reasonRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	h.reply(c)(h.svc.Withdraw(c.Request.Context(), currentActor(c), c.Param("id"), req.Reason))
}

// Close handles POST /v1/disputes/:id/close
func (h *DisputeHandler) Close(c *gin.Context) {
	h.reply(c)(h.svc.Close(c.Request.Context(), currentActor(c), c.Param("id")))
}

func (h *DisputeHandler) reply(c *gin.Context) func(*domain.Dispute, error) {
	return func(d *domain.Dispute, err error) {
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}
