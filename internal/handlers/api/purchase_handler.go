package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	svcports "github.com/kevin07696/escrow-service/internal/services/ports"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PurchaseHandler serves the purchase endpoints
type PurchaseHandler struct {
	svc    svcports.PurchaseService
	logger *zap.Logger
}

// NewPurchaseHandler creates a purchase handler
func NewPurchaseHandler(svc svcports.PurchaseService, logger *zap.Logger) *PurchaseHandler {
	return &PurchaseHandler{svc: svc, logger: logger}
}

type createPurchaseRequest struct {
	ProductID      string `json:"product_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

type confirmPurchaseRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

type refundPurchaseRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}

type deliveryReportRequest struct {
	Delivered bool   `json:"delivered"`
	Reason    string `json:"reason"`
}

// Create handles POST /v1/purchases. The Idempotency-Key header wins over
// the body field.
func (h *PurchaseHandler) Create(c *gin.Context) {
	var req createPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	res, err := h.svc.Create(c.Request.Context(), currentActor(c), svcports.CreatePurchaseRequest{
		ProductID:      req.ProductID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"purchase": res.Purchase, "client_secret": res.ClientSecret})
}

// Confirm handles POST /v1/purchases/confirm
func (h *PurchaseHandler) Confirm(c *gin.Context) {
	var req confirmPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.svc.Confirm(c.Request.Context(), currentActor(c), req.PaymentIntentID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Get handles GET /v1/purchases/:id
func (h *PurchaseHandler) Get(c *gin.Context) {
	p, err := h.svc.Get(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Ledger handles GET /v1/purchases/:id/ledger
func (h *PurchaseHandler) Ledger(c *gin.Context) {
	view, err := h.svc.GetLedger(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Cancel handles POST /v1/purchases/:id/cancel
func (h *PurchaseHandler) Cancel(c *gin.Context) {
	p, err := h.svc.Cancel(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Refund handles POST /v1/purchases/:id/refund. An absent amount refunds in full.
func (h *PurchaseHandler) Refund(c *gin.Context) {
	var req refundPurchaseRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.svc.Refund(c.Request.Context(), currentActor(c), svcports.RefundPurchaseRequest{
		PurchaseID: c.Param("id"),
		Amount:     req.Amount,
		Reason:     req.Reason,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ReportDelivery handles POST /v1/purchases/:id/delivery
func (h *PurchaseHandler) ReportDelivery(c *gin.Context) {
	var req deliveryReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.svc.ReportDelivery(c.Request.Context(), currentActor(c), svcports.DeliveryReport{
		PurchaseID: c.Param("id"),
		Delivered:  req.Delivered,
		Reason:     req.Reason,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// bindOptionalJSON decodes the body when there is one
func bindOptionalJSON(c *gin.Context, out interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(out)
}
