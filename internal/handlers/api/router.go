// Package api is the public REST surface of the escrow service.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/kevin07696/escrow-service/internal/handlers/cron"
	svcports "github.com/kevin07696/escrow-service/internal/services/ports"
	"github.com/kevin07696/escrow-service/pkg/middleware"
	"github.com/kevin07696/escrow-service/pkg/observability"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"go.uber.org/zap"
)

// RouterDeps wires the router. Limiter and Sweeps are optional.
type RouterDeps struct {
	Purchases   svcports.PurchaseService
	Disputes    svcports.DisputeService
	Tokens      TokenVerifier
	Limiter     *middleware.RateLimiter
	Sweeps      *cron.SweepHandler
	Timeouts    *resilience.TimeoutConfig
	Logger      *zap.Logger
	Development bool
}

// NewRouter builds the gin engine with every route mounted
func NewRouter(d RouterDeps) *gin.Engine {
	if d.Timeouts == nil {
		d.Timeouts = resilience.DefaultTimeoutConfig()
	}

	r := gin.New()
	r.Use(
		middleware.AccessLog(d.Logger),
		middleware.RequestContext(d.Timeouts),
		middleware.SecurityHeaders(d.Development),
		observability.GinMiddleware(),
	)

	if d.Sweeps != nil {
		d.Sweeps.Register(r)
	}

	v1 := r.Group("/v1", Authenticate(d.Tokens, d.Logger))
	if d.Limiter != nil {
		v1.Use(d.Limiter.Middleware(RateLimitKey))
	}

	purchases := NewPurchaseHandler(d.Purchases, d.Logger)
	p := v1.Group("/purchases")
	{
		p.POST("", purchases.Create)
		p.POST("/confirm", purchases.Confirm)
		p.GET("/:id", purchases.Get)
		p.GET("/:id/ledger", purchases.Ledger)
		p.POST("/:id/cancel", purchases.Cancel)
		p.POST("/:id/refund", purchases.Refund)
		p.POST("/:id/delivery", purchases.ReportDelivery)
	}

	disputes := NewDisputeHandler(d.Disputes, d.Logger)
	ds := v1.Group("/disputes")
	{
		ds.POST("", disputes.Create)
		ds.GET("/:id", disputes.Get)
		ds.POST("/:id/responses", disputes.Respond)
		ds.POST("/:id/assign", disputes.Assign)
		ds.POST("/:id/escalate", disputes.Escalate)
		ds.POST("/:id/resolve", disputes.Resolve)
		ds.POST("/:id/withdraw", disputes.Withdraw)
		ds.POST("/:id/close", disputes.Close)
	}

	return r
}
