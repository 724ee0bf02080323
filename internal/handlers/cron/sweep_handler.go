// Package cron exposes the sweeps to an external scheduler (Cloud
// Scheduler, Kubernetes CronJob) as secret-protected POST endpoints.
package cron

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kevin07696/escrow-service/internal/scheduler"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"go.uber.org/zap"
)

// SecretHeader carries the shared cron secret
const SecretHeader = "X-Cron-Secret"

// SweepHandler runs one sweep per request
type SweepHandler struct {
	jobs       []scheduler.Job
	timeouts   *resilience.TimeoutConfig
	logger     *zap.Logger
	cronSecret string
}

// NewSweepHandler creates a new sweep cron handler
func NewSweepHandler(jobs []scheduler.Job, timeouts *resilience.TimeoutConfig, logger *zap.Logger, cronSecret string) *SweepHandler {
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	return &SweepHandler{jobs: jobs, timeouts: timeouts, logger: logger, cronSecret: cronSecret}
}

// SweepResponse represents the response from a sweep
type SweepResponse struct {
	Success     bool             `json:"success"`
	Job         string           `json:"job"`
	Result      scheduler.Result `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	DurationMS  int64            `json:"duration_ms"`
	ProcessedAt string           `json:"processed_at"`
}

// Register mounts POST /cron/<job> for every job plus GET /cron/health
func (h *SweepHandler) Register(r gin.IRouter) {
	g := r.Group("/cron")
	g.GET("/health", h.HealthCheck)
	for _, job := range h.jobs {
		g.POST("/"+job.Name, h.authenticate, h.run(job))
	}
}

func (h *SweepHandler) run(job scheduler.Job) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.logger.Info("Sweep cron job triggered",
			zap.String("job", job.Name),
			zap.String("remote_addr", c.ClientIP()))

		ctx, cancel := h.timeouts.SweepContext(c.Request.Context())
		defer cancel()

		start := time.Now()
		result, err := job.Run(ctx)
		resp := SweepResponse{
			Success:     err == nil,
			Job:         job.Name,
			Result:      result,
			DurationMS:  time.Since(start).Milliseconds(),
			ProcessedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err != nil {
			h.logger.Error("Sweep cron job failed", zap.String("job", job.Name), zap.Error(err))
			resp.Error = err.Error()
			c.JSON(http.StatusInternalServerError, resp)
			return
		}

		h.logger.Info("Sweep cron job completed",
			zap.String("job", job.Name),
			zap.Any("result", result),
			zap.Int64("duration_ms", resp.DurationMS))
		c.JSON(http.StatusOK, resp)
	}
}

// authenticate accepts the secret in X-Cron-Secret or as a bearer token
func (h *SweepHandler) authenticate(c *gin.Context) {
	provided := c.GetHeader(SecretHeader)
	if provided == "" {
		if bearer, ok := cutBearer(c.GetHeader("Authorization")); ok {
			provided = bearer
		}
	}
	if h.cronSecret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.cronSecret)) != 1 {
		h.logger.Warn("Unauthorized cron request", zap.String("remote_addr", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}
	c.Next()
}

// HealthCheck handles GET /cron/health
func (h *SweepHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func cutBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):], true
	}
	return "", false
}
