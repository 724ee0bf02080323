// Package delivery hands paid purchases to the external delivery service.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"go.uber.org/zap"
)

// Config contains configuration for the delivery service client
type Config struct {
	// URL receives a POST per paid purchase
	URL string
	// Token is sent as a bearer token when set
	Token   string
	Timeout time.Duration
	// MaxAttempts covers transport errors and 5xx answers
	MaxAttempts int
	Backoff     resilience.BackoffStrategy
}

// HTTPPreparer posts purchases to the delivery service. 200/201 means
// delivered, 202 means accepted with the outcome reported later through the
// delivery callback; anything else is a failed delivery.
type HTTPPreparer struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var _ ports.DeliveryPreparer = (*HTTPPreparer)(nil)

// NewHTTPPreparer creates a delivery preparer client
func NewHTTPPreparer(cfg Config, client *http.Client, logger *zap.Logger) *HTTPPreparer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff == nil {
		cfg.Backoff = resilience.DefaultExponentialBackoff()
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPPreparer{cfg: cfg, client: client, logger: logger}
}

type prepareRequest struct {
	PurchaseID  string `json:"purchase_id"`
	OrderNumber string `json:"order_number"`
	ProductID   string `json:"product_id"`
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

// Prepare asks the delivery service to fulfil p
func (d *HTTPPreparer) Prepare(ctx context.Context, p *domain.Purchase) error {
	payload, err := json.Marshal(prepareRequest{
		PurchaseID:  p.ID,
		OrderNumber: p.OrderNumber,
		ProductID:   p.ProductID,
		BuyerID:     p.BuyerID,
		SellerID:    p.SellerID,
		Amount:      p.Amount.StringFixed(domain.MoneyScale),
		Currency:    p.Currency,
	})
	if err != nil {
		return fmt.Errorf("marshal delivery request: %w", err)
	}

	return resilience.Retry(ctx, d.cfg.Backoff, d.cfg.MaxAttempts, func(ctx context.Context, attempt int) (bool, error) {
		retry, err := d.send(ctx, p, payload)
		if err != nil && retry {
			d.logger.Warn("delivery attempt failed",
				zap.String("purchase_id", p.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return retry, err
	})
}

// send makes one attempt and reports whether a failure is worth retrying
func (d *HTTPPreparer) send(ctx context.Context, p *domain.Purchase, payload []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "deliver-"+p.ID)
	if d.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("delivery request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		d.logger.Info("purchase delivered",
			zap.String("purchase_id", p.ID),
			zap.String("order_number", p.OrderNumber))
		return false, nil
	case http.StatusAccepted:
		return false, ports.ErrDeliveryPending
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err = fmt.Errorf("delivery service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	return resp.StatusCode >= 500, err
}
