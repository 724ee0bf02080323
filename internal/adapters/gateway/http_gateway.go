package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/pkg/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config contains configuration for the payment-intent gateway
type Config struct {
	// BaseURL of the provider API, e.g. https://api.gateway.example
	BaseURL string
	// APIKey is sent as a bearer token
	APIKey string
	// Timeout bounds a single call; there are no automatic retries
	Timeout time.Duration
	Breaker BreakerConfig
}

type httpGateway struct {
	cfg     Config
	client  *http.Client
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPGateway creates a PaymentGateway speaking the provider's JSON API
func NewHTTPGateway(cfg Config, client *http.Client, logger *zap.Logger) ports.PaymentGateway {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	breakerCfg := cfg.Breaker
	breakerCfg.OnStateChange = func(from, to BreakerState) {
		logger.Warn("Gateway circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	return &httpGateway{
		cfg:     cfg,
		client:  client,
		breaker: NewCircuitBreaker(breakerCfg),
		logger:  logger,
	}
}

type intentPayload struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

type refundPayload struct {
	ID     string `json:"id"`
	Amount string `json:"amount"`
	Status string `json:"status"`
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *httpGateway) CreateIntent(ctx context.Context, req *ports.CreateIntentRequest) (*ports.Intent, error) {
	body := map[string]interface{}{
		"amount":         req.Amount.StringFixed(domain.MoneyScale),
		"currency":       strings.ToLower(req.Currency),
		"capture_method": "manual",
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var out intentPayload
	if err := g.call(ctx, "create_intent", http.MethodPost, "/v1/payment_intents", req.IdempotencyKey, body, &out); err != nil {
		return nil, err
	}
	// A new intent is normally still waiting on the buyer; its status only
	// matters at confirmation.
	return toIntent(out, false)
}

func (g *httpGateway) GetIntent(ctx context.Context, intentID string) (*ports.Intent, error) {
	var out intentPayload
	if err := g.call(ctx, "get_intent", http.MethodGet, "/v1/payment_intents/"+url.PathEscape(intentID), "", nil, &out); err != nil {
		return nil, err
	}
	return toIntent(out, true)
}

func (g *httpGateway) Capture(ctx context.Context, intentID string) (ports.IntentStatus, error) {
	var out intentPayload
	path := "/v1/payment_intents/" + url.PathEscape(intentID) + "/capture"
	if err := g.call(ctx, "capture", http.MethodPost, path, "capture-"+intentID, map[string]interface{}{}, &out); err != nil {
		return "", err
	}
	return mapStatus(out.Status)
}

func (g *httpGateway) Refund(ctx context.Context, req *ports.RefundRequest) (*ports.RefundResult, error) {
	body := map[string]interface{}{
		"payment_intent": req.IntentID,
		"amount":         req.Amount.StringFixed(domain.MoneyScale),
	}
	if req.Reason != "" {
		body["reason"] = req.Reason
	}

	var out refundPayload
	if err := g.call(ctx, "refund", http.MethodPost, "/v1/refunds", req.IdempotencyKey, body, &out); err != nil {
		return nil, err
	}
	if out.Status == "failed" || out.Status == "canceled" {
		return nil, domain.Errorf(domain.ErrorCodeGatewayDeclined, "refund %s %s", out.ID, out.Status)
	}

	amount, err := decimal.NewFromString(out.Amount)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeGatewayError, "malformed refund amount", err)
	}
	return &ports.RefundResult{RefundID: out.ID, Amount: amount}, nil
}

func (g *httpGateway) call(ctx context.Context, op, method, path, idempotencyKey string, body interface{}, out interface{}) error {
	start := time.Now()
	err := g.breaker.Execute(func() error {
		return g.do(ctx, method, path, idempotencyKey, body, out)
	}, isInfrastructureFailure)

	outcome := "success"
	switch {
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrProbeInFlight):
		outcome = "circuit_open"
		err = domain.WrapError(domain.ErrorCodeGatewayError, "payment gateway unavailable", err)
	case err != nil:
		outcome = "error"
	}
	observability.RecordGatewayCall(op, outcome, time.Since(start).Seconds())

	if err != nil {
		g.logger.Warn("Gateway call failed",
			zap.String("operation", op),
			zap.String("path", path),
			zap.Error(err))
	}
	return err
}

func (g *httpGateway) do(ctx context.Context, method, path, idempotencyKey string, body interface{}, out interface{}) error {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode gateway request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeGatewayError, "gateway request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.WrapError(domain.ErrorCodeGatewayError, "failed to read gateway response", err)
	}

	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.WrapError(domain.ErrorCodeGatewayError, "malformed gateway response", err)
	}
	return nil
}

func statusError(status int, raw []byte) error {
	var payload errorPayload
	_ = json.Unmarshal(raw, &payload)
	msg := payload.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusPaymentRequired:
		return domain.NewDomainError(domain.ErrorCodeGatewayDeclined, msg).
			WithDetail("gateway_code", payload.Error.Code)
	case status >= 500 || status == http.StatusTooManyRequests:
		return domain.NewDomainError(domain.ErrorCodeGatewayError, msg).
			WithDetail("http_status", status)
	default:
		return domain.NewDomainError(domain.ErrorCodeGatewayError, msg).
			WithDetail("http_status", status).
			WithDetail("gateway_code", payload.Error.Code)
	}
}

// isInfrastructureFailure reports errors that say the gateway itself is
// unhealthy. Declines and 4xx answers are healthy round trips.
func isInfrastructureFailure(err error) bool {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		return true
	}
	if de.Code != domain.ErrorCodeGatewayError {
		return false
	}
	if status, ok := de.Details["http_status"].(int); ok {
		return status >= 500 || status == http.StatusTooManyRequests
	}
	return true
}

// toIntent converts the provider payload. With settled unset an in-flight
// status is not an error and Status is left empty.
func toIntent(p intentPayload, settled bool) (*ports.Intent, error) {
	if p.ID == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeGatewayError, "gateway returned intent without id")
	}
	status, err := mapStatus(p.Status)
	if err != nil && settled {
		return nil, err
	}
	return &ports.Intent{ID: p.ID, ClientSecret: p.ClientSecret, Status: status}, nil
}

// mapStatus folds provider states onto the three the engine branches on.
// States that still wait on the buyer or the processor, including
// requires_payment_method, surface as GATEWAY_PENDING so callers retry later.
func mapStatus(s string) (ports.IntentStatus, error) {
	switch s {
	case "succeeded":
		return ports.IntentSucceeded, nil
	case "requires_capture":
		return ports.IntentRequiresCapture, nil
	case "failed", "canceled":
		return ports.IntentFailed, nil
	default:
		return "", domain.Errorf(domain.ErrorCodeGatewayPending, "intent is %s", s)
	}
}
