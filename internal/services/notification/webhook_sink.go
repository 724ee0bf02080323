package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"go.uber.org/zap"
)

// Webhook headers set on every delivery
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEventType = "X-Webhook-Event-Type"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderEventID   = "X-Webhook-Event-ID"
)

// WebhookConfig configures webhook delivery
type WebhookConfig struct {
	URL         string
	Secret      string
	MaxAttempts int
	Backoff     resilience.BackoffStrategy
}

// WebhookSink POSTs each notification as signed JSON to one endpoint,
// retrying transport errors and 5xx/429 responses with backoff.
type WebhookSink struct {
	cfg        WebhookConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhookSink creates a webhook sink. A nil client gets a 10s timeout.
func NewWebhookSink(cfg WebhookConfig, httpClient *http.Client, logger *zap.Logger) *WebhookSink {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff == nil {
		cfg.Backoff = resilience.WebhookBackoff()
	}
	return &WebhookSink{cfg: cfg, httpClient: httpClient, logger: logger}
}

// Notify delivers n, returning the last error once attempts are exhausted
func (s *WebhookSink) Notify(ctx context.Context, n ports.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	signature := Sign(payload, s.cfg.Secret)

	err = resilience.Retry(ctx, s.cfg.Backoff, s.cfg.MaxAttempts, func(ctx context.Context, attempt int) (bool, error) {
		retry, err := s.send(ctx, n, payload, signature)
		if err != nil && retry {
			s.logger.Warn("Webhook delivery failed",
				zap.String("notification_id", n.ID),
				zap.String("event_type", string(n.Event)),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return retry, err
	})
	if err != nil {
		return fmt.Errorf("webhook %s: %w", n.ID, err)
	}
	s.logger.Debug("Webhook delivered",
		zap.String("notification_id", n.ID),
		zap.String("event_type", string(n.Event)))
	return nil
}

func (s *WebhookSink) send(ctx context.Context, n ports.Notification, payload []byte, signature string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEventType, string(n.Event))
	req.Header.Set(HeaderEventID, n.ID)
	req.Header.Set(HeaderTimestamp, n.OccurredAt.UTC().Format(time.RFC3339))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return retry, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
}

// Sign returns the hex HMAC-SHA256 of payload under secret
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time
func Verify(payload []byte, secret, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), expected)
}
