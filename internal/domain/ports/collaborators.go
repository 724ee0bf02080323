package ports

import (
	"context"
	"errors"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain"
)

// EventType names a user-facing notification
type EventType string

const (
	EventDisputeCreated          EventType = "dispute_created"
	EventDisputeResponseReceived EventType = "dispute_response_received"
	EventDisputeResolved         EventType = "dispute_resolved"
	EventDisputeEscalated        EventType = "dispute_escalated"
	EventPurchaseCompleted       EventType = "purchase_completed"
	EventRefundProcessed         EventType = "refund_processed"
	EventFundsReleased           EventType = "funds_released"
)

// Notification is one fire-and-forget event
type Notification struct {
	OccurredAt   time.Time         `json:"occurred_at"`
	Data         map[string]string `json:"data,omitempty"`
	RecipientIDs []string          `json:"recipient_ids"`
	ID           string            `json:"id"`
	PurchaseID   string            `json:"purchase_id,omitempty"`
	DisputeID    string            `json:"dispute_id,omitempty"`
	Reference    string            `json:"reference,omitempty"`
	Event        EventType         `json:"event"`
}

// NotificationSink delivers notifications. Errors are reported but never
// undo the state change that produced the event.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// ErrDeliveryPending is returned by a DeliveryPreparer that accepted the
// purchase and will report the outcome later through the delivery callback.
var ErrDeliveryPending = errors.New("delivery accepted, outcome pending")

// DeliveryPreparer fulfils a paid purchase. A nil error means delivered.
type DeliveryPreparer interface {
	Prepare(ctx context.Context, p *domain.Purchase) error
}

// AdminDirectory lists the users who arbitrate disputes
type AdminDirectory interface {
	AdminIDs(ctx context.Context) ([]string, error)
}
