// Package notification delivers fire-and-forget user-facing events. Nothing
// in this package can fail or roll back the state change that produced an
// event: sink errors are logged and dropped.
package notification

import (
	"context"

	"github.com/google/uuid"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
)

// Publisher stamps notifications and hands them to a sink
type Publisher struct {
	sink   ports.NotificationSink
	clock  timeutil.Clock
	logger ports.Logger
}

// NewPublisher creates a publisher. A nil sink discards every event.
func NewPublisher(sink ports.NotificationSink, clock timeutil.Clock, logger ports.Logger) *Publisher {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &Publisher{sink: sink, clock: clock, logger: logger}
}

// Publish sends n, filling in ID and OccurredAt when unset. It never returns
// an error; failures are logged.
func (p *Publisher) Publish(ctx context.Context, n ports.Notification) {
	if p == nil || p.sink == nil {
		return
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = p.clock.Now()
	}
	if len(n.RecipientIDs) == 0 {
		p.logger.Debug("notification has no recipients",
			ports.String("event", string(n.Event)),
			ports.String("reference", n.Reference))
		return
	}

	if err := p.sink.Notify(ctx, n); err != nil {
		p.logger.Warn("notification not delivered",
			ports.String("notification_id", n.ID),
			ports.String("event", string(n.Event)),
			ports.String("reference", n.Reference),
			ports.Err(err))
	}
}
