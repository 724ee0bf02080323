package notification

import (
	"context"
	"errors"
	"strings"

	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// LogSink writes notifications to the log. Used when no webhook is configured.
type LogSink struct {
	logger ports.Logger
}

// NewLogSink creates a log-only sink
func NewLogSink(logger ports.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Notify logs n at info level
func (s *LogSink) Notify(_ context.Context, n ports.Notification) error {
	s.logger.Info("notification",
		ports.String("notification_id", n.ID),
		ports.String("event", string(n.Event)),
		ports.String("recipients", strings.Join(n.RecipientIDs, ",")),
		ports.String("purchase_id", n.PurchaseID),
		ports.String("dispute_id", n.DisputeID),
		ports.String("reference", n.Reference))
	return nil
}

// MultiSink fans a notification out to every sink and joins their errors
type MultiSink []ports.NotificationSink

// Notify delivers n to every sink, even when an earlier one fails
func (m MultiSink) Notify(ctx context.Context, n ports.Notification) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
