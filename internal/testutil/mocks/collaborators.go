package mocks

import (
	"context"
	"sync"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/stretchr/testify/mock"
)

// RecordingSink captures notifications. It is safe for concurrent use.
type RecordingSink struct {
	mu   sync.Mutex
	sent []ports.Notification
	Err  error
}

var _ ports.NotificationSink = (*RecordingSink)(nil)

// Notify records n and returns Err
func (s *RecordingSink) Notify(_ context.Context, n ports.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.Err
}

// Events returns the recorded event types in order
func (s *RecordingSink) Events() []ports.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ports.EventType, len(s.sent))
	for i, n := range s.sent {
		out[i] = n.Event
	}
	return out
}

// Sent returns a copy of the recorded notifications
func (s *RecordingSink) Sent() []ports.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.Notification(nil), s.sent...)
}

// MockDeliveryPreparer mocks ports.DeliveryPreparer
type MockDeliveryPreparer struct {
	mock.Mock
}

var _ ports.DeliveryPreparer = (*MockDeliveryPreparer)(nil)

func (m *MockDeliveryPreparer) Prepare(ctx context.Context, p *domain.Purchase) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

// StaticAdmins is a fixed admin directory
type StaticAdmins []string

// AdminIDs returns the configured admins
func (a StaticAdmins) AdminIDs(context.Context) ([]string, error) {
	return append([]string(nil), a...), nil
}
