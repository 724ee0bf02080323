package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/pkg/observability"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned when the dispatcher drops an event
	ErrQueueFull = errors.New("notification queue full")
	// ErrDispatcherClosed is returned after Close
	ErrDispatcherClosed = errors.New("notification dispatcher closed")
)

// DispatcherConfig sizes the async delivery pool
type DispatcherConfig struct {
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
}

// DefaultDispatcherConfig returns a 1024-deep queue drained by 4 workers
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:       1024,
		Workers:         4,
		DeliveryTimeout: 2 * time.Minute,
	}
}

// Dispatcher is a NotificationSink that queues events and delivers them to
// an inner sink on background workers, so callers never wait on delivery.
type Dispatcher struct {
	sink    ports.NotificationSink
	queue   chan ports.Notification
	cfg     DispatcherConfig
	logger  ports.Logger
	workers *errgroup.Group
	cancel  context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts cfg.Workers workers delivering to sink
func NewDispatcher(sink ports.NotificationSink, cfg DispatcherConfig, logger ports.Logger) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaults.DeliveryTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan ports.Notification, cfg.QueueSize),
		cfg:     cfg,
		logger:  logger,
		workers: &errgroup.Group{},
		cancel:  cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.workers.Go(func() error {
			for n := range d.queue {
				d.deliver(ctx, n)
			}
			return nil
		})
	}
	return d
}

// Notify enqueues n without blocking. A full queue drops the event.
func (d *Dispatcher) Notify(_ context.Context, n ports.Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- n:
		return nil
	default:
		observability.RecordNotificationDelivery(string(n.Event), "dropped", 0)
		return ErrQueueFull
	}
}

// CheckBacklog fails when the queue is at least 90% full, meaning events
// are close to being dropped
func (d *Dispatcher) CheckBacklog(context.Context) error {
	queued, capacity := len(d.queue), cap(d.queue)
	if queued*10 >= capacity*9 {
		return fmt.Errorf("%d of %d notifications queued", queued, capacity)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, n ports.Notification) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	start := time.Now()
	err := d.sink.Notify(ctx, n)
	status := "delivered"
	if err != nil {
		status = "failed"
		d.logger.Warn("notification delivery failed",
			ports.String("notification_id", n.ID),
			ports.String("event", string(n.Event)),
			ports.Err(err))
	}
	observability.RecordNotificationDelivery(string(n.Event), status, time.Since(start).Seconds())
}

// Close stops accepting events and waits for the queue to drain. If ctx ends
// first, in-flight deliveries are cancelled and ctx's error is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = d.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
