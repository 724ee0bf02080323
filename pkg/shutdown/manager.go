// Package shutdown stops process components in reverse start order under a
// shared deadline.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	shutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "escrow_shutdown_duration_seconds",
		Help:    "Time taken to stop every component",
		Buckets: []float64{0.5, 1, 5, 10, 20, 30},
	})

	componentErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_shutdown_component_errors_total",
		Help: "Components that failed to stop cleanly",
	}, []string{"component"})
)

// Hook stops one component. It should return once ctx is done.
type Hook func(ctx context.Context) error

type component struct {
	name string
	stop Hook
}

// Manager runs registered hooks last-registered-first, so register storage
// before the servers that use it
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration

	mu         sync.Mutex
	components []component

	once sync.Once
	err  error
}

// NewManager creates a manager that gives all hooks timeout in total
func NewManager(logger *zap.Logger, timeout time.Duration) *Manager {
	return &Manager{logger: logger, timeout: timeout}
}

// Register adds a hook
func (m *Manager) Register(name string, stop Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component{name: name, stop: stop})
}

// RegisterHTTPServer drains server on shutdown
func (m *Manager) RegisterHTTPServer(name string, server interface{ Shutdown(context.Context) error }) {
	m.Register(name, server.Shutdown)
}

// RegisterNoErr adds a hook that cannot fail and ignores the deadline
func (m *Manager) RegisterNoErr(name string, stop func()) {
	m.Register(name, func(context.Context) error {
		stop()
		return nil
	})
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then shuts down
func (m *Manager) WaitForShutdown() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	m.logger.Info("Shutdown signal received", zap.Duration("timeout", m.timeout))
	return m.Shutdown()
}

// Shutdown runs every hook once. Later calls return the first result.
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		m.err = m.run()
	})
	return m.err
}

func (m *Manager) run() error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	components := append([]component(nil), m.components...)
	m.mu.Unlock()

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		began := time.Now()
		if err := c.stop(ctx); err != nil {
			componentErrors.WithLabelValues(c.name).Inc()
			m.logger.Error("Component failed to stop",
				zap.String("component", c.name),
				zap.Duration("elapsed", time.Since(began)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		m.logger.Info("Component stopped",
			zap.String("component", c.name),
			zap.Duration("elapsed", time.Since(began)))
	}

	shutdownDuration.Observe(time.Since(start).Seconds())
	m.logger.Info("Shutdown complete",
		zap.Int("components", len(components)),
		zap.Int("failed", len(errs)),
		zap.Duration("elapsed", time.Since(start)))
	return errors.Join(errs...)
}
