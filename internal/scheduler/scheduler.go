package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"go.uber.org/zap"
)

// Scheduler runs every job on a fixed interval. A run that overlaps the
// previous one is skipped, never queued.
type Scheduler struct {
	scheduler gocron.Scheduler
	timeouts  *resilience.TimeoutConfig
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// New registers jobs to run every interval
func New(jobs []Job, interval time.Duration, timeouts *resilience.TimeoutConfig, logger *zap.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sch := &Scheduler{scheduler: s, timeouts: timeouts, logger: logger, ctx: ctx, cancel: cancel}

	for _, job := range jobs {
		_, err := s.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(sch.run, job),
			gocron.WithName(job.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			_ = s.Shutdown()
			return nil, fmt.Errorf("register job %s: %w", job.Name, err)
		}
	}
	return sch, nil
}

func (s *Scheduler) run(job Job) {
	ctx, cancel := s.timeouts.SweepContext(s.ctx)
	defer cancel()

	start := time.Now()
	result, err := job.Run(ctx)
	if err != nil {
		s.logger.Error("Sweep failed",
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Debug("Sweep completed",
		zap.String("job", job.Name),
		zap.Any("result", result),
		zap.Duration("duration", time.Since(start)))
}

// Start begins scheduling
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("Sweep scheduler started", zap.Int("jobs", len(s.scheduler.Jobs())))
}

// Shutdown cancels in-flight sweeps and waits for them to return
func (s *Scheduler) Shutdown(context.Context) error {
	s.cancel()
	return s.scheduler.Shutdown()
}
