package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/testutil/engine"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJobs_RunAgainstEngine(t *testing.T) {
	e := engine.New(t, engine.Options{})
	ctx := context.Background()

	p := e.Paid(t)
	_, d := e.Disputed(t, domain.DisputeTypeQualityIssue)
	require.NotNil(t, d)

	jobs := Jobs(e.Escrow, e.PurchaseService, e.DisputeService)
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{JobReleaseEscrow, JobEscalateDisputes, JobExpireDisputes, JobCloseDisputeWindows}, names)

	e.Clock.Advance(8 * 24 * time.Hour)

	release, ok := Find(jobs, JobReleaseEscrow)
	require.True(t, ok)
	res, err := release.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res["released"], "only the undisputed payout is released")

	escalate, _ := Find(jobs, JobEscalateDisputes)
	res, err = escalate.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res["escalated"])

	closeWindows, _ := Find(jobs, JobCloseDisputeWindows)
	res, err = closeWindows.Run(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res["closed"], 1)
	assert.False(t, e.Purchase(t, p.ID).CanDispute)

	_, ok = Find(jobs, "unknown")
	assert.False(t, ok)

	e.RequireBalanced(t, p.ID)
}

func TestScheduler_RunsJobs(t *testing.T) {
	var runs atomic.Int32
	done := make(chan struct{}, 1)
	jobs := []Job{
		{Name: "ok", Run: func(ctx context.Context) (Result, error) {
			if runs.Add(1) == 1 {
				done <- struct{}{}
			}
			return Result{"n": 1}, nil
		}},
		{Name: "failing", Run: func(ctx context.Context) (Result, error) {
			return nil, errors.New("boom")
		}},
	}

	s, err := New(jobs, 10*time.Millisecond, resilience.TestTimeoutConfig(), zap.NewNop())
	require.NoError(t, err)
	s.Start()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
	require.NoError(t, s.Shutdown(context.Background()))
	assert.GreaterOrEqual(t, runs.Load(), int32(1))
}

func TestScheduler_RejectsZeroInterval(t *testing.T) {
	_, err := New(nil, 0, nil, zap.NewNop())
	assert.Error(t, err)
}
