// Package scheduler runs the escrow and dispute sweeps, either in-process on
// an interval or on demand through the cron endpoints.
package scheduler

import (
	"context"

	"github.com/kevin07696/escrow-service/internal/services/escrow"
	svcports "github.com/kevin07696/escrow-service/internal/services/ports"
)

// Job names, also used as the cron endpoint paths
const (
	JobReleaseEscrow       = "release-escrow"
	JobEscalateDisputes    = "escalate-disputes"
	JobExpireDisputes      = "expire-disputes"
	JobCloseDisputeWindows = "close-dispute-windows"
)

// Result counts what a sweep did
type Result map[string]int

// Job is one idempotent sweep
type Job struct {
	Name string
	Run  func(ctx context.Context) (Result, error)
}

// EscrowSweeper releases payouts whose hold has elapsed
type EscrowSweeper interface {
	ReleaseDue(ctx context.Context) (escrow.SweepResult, error)
}

// Jobs returns every sweep in the order they should run
func Jobs(escrowManager EscrowSweeper, purchases svcports.PurchaseService, disputes svcports.DisputeService) []Job {
	return []Job{
		{Name: JobReleaseEscrow, Run: func(ctx context.Context) (Result, error) {
			r, err := escrowManager.ReleaseDue(ctx)
			return Result{"released": r.Released, "skipped": r.Skipped, "failed": r.Failed}, err
		}},
		{Name: JobEscalateDisputes, Run: count("escalated", disputes.EscalateOverdue)},
		{Name: JobExpireDisputes, Run: count("expired", disputes.ExpireStale)},
		{Name: JobCloseDisputeWindows, Run: count("closed", purchases.CloseDisputeWindows)},
	}
}

func count(key string, fn func(context.Context) (int, error)) func(context.Context) (Result, error) {
	return func(ctx context.Context) (Result, error) {
		n, err := fn(ctx)
		return Result{key: n}, err
	}
}

// Find returns the job called name
func Find(jobs []Job, name string) (Job, bool) {
	for _, j := range jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}
