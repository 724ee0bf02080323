package ports

import (
	"context"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/shopspring/decimal"
)

// RespondRequest adds a party or admin response to a dispute
type RespondRequest struct {
	DisputeID string
	Message   string
	Evidence  []string
}

// ResolveRequest carries the admin decision
type ResolveRequest struct {
	DisputeID  string
	Resolution string
	// Amount is required for refund_partial
	Amount *decimal.Decimal
	Notes  string
}

// AssignRequest hands a dispute to an admin. An empty AdminID assigns the caller.
type AssignRequest struct {
	DisputeID string
	AdminID   string
}

// DisputeView is a dispute with its status history
type DisputeView struct {
	Dispute *domain.Dispute        `json:"dispute"`
	History []*domain.DisputeEvent `json:"history"`
}

// DisputeService is the Dispute State Machine
type DisputeService interface {
	Create(ctx context.Context, actor domain.Actor, draft domain.DisputeDraft) (*domain.Dispute, error)
	Respond(ctx context.Context, actor domain.Actor, req RespondRequest) (*domain.Dispute, error)
	Assign(ctx context.Context, actor domain.Actor, req AssignRequest) (*domain.Dispute, error)
	Escalate(ctx context.Context, actor domain.Actor, disputeID, reason string) (*domain.Dispute, error)
	Resolve(ctx context.Context, actor domain.Actor, req ResolveRequest) (*domain.Dispute, error)
	Withdraw(ctx context.Context, actor domain.Actor, disputeID, reason string) (*domain.Dispute, error)
	Close(ctx context.Context, actor domain.Actor, disputeID string) (*domain.Dispute, error)
	Get(ctx context.Context, actor domain.Actor, disputeID string) (*DisputeView, error)

	// EscalateOverdue escalates disputes whose response deadline passed
	EscalateOverdue(ctx context.Context) (int, error)
	// ExpireStale moves disputes past their hard ceiling to expired
	ExpireStale(ctx context.Context) (int, error)
}
