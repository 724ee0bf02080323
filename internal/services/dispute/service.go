// Package dispute implements the Dispute State Machine: opening a dispute
// freezes the seller payout, parties respond, admins resolve, and sweeps
// escalate or expire stale disputes.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/internal/services/escrow"
	"github.com/kevin07696/escrow-service/internal/services/notification"
	svcports "github.com/kevin07696/escrow-service/internal/services/ports"
	"github.com/kevin07696/escrow-service/internal/services/purchase"
	"github.com/kevin07696/escrow-service/internal/services/sequence"
	"github.com/kevin07696/escrow-service/pkg/observability"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
)

// Config holds dispute policy
type Config struct {
	Windows domain.DisputeWindows
	// StrictResolutions rejects unknown resolution values instead of
	// recording them as inert outcomes
	StrictResolutions bool
	SweepBatchSize    int
}

// DefaultConfig returns 3/14/30 day windows with permissive resolutions
func DefaultConfig() Config {
	return Config{Windows: domain.DefaultDisputeWindows(), SweepBatchSize: 200}
}

// Service implements svcports.DisputeService
type Service struct {
	db        ports.TransactionManager
	purchases ports.PurchaseRepository
	disputes  ports.DisputeRepository
	payments  *purchase.Service
	escrow    *escrow.Manager
	numbers   *sequence.Allocator
	admins    ports.AdminDirectory
	publisher *notification.Publisher
	clock     timeutil.Clock
	logger    ports.Logger
	cfg       Config
}

var _ svcports.DisputeService = (*Service)(nil)

// NewService creates the dispute service
func NewService(
	db ports.TransactionManager,
	purchases ports.PurchaseRepository,
	disputes ports.DisputeRepository,
	payments *purchase.Service,
	escrowManager *escrow.Manager,
	numbers *sequence.Allocator,
	admins ports.AdminDirectory,
	publisher *notification.Publisher,
	clock timeutil.Clock,
	cfg Config,
	logger ports.Logger,
) *Service {
	defaults := DefaultConfig()
	if cfg.Windows.Response <= 0 {
		cfg.Windows.Response = defaults.Windows.Response
	}
	if cfg.Windows.Resolution <= 0 {
		cfg.Windows.Resolution = defaults.Windows.Resolution
	}
	if cfg.Windows.Expiry <= 0 {
		cfg.Windows.Expiry = defaults.Windows.Expiry
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = defaults.SweepBatchSize
	}
	return &Service{
		db:        db,
		purchases: purchases,
		disputes:  disputes,
		payments:  payments,
		escrow:    escrowManager,
		numbers:   numbers,
		admins:    admins,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Create opens a dispute. The payout freeze, the can_dispute latch, the
// purchase status change and the dispute row commit together; a concurrent
// second attempt fails with CONFLICT_ALREADY_DISPUTED.
func (s *Service) Create(ctx context.Context, actor domain.Actor, draft domain.DisputeDraft) (*domain.Dispute, error) {
	if actor.UserID == "" {
		return nil, domain.ErrAuthMissing
	}
	draft.DisputerID = actor.UserID
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	p, err := s.purchases.GetByID(ctx, nil, draft.PurchaseID)
	if err != nil {
		return nil, err
	}
	if !p.IsParty(actor.UserID) {
		return nil, domain.ErrAuthForbidden.WithDetail("purchase_id", p.ID)
	}

	now := s.clock.Now()
	if err := p.CheckDisputable(now); err != nil {
		return nil, err
	}

	recent, err := s.disputes.CountByDisputerSince(ctx, nil, actor.UserID, now.Add(-domain.FraudLookback()))
	if err != nil {
		return nil, fmt.Errorf("count recent disputes: %w", err)
	}
	purchasedAt := p.CreatedAt
	if p.PaidAt != nil {
		purchasedAt = *p.PaidAt
	}
	indicators := domain.EvaluateFraud(draft, domain.FraudHistory{
		PurchasedAt:    purchasedAt,
		OpenedAt:       now,
		RecentDisputes: recent,
	})

	var d *domain.Dispute
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		locked, err := s.purchases.GetByIDForUpdate(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if err := locked.MarkDisputed(now); err != nil {
			return err
		}

		number, err := s.numbers.Next(ctx, tx, domain.SequenceDispute, now)
		if err != nil {
			return err
		}
		d, err = domain.NewDispute(uuid.New().String(), number, draft, locked, s.cfg.Windows, now)
		if err != nil {
			return err
		}
		d.ApplyFraudIndicators(indicators)

		if _, err := s.escrow.Freeze(ctx, tx, locked.ID, now); err != nil {
			return err
		}
		if err := s.purchases.Update(ctx, tx, locked); err != nil {
			return fmt.Errorf("update purchase: %w", err)
		}
		if err := s.disputes.Create(ctx, tx, d); err != nil {
			return err
		}
		if err := s.disputes.AppendEvent(ctx, tx, d.CreatedEvent(uuid.New().String())); err != nil {
			return fmt.Errorf("append dispute event: %w", err)
		}
		p = locked
		return nil
	})
	if err != nil {
		s.logger.Warn("dispute not opened",
			ports.String("purchase_id", draft.PurchaseID),
			ports.String("disputer_id", actor.UserID),
			ports.Err(err))
		return nil, err
	}

	tags := make([]string, len(d.FraudIndicators))
	for i, ind := range d.FraudIndicators {
		tags[i] = string(ind)
	}
	observability.RecordDisputeOpened(string(d.Type), string(d.Priority), d.FlaggedAsFraud, tags)
	observability.RecordPurchaseTransition(string(p.Status), p.Amount, p.Currency)
	s.logger.Info("dispute opened",
		ports.String("dispute_id", d.ID),
		ports.String("dispute_number", d.DisputeNumber),
		ports.String("order_number", p.OrderNumber),
		ports.String("type", string(d.Type)),
		ports.String("priority", string(d.Priority)),
		ports.Bool("flagged_as_fraud", d.FlaggedAsFraud))

	s.notify(ctx, d, ports.EventDisputeCreated, s.withAdmins(ctx, d.DisputedAgainstID), map[string]string{
		"type":     string(d.Type),
		"priority": string(d.Priority),
	})
	return d, nil
}

// Respond records a response from a party or the assigned admin and pushes
// the response deadline out from now
func (s *Service) Respond(ctx context.Context, actor domain.Actor, req svcports.RespondRequest) (*domain.Dispute, error) {
	if actor.UserID == "" {
		return nil, domain.ErrAuthMissing
	}
	d, err := s.mutate(ctx, req.DisputeID, func(d *domain.Dispute, now time.Time) (*domain.DisputeEvent, error) {
		return d.Respond(uuid.New().String(), actor.UserID, req.Message, req.Evidence, s.cfg.Windows.Response, now)
	})
	if err != nil {
		return nil, err
	}

	var recipients []string
	for _, id := range []string{d.DisputerID, d.DisputedAgainstID, d.AssignedAdminID} {
		if id != "" && id != actor.UserID {
			recipients = append(recipients, id)
		}
	}
	s.notify(ctx, d, ports.EventDisputeResponseReceived, recipients, map[string]string{
		"responder_id": actor.UserID,
	})
	return d, nil
}

// Assign hands the dispute to an admin, who may then respond alongside the
// parties. An empty AdminID assigns the caller.
func (s *Service) Assign(ctx context.Context, actor domain.Actor, req svcports.AssignRequest) (*domain.Dispute, error) {
	if err := actor.Require(domain.CapabilityDisputesResolve); err != nil {
		return nil, err
	}
	adminID := req.AdminID
	if adminID == "" {
		adminID = actor.UserID
	}
	return s.mutate(ctx, req.DisputeID, func(d *domain.Dispute, now time.Time) (*domain.DisputeEvent, error) {
		return d.Assign(uuid.New().String(), actor.UserID, adminID, now)
	})
}

// Escalate raises a dispute to admins. Parties and admins may escalate.
func (s *Service) Escalate(ctx context.Context, actor domain.Actor, disputeID, reason string) (*domain.Dispute, error) {
	if actor.UserID == "" {
		return nil, domain.ErrAuthMissing
	}
	d, err := s.mutate(ctx, disputeID, func(d *domain.Dispute, now time.Time) (*domain.DisputeEvent, error) {
		if !d.IsParty(actor.UserID) && !actor.IsAdmin() {
			return nil, domain.ErrAuthForbidden.WithDetail("dispute_id", disputeID)
		}
		return d.Escalate(uuid.New().String(), actor.UserID, reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.notifyEscalated(ctx, d, reason)
	return d, nil
}

func (s *Service) notifyEscalated(ctx context.Context, d *domain.Dispute, reason string) {
	s.notify(ctx, d, ports.EventDisputeEscalated, s.withAdmins(ctx, d.DisputerID, d.DisputedAgainstID), map[string]string{
		"priority": string(d.Priority),
		"reason":   reason,
	})
}

// Resolve applies the admin decision. A refunding resolution is claimed on
// the dispute first, under the purchase and dispute locks, so nothing can
// withdraw the dispute or change the outcome while the gateway refund is in
// flight. The refund is keyed by the dispute so a retry never refunds twice;
// the ledger, purchase and dispute changes then commit together.
func (s *Service) Resolve(ctx context.Context, actor domain.Actor, req svcports.ResolveRequest) (*domain.Dispute, error) {
	if err := actor.Require(domain.CapabilityDisputesResolve); err != nil {
		return nil, err
	}
	resolution, err := domain.ParseResolution(req.Resolution, req.Amount, s.cfg.StrictResolutions)
	if err != nil {
		return nil, err
	}

	d, err := s.disputes.GetByID(ctx, nil, req.DisputeID)
	if err != nil {
		return nil, err
	}
	if !d.IsResolvable() {
		return nil, domain.ErrDisputeClosed.WithDetail("status", string(d.Status))
	}
	p, err := s.purchases.GetByID(ctx, nil, d.PurchaseID)
	if err != nil {
		return nil, err
	}

	plan := &refundPlanner{purchase: p}
	if err := resolution.Accept(plan); err != nil {
		return nil, err
	}

	claim := domain.ClaimKey(resolution)
	var refund *ports.RefundResult
	if plan.amount.IsPositive() {
		if p, err = s.claimResolution(ctx, d, claim); err != nil {
			return nil, err
		}
		refund, err = s.payments.GatewayRefund(ctx, p, plan.amount, "dispute "+d.DisputeNumber+": "+string(resolution.Kind()), "dispute-"+d.ID)
		if err != nil {
			if errors.Is(err, domain.ErrGatewayDeclined) {
				s.releaseResolutionClaim(ctx, d, claim)
			}
			return nil, err
		}
	}

	apply := &resolutionApplier{s: s, refund: refund, refundAmount: plan.amount}
	superseded := false
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.clock.Now()
		locked, err := s.purchases.GetByIDForUpdate(ctx, tx, d.PurchaseID)
		if err != nil {
			return err
		}
		current, err := s.disputes.GetByIDForUpdate(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		if refund != nil && (!current.IsResolvable() || current.PendingResolution != claim) {
			// The refund went through; it lands in the ledger whatever the dispute did.
			superseded = true
			_, err := s.payments.ApplyRefund(ctx, tx, locked.ID, plan.amount, refund, domain.ReleaseReasonDisputeRefund, now)
			return err
		}
		if err := current.ClaimResolution(claim, now); err != nil {
			return err
		}

		apply.ctx, apply.tx, apply.now, apply.purchase = ctx, tx, now, locked
		if err := resolution.Accept(apply); err != nil {
			return err
		}

		event, err := current.Resolve(uuid.New().String(), actor.UserID, resolution, req.Notes, now)
		if err != nil {
			return err
		}
		if err := s.disputes.Update(ctx, tx, current); err != nil {
			return fmt.Errorf("update dispute: %w", err)
		}
		if err := s.disputes.AppendEvent(ctx, tx, event); err != nil {
			return fmt.Errorf("append dispute event: %w", err)
		}
		d, p = current, apply.purchase
		return nil
	})
	if err != nil {
		s.logger.Error("dispute resolution failed",
			ports.String("dispute_id", req.DisputeID),
			ports.String("resolution", resolution.Raw()),
			ports.Err(err))
		return nil, err
	}
	if superseded {
		s.logger.Warn("dispute changed while resolving; issued refund recorded",
			ports.String("dispute_id", d.ID),
			ports.String("refund_id", refund.RefundID))
		return nil, domain.Errorf(domain.ErrorCodeDisputeClosed, "dispute %s changed while resolving; refund %s recorded", d.DisputeNumber, refund.RefundID)
	}

	observability.RecordDisputeResolved(string(resolution.Kind()))
	observability.RecordDisputeTransition(string(domain.DisputeActionResolved))
	s.logger.Info("dispute resolved",
		ports.String("dispute_id", d.ID),
		ports.String("dispute_number", d.DisputeNumber),
		ports.String("resolution", d.Resolution),
		ports.String("purchase_status", string(p.Status)),
		ports.String("resolved_by", actor.UserID))

	s.notify(ctx, d, ports.EventDisputeResolved, []string{d.DisputerID, d.DisputedAgainstID}, map[string]string{
		"resolution":      d.Resolution,
		"purchase_status": string(p.Status),
	})
	if apply.refunded {
		s.payments.NotifyRefund(ctx, p, plan.amount)
	}
	return d, nil
}

// claimResolution persists the in-flight marker on the dispute. The purchase
// must still be disputed, so the refund runs against the frozen payout.
func (s *Service) claimResolution(ctx context.Context, d *domain.Dispute, claim string) (*domain.Purchase, error) {
	var p *domain.Purchase
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.clock.Now()
		locked, err := s.purchases.GetByIDForUpdate(ctx, tx, d.PurchaseID)
		if err != nil {
			return err
		}
		current, err := s.disputes.GetByIDForUpdate(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		if locked.Status != domain.PurchaseStatusDisputed {
			return domain.Errorf(domain.ErrorCodeInvalidState, "purchase %s is %s, not disputed", locked.OrderNumber, locked.Status)
		}
		if err := current.ClaimResolution(claim, now); err != nil {
			return err
		}
		if err := s.disputes.Update(ctx, tx, current); err != nil {
			return fmt.Errorf("update dispute: %w", err)
		}
		p = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("dispute resolution claimed",
		ports.String("dispute_id", d.ID),
		ports.String("claim", claim))
	return p, nil
}

func (s *Service) releaseResolutionClaim(ctx context.Context, d *domain.Dispute, claim string) {
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := s.disputes.GetByIDForUpdate(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		if !current.ReleaseResolutionClaim(claim, s.clock.Now()) {
			return nil
		}
		return s.disputes.Update(ctx, tx, current)
	})
	if err != nil {
		s.logger.Error("dispute resolution claim not released",
			ports.String("dispute_id", d.ID),
			ports.Err(err))
	}
}

// Withdraw lets the disputer drop the dispute. The payout goes back on its
// original release schedule and the purchase returns to its pre-dispute
// status; the can_dispute latch stays off.
func (s *Service) Withdraw(ctx context.Context, actor domain.Actor, disputeID, reason string) (*domain.Dispute, error) {
	if actor.UserID == "" {
		return nil, domain.ErrAuthMissing
	}
	d, err := s.disputes.GetByID(ctx, nil, disputeID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.clock.Now()
		p, err := s.purchases.GetByIDForUpdate(ctx, tx, d.PurchaseID)
		if err != nil {
			return err
		}
		current, err := s.disputes.GetByIDForUpdate(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		event, err := current.Withdraw(uuid.New().String(), actor.UserID, reason, now)
		if err != nil {
			return err
		}

		if p.Status == domain.PurchaseStatusDisputed {
			if _, err := s.escrow.Unfreeze(ctx, tx, p.ID, s.escrow.ScheduledRelease(p), now); err != nil {
				return err
			}
			if err := p.RestoreFromDispute(now); err != nil {
				return err
			}
			if err := s.purchases.Update(ctx, tx, p); err != nil {
				return fmt.Errorf("update purchase: %w", err)
			}
		}
		if err := s.disputes.Update(ctx, tx, current); err != nil {
			return fmt.Errorf("update dispute: %w", err)
		}
		if err := s.disputes.AppendEvent(ctx, tx, event); err != nil {
			return fmt.Errorf("append dispute event: %w", err)
		}
		d = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordDisputeTransition(string(domain.DisputeActionWithdrawn))
	s.logger.Info("dispute withdrawn",
		ports.String("dispute_id", d.ID),
		ports.String("dispute_number", d.DisputeNumber))
	s.notify(ctx, d, ports.EventDisputeResolved, []string{d.DisputedAgainstID}, map[string]string{
		"resolution": string(domain.DisputeActionWithdrawn),
	})
	return d, nil
}

// Close archives a resolved dispute
func (s *Service) Close(ctx context.Context, actor domain.Actor, disputeID string) (*domain.Dispute, error) {
	if err := actor.Require(domain.CapabilityDisputesResolve); err != nil {
		return nil, err
	}
	return s.mutate(ctx, disputeID, func(d *domain.Dispute, now time.Time) (*domain.DisputeEvent, error) {
		return d.Close(uuid.New().String(), actor.UserID, now)
	})
}

// Get returns the dispute and its history to a party or admin
func (s *Service) Get(ctx context.Context, actor domain.Actor, disputeID string) (*svcports.DisputeView, error) {
	if actor.UserID == "" {
		return nil, domain.ErrAuthMissing
	}

	view := &svcports.DisputeView{}
	err := s.db.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		d, err := s.disputes.GetByID(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		if !d.CanRespond(actor.UserID) && !actor.IsAdmin() {
			return domain.ErrAuthForbidden.WithDetail("dispute_id", disputeID)
		}
		history, err := s.disputes.ListEvents(ctx, tx, disputeID)
		if err != nil {
			return fmt.Errorf("list dispute events: %w", err)
		}
		view.Dispute, view.History = d, history
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// EscalateOverdue escalates every dispute whose response deadline passed
// without a reply
func (s *Service) EscalateOverdue(ctx context.Context) (int, error) {
	overdue, err := s.disputes.ListOverdueResponses(ctx, nil, s.clock.Now(), s.cfg.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list overdue disputes: %w", err)
	}

	const reason = "response deadline passed"
	escalated := 0
	for _, candidate := range overdue {
		if err := ctx.Err(); err != nil {
			return escalated, err
		}
		changed := false
		d, err := s.mutate(ctx, candidate.ID, func(d *domain.Dispute, now time.Time) (*domain.DisputeEvent, error) {
			if !d.ResponseOverdue(now) {
				return nil, nil
			}
			changed = true
			return d.Escalate(uuid.New().String(), domain.SystemActorID, reason, now)
		})
		if err != nil {
			s.logger.Error("auto-escalation failed",
				ports.String("dispute_id", candidate.ID),
				ports.Err(err))
			continue
		}
		if changed {
			escalated++
			s.notifyEscalated(ctx, d, reason)
		}
	}
	if escalated > 0 {
		s.logger.Info("overdue disputes escalated", ports.Int("count", escalated))
	}
	return escalated, nil
}

// ExpireStale moves open disputes past their hard ceiling to expired. The
// payout stays frozen until an admin resolves the dispute.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.disputes.ListExpiring(ctx, nil, s.clock.Now(), s.cfg.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expiring disputes: %w", err)
	}

	expired := 0
	for _, candidate := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		changed := false
		d, err := s.mutate(ctx, candidate.ID, func(d *domain.Dispute, now time.Time) (*domain.DisputeEvent, error) {
			if !d.IsExpired(now) {
				return nil, nil
			}
			changed = true
			return d.Expire(uuid.New().String(), now)
		})
		if err != nil {
			s.logger.Error("dispute expiry failed",
				ports.String("dispute_id", candidate.ID),
				ports.Err(err))
			continue
		}
		if changed {
			expired++
			s.logger.Warn("dispute expired awaiting resolution",
				ports.String("dispute_id", d.ID),
				ports.String("dispute_number", d.DisputeNumber))
		}
	}
	return expired, nil
}

// mutate locks the dispute, applies fn and persists the dispute with the
// event fn returns. A nil event means nothing changed.
func (s *Service) mutate(ctx context.Context, disputeID string, fn func(d *domain.Dispute, now time.Time) (*domain.DisputeEvent, error)) (*domain.Dispute, error) {
	var (
		d     *domain.Dispute
		event *domain.DisputeEvent
	)
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		d, err = s.disputes.GetByIDForUpdate(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		event, err = fn(d, s.clock.Now())
		if err != nil || event == nil {
			return err
		}
		if err := s.disputes.Update(ctx, tx, d); err != nil {
			return fmt.Errorf("update dispute: %w", err)
		}
		if err := s.disputes.AppendEvent(ctx, tx, event); err != nil {
			return fmt.Errorf("append dispute event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if event != nil {
		observability.RecordDisputeTransition(string(event.Action))
		s.logger.Info("dispute updated",
			ports.String("dispute_id", d.ID),
			ports.String("dispute_number", d.DisputeNumber),
			ports.String("action", string(event.Action)),
			ports.String("status", string(d.Status)))
	}
	return d, nil
}

func (s *Service) withAdmins(ctx context.Context, ids ...string) []string {
	if s.admins == nil {
		return ids
	}
	admins, err := s.admins.AdminIDs(ctx)
	if err != nil {
		s.logger.Warn("admin directory unavailable", ports.Err(err))
		return ids
	}
	return append(ids, admins...)
}

func (s *Service) notify(ctx context.Context, d *domain.Dispute, event ports.EventType, recipients []string, data map[string]string) {
	s.publisher.Publish(ctx, ports.Notification{
		Event:        event,
		RecipientIDs: recipients,
		PurchaseID:   d.PurchaseID,
		DisputeID:    d.ID,
		Reference:    d.DisputeNumber,
		Data:         data,
	})
}
