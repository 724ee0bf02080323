package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DisputeType is the complaint taxonomy
type DisputeType string

const (
	DisputeTypeNonDelivery    DisputeType = "non_delivery"
	DisputeTypeNotAsDescribed DisputeType = "not_as_described"
	DisputeTypeFraud          DisputeType = "fraud"
	DisputeTypeBillingError   DisputeType = "billing_error"
	DisputeTypeQualityIssue   DisputeType = "quality_issue"
	DisputeTypeUnauthorized   DisputeType = "unauthorized"
	DisputeTypeOther          DisputeType = "other"
)

// Valid reports whether t is a known dispute type
func (t DisputeType) Valid() bool {
	switch t {
	case DisputeTypeNonDelivery, DisputeTypeNotAsDescribed, DisputeTypeFraud,
		DisputeTypeBillingError, DisputeTypeQualityIssue, DisputeTypeUnauthorized, DisputeTypeOther:
		return true
	}
	return false
}

// DisputePriority orders disputes for admin attention
type DisputePriority string

const (
	DisputePriorityLow    DisputePriority = "low"
	DisputePriorityMedium DisputePriority = "medium"
	DisputePriorityHigh   DisputePriority = "high"
	DisputePriorityUrgent DisputePriority = "urgent"
)

var priorityOrder = []DisputePriority{
	DisputePriorityLow,
	DisputePriorityMedium,
	DisputePriorityHigh,
	DisputePriorityUrgent,
}

func (p DisputePriority) rank() int {
	for i, q := range priorityOrder {
		if q == p {
			return i
		}
	}
	return 0
}

// MaxPriority returns the higher of two priorities
func MaxPriority(a, b DisputePriority) DisputePriority {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

var (
	priorityBumpAmount = decimal.NewFromInt(500)
	priorityHighAmount = decimal.NewFromInt(1000)
)

// PriorityFor derives the initial priority from complaint type and amount.
// Amounts of 500 or more bump one level; 1000 or more is at least high.
func PriorityFor(t DisputeType, amount decimal.Decimal) DisputePriority {
	var p DisputePriority
	switch t {
	case DisputeTypeFraud, DisputeTypeUnauthorized:
		p = DisputePriorityUrgent
	case DisputeTypeNonDelivery:
		p = DisputePriorityHigh
	case DisputeTypeBillingError:
		p = DisputePriorityMedium
	default:
		p = DisputePriorityLow
	}

	if amount.GreaterThanOrEqual(priorityBumpAmount) {
		p = priorityOrder[min(p.rank()+1, len(priorityOrder)-1)]
	}
	if amount.GreaterThanOrEqual(priorityHighAmount) {
		p = MaxPriority(p, DisputePriorityHigh)
	}
	return p
}

// DisputeStatus represents the arbitration state
type DisputeStatus string

const (
	DisputeStatusOpen            DisputeStatus = "open"
	DisputeStatusInvestigating   DisputeStatus = "investigating"
	DisputeStatusWaitingResponse DisputeStatus = "waiting_response"
	DisputeStatusEscalated       DisputeStatus = "escalated"
	DisputeStatusResolved        DisputeStatus = "resolved"
	DisputeStatusClosed          DisputeStatus = "closed"
	DisputeStatusCancelled       DisputeStatus = "cancelled"
	DisputeStatusExpired         DisputeStatus = "expired"
)

// DisputeAction labels a status history entry
type DisputeAction string

const (
	DisputeActionCreated   DisputeAction = "created"
	DisputeActionAssigned  DisputeAction = "assigned"
	DisputeActionResponded DisputeAction = "responded"
	DisputeActionEscalated DisputeAction = "escalated"
	DisputeActionResolved  DisputeAction = "resolved"
	DisputeActionWithdrawn DisputeAction = "withdrawn"
	DisputeActionClosed    DisputeAction = "closed"
	DisputeActionExpired   DisputeAction = "expired"
)

// DisputeWindows holds the durations that derive a dispute's deadlines.
type DisputeWindows struct {
	Response   time.Duration
	Resolution time.Duration
	Expiry     time.Duration
}

// DefaultDisputeWindows returns 3 day response, 14 day resolution and 30 day expiry windows.
func DefaultDisputeWindows() DisputeWindows {
	return DisputeWindows{
		Response:   3 * 24 * time.Hour,
		Resolution: 14 * 24 * time.Hour,
		Expiry:     30 * 24 * time.Hour,
	}
}

// DisputeDraft is the caller-supplied part of a new dispute
type DisputeDraft struct {
	Evidence    []string    `json:"evidence"`
	PurchaseID  string      `json:"purchase_id"`
	DisputerID  string      `json:"disputer_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Type        DisputeType `json:"type"`
}

// Validate checks the draft fields before any state is read
func (d *DisputeDraft) Validate() error {
	if d.PurchaseID == "" {
		return ErrMissingField.WithDetail("field", "purchase_id")
	}
	if d.DisputerID == "" {
		return ErrMissingField.WithDetail("field", "disputer_id")
	}
	if !d.Type.Valid() {
		return Errorf(ErrorCodeValidationFailed, "unknown dispute type %q", d.Type)
	}
	if strings.TrimSpace(d.Description) == "" {
		return ErrMissingField.WithDetail("field", "description")
	}
	return nil
}

// Dispute is a contested purchase under arbitration
type Dispute struct {
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	ResponseDeadline   time.Time        `json:"response_deadline"`
	ResolutionDeadline time.Time        `json:"resolution_deadline"`
	ExpiresAt          time.Time        `json:"expires_at"`
	LastResponseAt     *time.Time       `json:"last_response_at,omitempty"`
	EscalatedAt        *time.Time       `json:"escalated_at,omitempty"`
	ResolvedAt         *time.Time       `json:"resolved_at,omitempty"`
	ClosedAt           *time.Time       `json:"closed_at,omitempty"`
	ResolutionAmount   *decimal.Decimal `json:"resolution_amount,omitempty"`
	Amount             decimal.Decimal  `json:"amount"`
	FraudIndicators    []FraudIndicator `json:"fraud_indicators"`
	Evidence           []string         `json:"evidence"`
	ID                 string           `json:"id"`
	DisputeNumber      string           `json:"dispute_number"`
	PurchaseID         string           `json:"purchase_id"`
	DisputerID         string           `json:"disputer_id"`
	DisputedAgainstID  string           `json:"disputed_against_id"`
	AssignedAdminID    string           `json:"assigned_admin_id,omitempty"`
	Title              string           `json:"title"`
	Description        string           `json:"description"`
	Resolution         string           `json:"resolution,omitempty"`
	ResolutionNotes    string           `json:"resolution_notes,omitempty"`
	ResolvedBy         string           `json:"resolved_by,omitempty"`
	PendingResolution  string           `json:"pending_resolution,omitempty"`
	Currency           string           `json:"currency"`
	Type               DisputeType      `json:"type"`
	Priority           DisputePriority  `json:"priority"`
	Status             DisputeStatus    `json:"status"`
	ResponseCount      int              `json:"response_count"`
	FlaggedAsFraud     bool             `json:"flagged_as_fraud"`
}

// DisputeEvent is one append-only status history record
type DisputeEvent struct {
	CreatedAt    time.Time     `json:"created_at"`
	EvidenceRefs []string      `json:"evidence_refs"`
	ID           string        `json:"id"`
	DisputeID    string        `json:"dispute_id"`
	ActorID      string        `json:"actor_id"`
	Message      string        `json:"message"`
	Action       DisputeAction `json:"action"`
	FromStatus   DisputeStatus `json:"from_status,omitempty"`
	ToStatus     DisputeStatus `json:"to_status"`
}

// NewDispute opens a dispute against purchase p. The purchase must already
// have passed CheckDisputable; the disputed party is the other side of p.
func NewDispute(id, number string, draft DisputeDraft, p *Purchase, windows DisputeWindows, now time.Time) (*Dispute, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	against, ok := p.CounterParty(draft.DisputerID)
	if !ok {
		return nil, Errorf(ErrorCodeAuthForbidden, "user is not a party to purchase %s", p.OrderNumber)
	}

	title := strings.TrimSpace(draft.Title)
	if title == "" {
		title = string(draft.Type) + " dispute for " + p.OrderNumber
	}

	return &Dispute{
		ID:                 id,
		DisputeNumber:      number,
		PurchaseID:         p.ID,
		DisputerID:         draft.DisputerID,
		DisputedAgainstID:  against,
		Type:               draft.Type,
		Priority:           PriorityFor(draft.Type, p.Amount),
		Status:             DisputeStatusOpen,
		Title:              title,
		Description:        draft.Description,
		Evidence:           append([]string(nil), draft.Evidence...),
		Amount:             p.Amount,
		Currency:           p.Currency,
		FraudIndicators:    []FraudIndicator{},
		ResponseDeadline:   now.Add(windows.Response),
		ResolutionDeadline: now.Add(windows.Resolution),
		ExpiresAt:          now.Add(windows.Expiry),
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// ApplyFraudIndicators records the evaluator output and the derived flag
func (d *Dispute) ApplyFraudIndicators(indicators []FraudIndicator) {
	d.FraudIndicators = append([]FraudIndicator{}, indicators...)
	d.FlaggedAsFraud = IsFlaggedAsFraud(indicators)
}

// IsOpen returns true while the dispute can still receive responses
func (d *Dispute) IsOpen() bool {
	switch d.Status {
	case DisputeStatusOpen, DisputeStatusInvestigating, DisputeStatusWaitingResponse, DisputeStatusEscalated:
		return true
	}
	return false
}

// IsResolvable returns true if an admin may still decide the outcome
func (d *Dispute) IsResolvable() bool {
	return d.IsOpen() || d.Status == DisputeStatusExpired
}

// IsParty reports whether userID is the disputer or the disputed party
func (d *Dispute) IsParty(userID string) bool {
	return userID != "" && (userID == d.DisputerID || userID == d.DisputedAgainstID)
}

// CanRespond reports whether userID may add a response
func (d *Dispute) CanRespond(userID string) bool {
	return d.IsParty(userID) || (d.AssignedAdminID != "" && userID == d.AssignedAdminID)
}

// ResponseOverdue reports an open, unescalated dispute whose response deadline passed
func (d *Dispute) ResponseOverdue(now time.Time) bool {
	return d.IsOpen() && d.Status != DisputeStatusEscalated && now.After(d.ResponseDeadline)
}

// IsExpired reports an open dispute past its hard ceiling
func (d *Dispute) IsExpired(now time.Time) bool {
	return d.IsOpen() && now.After(d.ExpiresAt)
}

func (d *Dispute) event(id, actorID string, action DisputeAction, from DisputeStatus, message string, refs []string, now time.Time) *DisputeEvent {
	if refs == nil {
		refs = []string{}
	}
	return &DisputeEvent{
		ID:           id,
		DisputeID:    d.ID,
		ActorID:      actorID,
		Action:       action,
		FromStatus:   from,
		ToStatus:     d.Status,
		Message:      message,
		EvidenceRefs: refs,
		CreatedAt:    now,
	}
}

// CreatedEvent returns the history record for dispute creation
func (d *Dispute) CreatedEvent(eventID string) *DisputeEvent {
	return d.event(eventID, d.DisputerID, DisputeActionCreated, "", d.Description, d.Evidence, d.CreatedAt)
}

// Assign hands the dispute to adminID, who may then respond like a party.
// An open dispute moves to investigating.
func (d *Dispute) Assign(eventID, actorID, adminID string, now time.Time) (*DisputeEvent, error) {
	if adminID == "" {
		return nil, ErrMissingField.WithDetail("field", "admin_id")
	}
	if !d.IsResolvable() {
		return nil, ErrDisputeClosed.WithDetail("status", string(d.Status))
	}
	if d.IsParty(adminID) {
		return nil, Errorf(ErrorCodeValidationFailed, "a party cannot be assigned to dispute %s", d.DisputeNumber)
	}
	if d.AssignedAdminID == adminID {
		return nil, Errorf(ErrorCodeInvalidState, "dispute %s is already assigned to %s", d.DisputeNumber, adminID)
	}

	from := d.Status
	if d.Status == DisputeStatusOpen {
		d.Status = DisputeStatusInvestigating
	}
	d.AssignedAdminID = adminID
	d.UpdatedAt = now
	return d.event(eventID, actorID, DisputeActionAssigned, from, "assigned to "+adminID, nil, now), nil
}

// ClaimResolution marks a money-moving resolution as in flight. While the
// claim is held the dispute accepts no responses, no withdrawal and no
// different resolution. Claiming again with the same value is allowed so a
// failed refund can be retried.
func (d *Dispute) ClaimResolution(claim string, now time.Time) error {
	if !d.IsResolvable() {
		return ErrDisputeClosed.WithDetail("status", string(d.Status))
	}
	if d.PendingResolution != "" && d.PendingResolution != claim {
		return d.resolutionInProgress()
	}
	d.PendingResolution = claim
	d.UpdatedAt = now
	return nil
}

// ReleaseResolutionClaim clears a claim whose refund was never issued.
// Returns false if claim does not hold it.
func (d *Dispute) ReleaseResolutionClaim(claim string, now time.Time) bool {
	if d.PendingResolution == "" || d.PendingResolution != claim {
		return false
	}
	d.PendingResolution = ""
	d.UpdatedAt = now
	return true
}

func (d *Dispute) resolutionInProgress() error {
	return Errorf(ErrorCodeInvalidState, "dispute %s is being resolved as %s", d.DisputeNumber, d.PendingResolution).
		WithDetail("pending_resolution", d.PendingResolution)
}

// Respond records a response and extends the response deadline from now.
func (d *Dispute) Respond(eventID, actorID, message string, evidence []string, responseWindow time.Duration, now time.Time) (*DisputeEvent, error) {
	if !d.IsOpen() {
		return nil, ErrDisputeClosed.WithDetail("status", string(d.Status))
	}
	if d.PendingResolution != "" {
		return nil, d.resolutionInProgress()
	}
	if !d.CanRespond(actorID) {
		return nil, Errorf(ErrorCodeAuthForbidden, "user may not respond to dispute %s", d.DisputeNumber)
	}
	if strings.TrimSpace(message) == "" && len(evidence) == 0 {
		return nil, ErrMissingField.WithDetail("field", "message")
	}

	from := d.Status
	if d.Status != DisputeStatusEscalated {
		if actorID == d.DisputerID {
			d.Status = DisputeStatusWaitingResponse
		} else {
			d.Status = DisputeStatusInvestigating
		}
	}
	d.Evidence = append(d.Evidence, evidence...)
	d.ResponseCount++
	d.LastResponseAt = &now
	d.ResponseDeadline = now.Add(responseWindow)
	d.UpdatedAt = now

	return d.event(eventID, actorID, DisputeActionResponded, from, message, evidence, now), nil
}

// Escalate raises the dispute for admin attention. Priority is raised to at
// least high and never lowered.
func (d *Dispute) Escalate(eventID, actorID, reason string, now time.Time) (*DisputeEvent, error) {
	if !d.IsOpen() {
		return nil, ErrDisputeClosed.WithDetail("status", string(d.Status))
	}
	if d.Status == DisputeStatusEscalated {
		return nil, Errorf(ErrorCodeInvalidState, "dispute %s is already escalated", d.DisputeNumber)
	}

	from := d.Status
	d.Status = DisputeStatusEscalated
	d.Priority = MaxPriority(d.Priority, DisputePriorityHigh)
	d.EscalatedAt = &now
	d.UpdatedAt = now

	return d.event(eventID, actorID, DisputeActionEscalated, from, reason, nil, now), nil
}

// Resolve records the admin decision and moves the dispute to resolved.
func (d *Dispute) Resolve(eventID, adminID string, r Resolution, notes string, now time.Time) (*DisputeEvent, error) {
	if !d.IsResolvable() {
		return nil, ErrDisputeClosed.WithDetail("status", string(d.Status))
	}

	from := d.Status
	d.Status = DisputeStatusResolved
	d.Resolution = r.Raw()
	if partial, ok := r.(RefundPartial); ok {
		amount := partial.Amount
		d.ResolutionAmount = &amount
	}
	d.ResolutionNotes = notes
	d.ResolvedBy = adminID
	d.ResolvedAt = &now
	d.PendingResolution = ""
	d.UpdatedAt = now

	return d.event(eventID, adminID, DisputeActionResolved, from, notes, nil, now), nil
}

// Withdraw lets the disputer drop an open dispute.
func (d *Dispute) Withdraw(eventID, actorID, reason string, now time.Time) (*DisputeEvent, error) {
	if actorID != d.DisputerID {
		return nil, Errorf(ErrorCodeAuthForbidden, "only the disputer may withdraw dispute %s", d.DisputeNumber)
	}
	if !d.IsOpen() {
		return nil, ErrDisputeClosed.WithDetail("status", string(d.Status))
	}
	if d.PendingResolution != "" {
		return nil, d.resolutionInProgress()
	}

	from := d.Status
	d.Status = DisputeStatusCancelled
	d.UpdatedAt = now
	return d.event(eventID, actorID, DisputeActionWithdrawn, from, reason, nil, now), nil
}

// Close archives a resolved dispute
func (d *Dispute) Close(eventID, adminID string, now time.Time) (*DisputeEvent, error) {
	if d.Status != DisputeStatusResolved {
		return nil, Errorf(ErrorCodeInvalidState, "dispute %s must be resolved before closing", d.DisputeNumber)
	}

	from := d.Status
	d.Status = DisputeStatusClosed
	d.ClosedAt = &now
	d.UpdatedAt = now
	return d.event(eventID, adminID, DisputeActionClosed, from, "", nil, now), nil
}

// Expire moves an open dispute past its ceiling to expired
func (d *Dispute) Expire(eventID string, now time.Time) (*DisputeEvent, error) {
	if !d.IsExpired(now) {
		return nil, Errorf(ErrorCodeInvalidState, "dispute %s has not expired", d.DisputeNumber)
	}

	from := d.Status
	d.Status = DisputeStatusExpired
	d.UpdatedAt = now
	return d.event(eventID, SystemActorID, DisputeActionExpired, from, "", nil, now), nil
}
