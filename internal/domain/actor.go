package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// SystemActorID identifies sweeps and other unattended operations
const SystemActorID = "system"

// Capability constants
const (
	CapabilityDisputesResolve  = "disputes:resolve"
	CapabilityPurchasesRefund  = "purchases:refund"
	CapabilityPurchasesConfirm = "purchases:confirm"
	CapabilityDeliveryReport   = "delivery:report"
	CapabilityEscrowSweep      = "escrow:sweep"
	CapabilityAll              = "*"
)

// TokenClaims represents the JWT claims that identify an actor
type TokenClaims struct {
	jwt.RegisteredClaims

	// Capabilities granted to the caller, e.g. ["disputes:resolve"]
	Scopes []string `json:"scopes"`
}

// Actor is the authenticated caller of an operation
type Actor struct {
	UserID string
	Scopes []string
}

// ActorFromClaims builds an actor from verified token claims
func ActorFromClaims(c *TokenClaims) Actor {
	return Actor{UserID: c.Subject, Scopes: append([]string(nil), c.Scopes...)}
}

// SystemActor returns the actor used by scheduled sweeps
func SystemActor() Actor {
	return Actor{UserID: SystemActorID, Scopes: []string{CapabilityAll}}
}

// Can checks if the actor holds a capability
func (a Actor) Can(capability string) bool {
	for _, s := range a.Scopes {
		if s == capability || s == CapabilityAll {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor may arbitrate disputes
func (a Actor) IsAdmin() bool {
	return a.Can(CapabilityDisputesResolve)
}

// Require returns ErrAuthForbidden unless the actor holds capability
func (a Actor) Require(capability string) error {
	if a.UserID == "" {
		return ErrAuthMissing
	}
	if !a.Can(capability) {
		return ErrAuthForbidden.WithDetail("capability", capability)
	}
	return nil
}
