package domain

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func TestActor_Can(t *testing.T) {
	tests := []struct {
		name       string
		scopes     []string
		capability string
		expected   bool
	}{
		{name: "exact_match", scopes: []string{CapabilityDisputesResolve}, capability: CapabilityDisputesResolve, expected: true},
		{name: "wildcard", scopes: []string{CapabilityAll}, capability: CapabilityPurchasesRefund, expected: true},
		{name: "missing", scopes: []string{CapabilityDeliveryReport}, capability: CapabilityDisputesResolve, expected: false},
		{name: "no_scopes", scopes: nil, capability: CapabilityDisputesResolve, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Actor{UserID: "u-1", Scopes: tt.scopes}
			assert.Equal(t, tt.expected, a.Can(tt.capability))
		})
	}
}

func TestActor_Require(t *testing.T) {
	assert.ErrorIs(t, Actor{}.Require(CapabilityDisputesResolve), ErrAuthMissing)
	assert.ErrorIs(t, Actor{UserID: "u-1"}.Require(CapabilityDisputesResolve), ErrAuthForbidden)
	assert.NoError(t, SystemActor().Require(CapabilityEscrowSweep))
}

func TestActorFromClaims(t *testing.T) {
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-7"},
		Scopes:           []string{CapabilityDisputesResolve},
	}
	a := ActorFromClaims(claims)
	assert.Equal(t, "admin-7", a.UserID)
	assert.True(t, a.IsAdmin())
}
