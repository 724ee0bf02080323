package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingVisitor struct {
	visited []ResolutionKind
	partial decimal.Decimal
	raw     string
}

func (v *recordingVisitor) VisitRefundFull(RefundFull) error {
	v.visited = append(v.visited, ResolutionRefundFull)
	return nil
}

func (v *recordingVisitor) VisitRefundPartial(r RefundPartial) error {
	v.visited = append(v.visited, ResolutionRefundPartial)
	v.partial = r.Amount
	return nil
}

func (v *recordingVisitor) VisitSellerFavor(SellerFavor) error {
	v.visited = append(v.visited, ResolutionSellerFavor)
	return nil
}

func (v *recordingVisitor) VisitBuyerFavor(BuyerFavor) error {
	v.visited = append(v.visited, ResolutionBuyerFavor)
	return nil
}

func (v *recordingVisitor) VisitNoAction(NoAction) error {
	v.visited = append(v.visited, ResolutionNoAction)
	return nil
}

func (v *recordingVisitor) VisitUnrecognized(r Unrecognized) error {
	v.visited = append(v.visited, ResolutionUnrecognized)
	v.raw = r.Value
	return nil
}

func TestParseResolution(t *testing.T) {
	amount := decimal.RequireFromString("40.00")

	tests := []struct {
		name   string
		raw    string
		amount *decimal.Decimal
		kind   ResolutionKind
		moves  bool
	}{
		{name: "refund_full", raw: "refund_full", kind: ResolutionRefundFull, moves: true},
		{name: "refund_partial", raw: "refund_partial", amount: &amount, kind: ResolutionRefundPartial, moves: true},
		{name: "seller_favor", raw: "seller_favor", kind: ResolutionSellerFavor, moves: true},
		{name: "buyer_favor_case_insensitive", raw: " Buyer_Favor ", kind: ResolutionBuyerFavor, moves: true},
		{name: "no_action", raw: "no_action", kind: ResolutionNoAction, moves: false},
		{name: "typo_is_inert", raw: "refund_ful", kind: ResolutionUnrecognized, moves: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseResolution(tt.raw, tt.amount, false)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, r.Kind())
			assert.Equal(t, tt.moves, MovesMoney(r))

			v := &recordingVisitor{}
			require.NoError(t, r.Accept(v))
			assert.Equal(t, []ResolutionKind{tt.kind}, v.visited)
		})
	}
}

func TestParseResolution_PartialNeedsAmount(t *testing.T) {
	_, err := ParseResolution("refund_partial", nil, false)
	assert.ErrorIs(t, err, ErrMissingField)

	zero := decimal.Zero
	_, err = ParseResolution("refund_partial", &zero, false)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParseResolution_Strict(t *testing.T) {
	_, err := ParseResolution("refund_ful", nil, true)
	assert.True(t, IsValidationError(err))

	r, err := ParseResolution("seller_favor", nil, true)
	require.NoError(t, err)
	assert.Equal(t, ResolutionSellerFavor, r.Kind())
}

func TestUnrecognized_KeepsRawValue(t *testing.T) {
	r, err := ParseResolution("split_the_difference", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "split_the_difference", r.Raw())

	v := &recordingVisitor{}
	require.NoError(t, r.Accept(v))
	assert.Equal(t, "split_the_difference", v.raw)
}
