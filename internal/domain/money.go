package domain

import (
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places carried by every money field.
const MoneyScale int32 = 2

// ValidateAmount rejects non-positive amounts and amounts with sub-cent precision.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount.WithDetail("amount", amount.String())
	}
	if !amount.Equal(amount.Round(MoneyScale)) {
		return Errorf(ErrorCodeValidationAmountInvalid, "amount %s has more than %d decimal places", amount, MoneyScale)
	}
	return nil
}

// ValidateCommissionRate requires a rate in [0, 1].
func ValidateCommissionRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return Errorf(ErrorCodeValidationFailed, "commission rate %s must be between 0 and 1", rate)
	}
	return nil
}

// SplitCommission divides a sale price into platform commission and seller
// share. The commission is rounded to the cent and the seller receives the
// remainder, so commission + seller == price exactly.
func SplitCommission(price, rate decimal.Decimal) (commission, seller decimal.Decimal, err error) {
	if err := ValidateAmount(price); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if err := ValidateCommissionRate(rate); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	commission = price.Mul(rate).Round(MoneyScale)
	seller = price.Sub(commission)
	return commission, seller, nil
}
