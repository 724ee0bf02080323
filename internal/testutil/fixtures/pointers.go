// Package fixtures provides test data builders and helpers.
package fixtures

import (
	"time"

	"github.com/shopspring/decimal"
)

// StringPtr returns a pointer to the given string.
func StringPtr(s string) *string {
	return &s
}

// TimePtr returns a pointer to the given time.Time.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// Money parses a decimal literal, panicking on malformed input.
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// MoneyPtr returns a pointer to the parsed decimal.
func MoneyPtr(s string) *decimal.Decimal {
	d := Money(s)
	return &d
}
