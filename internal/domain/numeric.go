package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ParsePrice parses a positive decimal price from its string form.
// Returns an error for unparseable or non-positive values.
func ParsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q", s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("price must be greater than 0")
	}
	return d, nil
}

// ParseQuantity parses a positive decimal quantity from its string form.
func ParseQuantity(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid quantity %q", s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("quantity must be greater than 0")
	}
	return d, nil
}

// IsMultipleOf reports whether value is an exact multiple of step.
// A zero step accepts any value.
func IsMultipleOf(value, step decimal.Decimal) bool {
	if step.IsZero() {
		return true
	}
	return value.Mod(step).IsZero()
}
