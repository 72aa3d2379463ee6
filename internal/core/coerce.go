package core

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

var maxQuantity = decimal.NewFromInt(math.MaxInt64)

// coerceQuantity turns a loosely typed line quantity into a positive whole number.
func coerceQuantity(name string, v any) (int64, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return 0, validationf("quantity for item %q is not a number", name)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, validationf("quantity is required for item %q", name)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, validationf("quantity for item %q is not a number: %q", name, s)
	}
	if !d.IsInteger() {
		return 0, validationf("quantity for item %q must be a whole number, got %s", name, d)
	}
	if !d.IsPositive() {
		return 0, validationf("quantity for item %q must be positive, got %s", name, d)
	}
	if d.GreaterThan(maxQuantity) {
		return 0, numericf("quantity for item %q is out of range", name)
	}
	return d.IntPart(), nil
}

// coercePrice turns a loosely typed unit price into a decimal. A missing price is zero.
func coercePrice(name string, v any) (decimal.Decimal, error) {
	if v == nil {
		return decimal.Zero, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return decimal.Zero, validationf("price for item %q is not a number", name)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, validationf("price for item %q is not a number: %q", name, s)
	}
	if d.IsNegative() {
		return decimal.Zero, validationf("price for item %q cannot be negative, got %s", name, d)
	}
	return d, nil
}
