package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ToTicks converts a decimal price into integer ticks of size tick.
// Prices that are not an exact multiple of tick are rejected instead of rounded.
func ToTicks(price, tick decimal.Decimal) (int64, error) {
	if !tick.IsPositive() {
		return 0, fmt.Errorf("tick size must be positive, got %s", tick)
	}
	q := price.Div(tick)
	if !q.IsInteger() {
		return 0, fmt.Errorf("price %s is not a multiple of tick %s", price, tick)
	}
	if q.GreaterThan(decimal.NewFromInt(1<<62)) || q.LessThan(decimal.NewFromInt(-(1 << 62))) {
		return 0, fmt.Errorf("price %s out of range for tick %s", price, tick)
	}
	return q.IntPart(), nil
}

// FromTicks converts ticks back to a decimal price.
func FromTicks(ticks int64, tick decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(ticks).Mul(tick)
}
