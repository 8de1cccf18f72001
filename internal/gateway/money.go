package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ToMinor converts a major-unit amount into the provider's integer minor
// unit. It refuses amounts that do not convert exactly.
func ToMinor(amount decimal.Decimal, factor int64) (int64, error) {
	if factor <= 0 {
		return 0, fmt.Errorf("invalid minor unit factor %d", factor)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	m := amount.Mul(decimal.NewFromInt(factor))
	if !m.Equal(m.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more precision than the minor unit allows", amount)
	}
	return m.IntPart(), nil
}

func FromMinor(minor, factor int64) decimal.Decimal {
	if factor <= 0 {
		factor = 1
	}
	return decimal.New(minor, 0).Div(decimal.NewFromInt(factor))
}
