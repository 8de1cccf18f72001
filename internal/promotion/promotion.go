package promotion

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage  DiscountType = "PERCENTAGE"
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
)

var ErrNotFound = errors.New("promotion not found")

// Promotion is a discount code. UsageCount only moves when a paid order
// consumes the code, never at validation time.
type Promotion struct {
	ID             int64
	Code           string
	Type           DiscountType
	Value          decimal.Decimal
	MinOrderAmount *decimal.Decimal
	MaxDiscount    *decimal.Decimal
	UsageLimit     *int
	UsageCount     int
	ValidFrom      time.Time
	ValidTo        time.Time
	Active         bool
}

// NormalizeCode is the lookup key for a code: trimmed and upper-cased.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
