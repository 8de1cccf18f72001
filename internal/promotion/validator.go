package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Reason string

const (
	ReasonNone       Reason = ""
	ReasonNotFound   Reason = "not_found"
	ReasonInactive   Reason = "expired_or_inactive"
	ReasonUsageLimit Reason = "usage_limit_reached"
	ReasonMinOrder   Reason = "order_amount_too_low"
)

type Result struct {
	PromotionID int64           `json:"-"`
	Code        string          `json:"code"`
	Valid       bool            `json:"valid"`
	Discount    decimal.Decimal `json:"discount"`
	Reason      Reason          `json:"reason,omitempty"`
	Message     string          `json:"message"`
}

// Evaluate applies the eligibility rules to p for orderAmount at now.
// A nil p means the code does not exist.
func Evaluate(p *Promotion, code string, orderAmount decimal.Decimal, now time.Time) Result {
	code = NormalizeCode(code)
	if p == nil {
		return invalid(code, ReasonNotFound, "promotion code not found")
	}
	if !p.Active || now.Before(p.ValidFrom) || now.After(p.ValidTo) {
		return invalid(code, ReasonInactive, "promotion code is expired or inactive")
	}
	if p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit {
		return invalid(code, ReasonUsageLimit, "promotion code usage limit reached")
	}
	if p.MinOrderAmount != nil && orderAmount.LessThan(*p.MinOrderAmount) {
		return invalid(code, ReasonMinOrder,
			fmt.Sprintf("order amount too low: minimum order amount is %s", p.MinOrderAmount.StringFixed(2)))
	}

	var discount decimal.Decimal
	switch p.Type {
	case DiscountPercentage:
		discount = orderAmount.Mul(p.Value).Div(decimal.NewFromInt(100)).Round(2)
	default:
		discount = p.Value
	}
	if discount.GreaterThan(orderAmount) {
		discount = orderAmount
	}
	if p.MaxDiscount != nil && discount.GreaterThan(*p.MaxDiscount) {
		discount = *p.MaxDiscount
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	return Result{
		PromotionID: p.ID,
		Code:        code,
		Valid:       true,
		Discount:    discount,
		Message:     fmt.Sprintf("promotion %s applied", code),
	}
}

func invalid(code string, reason Reason, msg string) Result {
	return Result{Code: code, Reason: reason, Message: msg, Discount: decimal.Zero}
}

type Store interface {
	FindByCode(ctx context.Context, code string) (*Promotion, error)
}

// Validator looks a code up and evaluates it. It never consumes usage.
type Validator struct {
	store Store
	now   func() time.Time
}

func NewValidator(store Store) *Validator {
	return &Validator{store: store, now: time.Now}
}

func (v *Validator) Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (Result, error) {
	p, err := v.store.FindByCode(ctx, NormalizeCode(code))
	if errors.Is(err, ErrNotFound) {
		p, err = nil, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("lookup promotion %q: %w", code, err)
	}
	return Evaluate(p, code, orderAmount, v.now()), nil
}
