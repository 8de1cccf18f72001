// Package pricing turns priced cart lines, a promotion code and a
// destination region into order totals.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-payments/internal/apperr"
	"github.com/ariefcatur/go-checkout-payments/internal/promotion"
	"github.com/ariefcatur/go-checkout-payments/internal/shipping"
)

type Line struct {
	VariantID string
	Quantity  int
	UnitPrice decimal.Decimal
}

type LineQuote struct {
	VariantID string          `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Quote struct {
	Lines       []LineQuote       `json:"lines"`
	Subtotal    decimal.Decimal   `json:"subtotal"`
	Discount    decimal.Decimal   `json:"discount"`
	ShippingFee decimal.Decimal   `json:"shipping_fee"`
	Total       decimal.Decimal   `json:"total"`
	Promotion   *promotion.Result `json:"promotion,omitempty"`
	ZoneID      int64             `json:"shipping_zone_id"`
	ZoneName    string            `json:"shipping_zone"`
}

// Price computes the totals for lines. promo may be nil; an invalid result
// contributes no discount. The discount is trimmed so Total never goes
// below zero and Total = Subtotal - Discount + ShippingFee always holds.
func Price(lines []Line, promo *promotion.Result, zone shipping.Zone) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, apperr.Validation("empty_cart", "cart has no items")
	}
	q := Quote{
		Lines:       make([]LineQuote, 0, len(lines)),
		Subtotal:    decimal.Zero,
		Discount:    decimal.Zero,
		ShippingFee: zone.Fee,
		Promotion:   promo,
		ZoneID:      zone.ID,
		ZoneName:    zone.Name,
	}
	if q.ShippingFee.IsNegative() {
		return Quote{}, apperr.Validation("invalid_shipping_fee", "shipping fee is negative")
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Quote{}, apperr.Validation("invalid_quantity",
				fmt.Sprintf("quantity for %s must be positive", l.VariantID))
		}
		if l.UnitPrice.IsNegative() {
			return Quote{}, apperr.Validation("invalid_price",
				fmt.Sprintf("price for %s is negative", l.VariantID))
		}
		lt := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		q.Lines = append(q.Lines, LineQuote{
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: lt,
		})
		q.Subtotal = q.Subtotal.Add(lt)
	}

	if promo != nil && promo.Valid && promo.Discount.IsPositive() {
		q.Discount = promo.Discount
	}
	if ceiling := q.Subtotal.Add(q.ShippingFee); q.Discount.GreaterThan(ceiling) {
		q.Discount = ceiling
	}
	q.Total = q.Subtotal.Sub(q.Discount).Add(q.ShippingFee)
	return q, nil
}

type PromotionValidator interface {
	Validate(ctx context.Context, code string, orderAmount decimal.Decimal) (promotion.Result, error)
}

type ZoneResolver interface {
	Resolve(ctx context.Context, region string) (shipping.Zone, error)
}

type Input struct {
	Lines         []Line
	PromotionCode string
	Region        string
}

// Engine resolves the shipping zone and promotion for an input and prices
// it. It performs reads only, so quoting can be repeated freely.
type Engine struct {
	Promotions PromotionValidator
	Zones      ZoneResolver
}

func (e *Engine) Quote(ctx context.Context, in Input) (Quote, error) {
	zone, err := e.Zones.Resolve(ctx, in.Region)
	if errors.Is(err, shipping.ErrNoZone) {
		return Quote{}, apperr.Wrap(apperr.KindValidation, "shipping_region_unresolvable",
			fmt.Sprintf("no shipping available to %q", strings.TrimSpace(in.Region)), err)
	}
	if err != nil {
		return Quote{}, apperr.Wrap(apperr.KindUnavailable, "shipping_lookup_failed", "could not resolve shipping", err)
	}

	// Price once without the promotion to learn the subtotal the code is
	// validated against.
	base, err := Price(in.Lines, nil, zone)
	if err != nil {
		return Quote{}, err
	}
	if strings.TrimSpace(in.PromotionCode) == "" {
		return base, nil
	}

	res, err := e.Promotions.Validate(ctx, in.PromotionCode, base.Subtotal)
	if err != nil {
		return Quote{}, apperr.Wrap(apperr.KindUnavailable, "promotion_lookup_failed", "could not check promotion code", err)
	}
	return Price(in.Lines, &res, zone)
}
