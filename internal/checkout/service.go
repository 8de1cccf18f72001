// Package checkout turns a cart into a priced PENDING order.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/ariefcatur/go-checkout-payments/internal/apperr"
	"github.com/ariefcatur/go-checkout-payments/internal/catalog"
	kafkax "github.com/ariefcatur/go-checkout-payments/internal/kafka"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/ariefcatur/go-checkout-payments/internal/pricing"
	"github.com/ariefcatur/go-checkout-payments/internal/promotion"
	"github.com/ariefcatur/go-checkout-payments/internal/telemetry"
)

type Item struct {
	VariantID string `json:"variant_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0,lte=1000"`
}

type Request struct {
	ExternalID      string         `json:"external_id" validate:"omitempty,max=128"`
	CustomerID      string         `json:"customer_id" validate:"omitempty,max=64"`
	GuestEmail      string         `json:"guest_email" validate:"omitempty,email"`
	GuestPhone      string         `json:"guest_phone" validate:"omitempty,max=32"`
	Items           []Item         `json:"items" validate:"required,min=1,dive"`
	PromotionCode   string         `json:"promotion_code" validate:"omitempty,max=64"`
	ShippingAddress orders.Address `json:"shipping_address"`
}

type Catalog interface {
	Variants(ctx context.Context, ids []string) (map[string]catalog.Variant, error)
}

type Pricer interface {
	Quote(ctx context.Context, in pricing.Input) (pricing.Quote, error)
}

type OrderStore interface {
	Create(ctx context.Context, o *orders.Order) (*orders.Order, bool, error)
	Get(ctx context.Context, id string) (*orders.Order, error)
}

type Idempotency interface {
	Lookup(ctx context.Context, externalID string) (string, bool, error)
	Remember(ctx context.Context, externalID, orderID string) error
}

type StatusCache interface {
	Put(ctx context.Context, orderID string, v any) error
}

type Service struct {
	Catalog     Catalog
	Pricer      Pricer
	Orders      OrderStore
	Idem        Idempotency      // optional
	Cache       StatusCache      // optional
	Producer    kafkax.Publisher // optional
	Currency    string
	ServiceName string
	Log         *slog.Logger
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

type Placed struct {
	Order     *orders.Order     `json:"order"`
	Existed   bool              `json:"idempotent"`
	Promotion *promotion.Result `json:"promotion,omitempty"`
}

// Quote prices the cart without writing anything.
func (s *Service) Quote(ctx context.Context, req Request) (pricing.Quote, error) {
	q, _, err := s.quote(ctx, req)
	return q, err
}

func (s *Service) quote(ctx context.Context, req Request) (pricing.Quote, map[string]catalog.Variant, error) {
	items := mergeItems(req.Items)
	if len(items) == 0 {
		return pricing.Quote{}, nil, apperr.Validation("empty_cart", "cart has no items")
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return pricing.Quote{}, nil, apperr.Validation("invalid_quantity", "quantity for "+it.VariantID+" must be positive")
		}
		ids = append(ids, it.VariantID)
	}

	variants, err := s.Catalog.Variants(ctx, ids)
	if errors.Is(err, catalog.ErrUnknownVariant) {
		return pricing.Quote{}, nil, apperr.Wrap(apperr.KindValidation, "unknown_variant", err.Error(), err)
	}
	if err != nil {
		return pricing.Quote{}, nil, err
	}

	lines := make([]pricing.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, pricing.Line{
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: variants[it.VariantID].UnitPrice(),
		})
	}
	q, err := s.Pricer.Quote(ctx, pricing.Input{
		Lines:         lines,
		PromotionCode: req.PromotionCode,
		Region:        req.ShippingAddress.Region,
	})
	return q, variants, err
}

// PlaceOrder prices the cart and stores it as a PENDING order. With an
// external id the call is idempotent: a repeat returns the first order.
// A rejected promotion code does not stop checkout; the order is placed at
// full price and the result explains why.
func (s *Service) PlaceOrder(ctx context.Context, req Request) (Placed, error) {
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	if req.ExternalID != "" && s.Idem != nil {
		if id, ok, err := s.Idem.Lookup(ctx, req.ExternalID); err == nil && ok {
			if o, err := s.Orders.Get(ctx, id); err == nil {
				return Placed{Order: o, Existed: true}, nil
			}
		}
	}
	if err := validateContact(req); err != nil {
		return Placed{}, err
	}

	q, variants, err := s.quote(ctx, req)
	if err != nil {
		return Placed{}, err
	}

	o := &orders.Order{
		ExternalID:      req.ExternalID,
		CustomerID:      strings.TrimSpace(req.CustomerID),
		GuestEmail:      strings.TrimSpace(req.GuestEmail),
		GuestPhone:      strings.TrimSpace(req.GuestPhone),
		Subtotal:        q.Subtotal,
		Discount:        q.Discount,
		ShippingFee:     q.ShippingFee,
		Total:           q.Total,
		Currency:        s.Currency,
		ShippingZoneID:  q.ZoneID,
		ShippingAddress: req.ShippingAddress,
	}
	if p := q.Promotion; p != nil && p.Valid && q.Discount.IsPositive() {
		id := p.PromotionID
		o.PromotionID = &id
		o.PromotionCode = p.Code
	}
	for _, l := range q.Lines {
		v := variants[l.VariantID]
		o.Items = append(o.Items, orders.OrderItem{
			VariantID:   l.VariantID,
			ProductName: v.ProductName,
			VariantName: v.Name,
			Size:        v.Size,
			Color:       v.Color,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
			LineTotal:   l.LineTotal,
		})
	}

	stored, existed, err := s.Orders.Create(ctx, o)
	if err != nil {
		return Placed{}, err
	}
	log := s.log().With("order_id", stored.ID, "order_number", stored.OrderNumber)

	if req.ExternalID != "" && s.Idem != nil {
		if err := s.Idem.Remember(ctx, req.ExternalID, stored.ID); err != nil {
			log.WarnContext(ctx, "idempotency key not cached", "error", err)
		}
	}
	if existed {
		log.InfoContext(ctx, "checkout replayed", "external_id", req.ExternalID)
		return Placed{Order: stored, Existed: true}, nil
	}

	if s.Cache != nil {
		if err := s.Cache.Put(ctx, stored.ID, stored.View()); err != nil {
			log.WarnContext(ctx, "status cache update failed", "error", err)
		}
	}
	s.publishCreated(ctx, stored)
	log.InfoContext(ctx, "order placed", "total", stored.Total.String(), "promotion", stored.PromotionCode)
	return Placed{Order: stored, Promotion: q.Promotion}, nil
}

func (s *Service) publishCreated(ctx context.Context, o *orders.Order) {
	if s.Producer == nil {
		return
	}
	env, err := orders.NewEnvelope(orders.EventOrderCreated, s.ServiceName, o.ID, telemetry.TraceID(ctx), orders.OrderCreated(o))
	if err != nil {
		s.log().ErrorContext(ctx, "encode event", "error", err)
		return
	}
	s.Producer.Publish(orders.TopicOrderCreated, orders.PartitionKey(o.ID), kafkax.MustMarshal(env),
		kafkax.EventHeaders(orders.EventOrderCreated, env.EventVersion)...)
}

func validateContact(req Request) error {
	if strings.TrimSpace(req.CustomerID) == "" &&
		strings.TrimSpace(req.GuestEmail) == "" && strings.TrimSpace(req.GuestPhone) == "" {
		return apperr.Validation("contact_required", "a customer id or a guest email or phone is required")
	}
	a := req.ShippingAddress
	if strings.TrimSpace(a.Line1) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.Region) == "" {
		return apperr.Validation("address_incomplete", "shipping address needs a street line, city and region")
	}
	return nil
}

// mergeItems folds repeated variants into one line, ordered by variant id.
func mergeItems(items []Item) []Item {
	byID := map[string]int{}
	for _, it := range items {
		id := strings.TrimSpace(it.VariantID)
		if id == "" {
			continue
		}
		byID[id] += it.Quantity
	}
	out := make([]Item, 0, len(byID))
	for id, qty := range byID {
		out = append(out, Item{VariantID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out
}
