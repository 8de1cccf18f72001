package orders

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Address is copied onto the order at checkout and never follows later
// edits to the customer's address book.
type Address struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

// OrderItem is a snapshot of the variant as it was priced at checkout.
type OrderItem struct {
	ID          int64           `json:"id"`
	VariantID   string          `json:"variant_id"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name"`
	Size        string          `json:"size,omitempty"`
	Color       string          `json:"color,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type Order struct {
	ID               string          `json:"id"`
	OrderNumber      string          `json:"order_number"`
	ExternalID       string          `json:"external_id,omitempty"`
	CustomerID       string          `json:"customer_id,omitempty"`
	GuestEmail       string          `json:"guest_email,omitempty"`
	GuestPhone       string          `json:"guest_phone,omitempty"`
	Items            []OrderItem     `json:"items"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Discount         decimal.Decimal `json:"discount"`
	ShippingFee      decimal.Decimal `json:"shipping_fee"`
	Total            decimal.Decimal `json:"total"`
	Currency         string          `json:"currency"`
	PromotionID      *int64          `json:"promotion_id,omitempty"`
	PromotionCode    string          `json:"promotion_code,omitempty"`
	ShippingZoneID   int64           `json:"shipping_zone_id"`
	ShippingAddress  Address         `json:"shipping_address"`
	Status           Status          `json:"status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PaymentProvider  string          `json:"payment_provider,omitempty"`
	AuthorizationURL string          `json:"-"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

var ErrTotalsMismatch = errors.New("order totals are inconsistent")

// CheckTotals verifies the money invariants before an order is stored:
// every amount is non-negative, line totals add up to the subtotal and
// total = subtotal - discount + shipping fee.
func (o *Order) CheckTotals() error {
	for _, a := range []decimal.Decimal{o.Subtotal, o.Discount, o.ShippingFee, o.Total} {
		if a.IsNegative() {
			return fmt.Errorf("%w: negative amount %s", ErrTotalsMismatch, a)
		}
	}
	sum := decimal.Zero
	for _, it := range o.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %s has quantity %d", ErrTotalsMismatch, it.VariantID, it.Quantity)
		}
		if !it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).Equal(it.LineTotal) {
			return fmt.Errorf("%w: item %s line total %s", ErrTotalsMismatch, it.VariantID, it.LineTotal)
		}
		sum = sum.Add(it.LineTotal)
	}
	if !sum.Equal(o.Subtotal) {
		return fmt.Errorf("%w: items sum to %s, subtotal %s", ErrTotalsMismatch, sum, o.Subtotal)
	}
	if want := o.Subtotal.Sub(o.Discount).Add(o.ShippingFee); !want.Equal(o.Total) {
		return fmt.Errorf("%w: total %s, expected %s", ErrTotalsMismatch, o.Total, want)
	}
	return nil
}

// NewOrderNumber returns ORD-YYYYMMDD-XXXXXXXX. Collisions are possible and
// handled by the repository retrying with a fresh number.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

// StatusView is the cached answer to "where is my order".
type StatusView struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	Status        Status          `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	Total         decimal.Decimal `json:"total"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (o *Order) View() StatusView {
	return StatusView{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Total:         o.Total,
		UpdatedAt:     o.UpdatedAt,
	}
}
