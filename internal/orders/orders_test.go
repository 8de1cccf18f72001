package orders

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleOrder() *Order {
	return &Order{
		Items: []OrderItem{
			{VariantID: "a", UnitPrice: dec("25000"), Quantity: 2, LineTotal: dec("50000")},
			{VariantID: "b", UnitPrice: dec("18000"), Quantity: 1, LineTotal: dec("18000")},
		},
		Subtotal:    dec("68000"),
		Discount:    dec("15000"),
		ShippingFee: dec("0"),
		Total:       dec("53000"),
	}
}

func TestCheckTotals(t *testing.T) {
	if err := sampleOrder().CheckTotals(); err != nil {
		t.Fatalf("Expected consistent order, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(o *Order)
	}{
		{"wrong total", func(o *Order) { o.Total = dec("53001") }},
		{"negative discount", func(o *Order) { o.Discount = dec("-1"); o.Total = dec("68001") }},
		{"items do not sum", func(o *Order) { o.Items = o.Items[:1] }},
		{"bad line total", func(o *Order) { o.Items[0].LineTotal = dec("49999") }},
		{"zero quantity", func(o *Order) { o.Items[1].Quantity = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := sampleOrder()
			tt.mutate(o)
			if err := o.CheckTotals(); !errors.Is(err, ErrTotalsMismatch) {
				t.Errorf("Expected ErrTotalsMismatch, got %v", err)
			}
		})
	}
}

func TestNewOrderNumber(t *testing.T) {
	day := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	re := regexp.MustCompile(`^ORD-20260310-[0-9A-F]{8}$`)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		n := NewOrderNumber(day)
		if !re.MatchString(n) {
			t.Fatalf("Unexpected order number format %q", n)
		}
		seen[n] = true
	}
	if len(seen) < 45 {
		t.Errorf("Expected mostly distinct numbers, got %d of 50", len(seen))
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusConfirmed, StatusProcessing, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusPending, StatusCancelled, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusShipped, StatusCancelled, false},
		{StatusDelivered, StatusPending, false},
		{StatusConfirmed, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusPending, StatusShipped, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPaymentStatusTerminal(t *testing.T) {
	if PaymentPending.Terminal() {
		t.Error("PENDING must not be terminal")
	}
	if !PaymentPaid.Terminal() || !PaymentFailed.Terminal() {
		t.Error("PAID and FAILED must be terminal")
	}
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(EventPaymentConfirmed, "checkout-api", "order-1", "req-1",
		PaymentPayload{OrderID: "order-1", Reference: "R1", Status: "success", Amount: dec("53000")})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if env.EventID == "" || env.EventVersion != 1 || env.CorrelationID != "order-1" {
		t.Errorf("Unexpected envelope %+v", env)
	}
}
